// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package jobset renders the JobSet that runs a training workload's workers.
package jobset

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"train-toolkit/pkg/shell"

	"golang.org/x/exp/slices"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/validation"
)

// JobSetTemplate is the Go template for generating a Kubernetes JobSet manifest.
const JobSetTemplate = `apiVersion: jobset.x-k8s.io/v1alpha2
kind: JobSet
metadata:
  name: {{.WorkloadName}}
  labels:
    gtrain.dev/workload: {{.WorkloadName}}
    gtrain.dev/strategy: {{.Strategy}}
    kueue.x-k8s.io/queue-name: {{.KueueQueueName}}
spec:
  ttlSecondsAfterFinished: {{.TtlSecondsAfterFinished}}
  failurePolicy:
    maxRestarts: {{.MaxRestarts}}
  replicatedJobs:
    - name: workers
      replicas: {{.NumSlices}}
      template:
        spec:
          parallelism: {{.VmsPerSlice}}
          completions: {{.VmsPerSlice}}
          backoffLimit: 0
          template:
            metadata:
              labels:
                gtrain.dev/workload: {{.WorkloadName}}
            spec:
              restartPolicy: Never
              containers:
              - name: trainer
                image: {{.FullImageName}}
                command: ["/bin/bash", "-c", {{printf "%q" .CommandToRun}}]
{{- if .Env }}
                env:
{{- range .Env }}
                - name: {{.Name}}
                  value: {{printf "%q" .Value}}
{{- end }}
{{- end }}
                resources:
                  limits:
{{- range .Limits }}
                    {{.Name}}: {{printf "%q" .Value}}
{{- end }}
                volumeMounts:
                - name: scratch
                  mountPath: /mnt/data
              volumes:
              - name: scratch
                emptyDir: {}
{{- if .AcceleratorTypeLabel }}
              nodeSelector:
                cloud.google.com/gke-accelerator: {{.AcceleratorTypeLabel}}
{{- end }}
`

// Defaults applied to zero-valued ManifestOptions fields.
const (
	DefaultQueueName               = "default-queue"
	DefaultMaxRestarts             = 1
	DefaultTtlSecondsAfterFinished = 3600
)

// ResourceTPU is the extended resource name GKE uses for TPU chips.
const ResourceTPU corev1.ResourceName = "google.com/tpu"

// ResourceGPU is the extended resource name for NVIDIA GPUs.
const ResourceGPU corev1.ResourceName = "nvidia.com/gpu"

// ManifestOptions holds parameters for JobSet generation.
type ManifestOptions struct {
	WorkloadName            string
	FullImageName           string
	CommandToRun            string
	AcceleratorType         string
	DevicesPerHost          int
	Strategy                string
	KueueQueueName          string
	NumSlices               int
	VmsPerSlice             int
	MaxRestarts             int
	TtlSecondsAfterFinished int
	// Env is passed to every worker container.
	Env map[string]string
}

type namedValue struct {
	Name  string
	Value string
}

// NodeSelectorLabel returns the GKE accelerator node label for acceleratorType.
func NodeSelectorLabel(acceleratorType string) string {
	return acceleratorType
}

// ResourceLimits returns the per-worker limits for an accelerator with the
// given number of devices per host.
func ResourceLimits(acceleratorType string, devicesPerHost int) (corev1.ResourceList, error) {
	if devicesPerHost < 1 {
		devicesPerHost = 1
	}
	devices := resource.NewQuantity(int64(devicesPerHost), resource.DecimalSI)

	scaled := func(per string) resource.Quantity {
		q := resource.MustParse(per)
		q.Mul(int64(devicesPerHost))
		return q
	}

	switch {
	case strings.HasPrefix(acceleratorType, "nvidia-"):
		return corev1.ResourceList{
			ResourceGPU:           *devices,
			corev1.ResourceCPU:    scaled("8"),
			corev1.ResourceMemory: scaled("64Gi"),
		}, nil
	case strings.HasPrefix(acceleratorType, "tpu-"):
		return corev1.ResourceList{
			ResourceTPU:           *devices,
			corev1.ResourceCPU:    resource.MustParse("16"),
			corev1.ResourceMemory: resource.MustParse("128Gi"),
		}, nil
	case acceleratorType == "":
		return corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse("500m"),
			corev1.ResourceMemory: resource.MustParse("512Mi"),
		}, nil
	}
	return nil, fmt.Errorf("unsupported accelerator type %q", acceleratorType)
}

// GenerateManifest renders the JobSet manifest.
func GenerateManifest(opts ManifestOptions) (string, error) {
	workloadName := opts.WorkloadName
	if workloadName == "" {
		workloadName = "gtrain-workload-" + shell.RandomString(8)
	}
	if errs := validation.IsDNS1123Label(workloadName); len(errs) > 0 {
		return "", fmt.Errorf("invalid workload name %q: %s", workloadName, strings.Join(errs, "; "))
	}
	if opts.FullImageName == "" {
		return "", fmt.Errorf("an image is required to render the JobSet")
	}
	for _, c := range []struct {
		flag  string
		value int
	}{
		{"num-slices", opts.NumSlices},
		{"vms-per-slice", opts.VmsPerSlice},
		{"max-restarts", opts.MaxRestarts},
		{"ttl-seconds-after-finished", opts.TtlSecondsAfterFinished},
	} {
		if c.value < 0 {
			return "", fmt.Errorf("%s must not be negative, got %d", c.flag, c.value)
		}
	}

	kueueQueueName := opts.KueueQueueName
	if kueueQueueName == "" {
		kueueQueueName = DefaultQueueName
	}
	numSlices := max(opts.NumSlices, 1)
	vmsPerSlice := max(opts.VmsPerSlice, 1)
	maxRestarts := opts.MaxRestarts
	if maxRestarts == 0 {
		maxRestarts = DefaultMaxRestarts
	}
	ttlSecondsAfterFinished := opts.TtlSecondsAfterFinished
	if ttlSecondsAfterFinished == 0 {
		ttlSecondsAfterFinished = DefaultTtlSecondsAfterFinished
	}

	limits, err := ResourceLimits(opts.AcceleratorType, opts.DevicesPerHost)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New("jobSet").Parse(JobSetTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse jobset template: %w", err)
	}

	data := struct {
		WorkloadName            string
		Strategy                string
		KueueQueueName          string
		TtlSecondsAfterFinished int
		MaxRestarts             int
		NumSlices               int
		VmsPerSlice             int
		FullImageName           string
		CommandToRun            string
		AcceleratorTypeLabel    string
		Env                     []namedValue
		Limits                  []namedValue
	}{
		WorkloadName:            workloadName,
		Strategy:                opts.Strategy,
		KueueQueueName:          kueueQueueName,
		TtlSecondsAfterFinished: ttlSecondsAfterFinished,
		MaxRestarts:             maxRestarts,
		NumSlices:               numSlices,
		VmsPerSlice:             vmsPerSlice,
		FullImageName:           opts.FullImageName,
		CommandToRun:            opts.CommandToRun,
		AcceleratorTypeLabel:    NodeSelectorLabel(opts.AcceleratorType),
		Env:                     sortedEnv(opts.Env),
		Limits:                  sortedLimits(limits),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute jobset template: %w", err)
	}
	return buf.String(), nil
}

func byName(a, b namedValue) int {
	return strings.Compare(a.Name, b.Name)
}

func sortedEnv(env map[string]string) []namedValue {
	out := make([]namedValue, 0, len(env))
	for k, v := range env {
		out = append(out, namedValue{Name: k, Value: v})
	}
	slices.SortFunc(out, byName)
	return out
}

func sortedLimits(limits corev1.ResourceList) []namedValue {
	out := make([]namedValue, 0, len(limits))
	for name, q := range limits {
		out = append(out, namedValue{Name: string(name), Value: q.String()})
	}
	slices.SortFunc(out, byName)
	return out
}
