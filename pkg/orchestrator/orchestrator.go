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

package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"train-toolkit/pkg/dataloader"

	"k8s.io/apimachinery/pkg/util/validation"
)

// Image builders accepted in JobDefinition.Builder.
const (
	BuilderCrane      = "crane"
	BuilderCloudBuild = "cloudbuild"
)

// Apply modes accepted in JobDefinition.ApplyMode.
const (
	ApplyKubectl = "kubectl"
	ApplyAPI     = "api"
)

// JobDefinition holds all the necessary parameters to define a job.
// This struct is intended to be general enough to support various orchestrators,
// with specific orchestrator implementations extracting the fields relevant to them.
type JobDefinition struct {
	DockerImage     string
	BaseDockerImage string
	BuildContext    string
	Dockerfile      string
	Builder         string
	Platform        string
	CommandToRun    string
	AcceleratorType string
	DevicesPerHost  int
	OutputManifest  string
	ProjectID       string
	ClusterName     string
	ClusterLocation string
	ApplyMode       string

	// Strategy is the distributed strategy the training script runs under.
	Strategy string
	Debug    bool
	// Dataloaders are the script's dataloaders, checked against Strategy
	// before anything is built or submitted.
	Dataloaders dataloader.Spec
	// LogDir, when set, receives a JSON-lines record of the submission.
	LogDir string

	// JobSet and Kueue related options
	WorkloadName            string
	KueueQueueName          string
	NumSlices               int
	VmsPerSlice             int
	MaxRestarts             int
	TtlSecondsAfterFinished int
}

// Validate rejects definitions that no orchestrator can run: negative counts
// and workload names that are not DNS-1123 labels. An empty workload name is
// accepted since orchestrators generate one.
func (j JobDefinition) Validate() error {
	if j.WorkloadName != "" {
		if errs := validation.IsDNS1123Label(j.WorkloadName); len(errs) > 0 {
			return fmt.Errorf("invalid workload name %q: %s", j.WorkloadName, strings.Join(errs, "; "))
		}
	}
	counts := []struct {
		flag  string
		value int
	}{
		{"devices", j.DevicesPerHost},
		{"num-slices", j.NumSlices},
		{"vms-per-slice", j.VmsPerSlice},
		{"max-restarts", j.MaxRestarts},
		{"ttl-seconds-after-finished", j.TtlSecondsAfterFinished},
	}
	for _, c := range counts {
		if c.value < 0 {
			return fmt.Errorf("--%s must not be negative, got %d", c.flag, c.value)
		}
	}
	return nil
}

// NumHosts is the total number of worker hosts across all slices. Zero counts
// mean one.
func (j JobDefinition) NumHosts() int {
	return max(j.NumSlices, 1) * max(j.VmsPerSlice, 1)
}

// Orchestrator defines the interface for submitting and managing jobs on a cluster.
type Orchestrator interface {
	// SubmitJob takes a JobDefinition and orchestrates its deployment.
	SubmitJob(ctx context.Context, job JobDefinition) error
}
