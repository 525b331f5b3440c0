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

// Package gke submits training workloads to GKE as Kueue-managed JobSets.
package gke

import (
	"context"
	"fmt"
	"strings"

	"train-toolkit/pkg/dataloader"
	"train-toolkit/pkg/imagebuilder"
	"train-toolkit/pkg/jobset"
	"train-toolkit/pkg/logging"
	"train-toolkit/pkg/orchestrator"
	"train-toolkit/pkg/runlog"
	"train-toolkit/pkg/shell"
	"train-toolkit/pkg/strategy"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// GKEOrchestrator implements the Orchestrator interface for GKE.
type GKEOrchestrator struct {
	exec               shell.Executor
	fs                 afero.Fs
	builders           map[string]imagebuilder.Builder
	newCluster         func(mode string) (Cluster, error)
	download           func(ctx context.Context, url string) ([]byte, error)
	newRunLog          func(fs afero.Fs, dir, workload string) *runlog.FileLogger
	jobSetManifestsURL string
}

// Option customizes a GKEOrchestrator.
type Option func(*GKEOrchestrator)

// WithExecutor replaces the command executor used for gcloud and kubectl.
func WithExecutor(exec shell.Executor) Option {
	return func(g *GKEOrchestrator) { g.exec = exec }
}

// WithFs replaces the filesystem used for the output manifest and run log.
func WithFs(fs afero.Fs) Option {
	return func(g *GKEOrchestrator) { g.fs = fs }
}

// WithBuilder registers an image builder under name.
func WithBuilder(name string, b imagebuilder.Builder) Option {
	return func(g *GKEOrchestrator) { g.builders[name] = b }
}

// WithCluster makes every apply mode use cluster.
func WithCluster(cluster Cluster) Option {
	return func(g *GKEOrchestrator) {
		g.newCluster = func(string) (Cluster, error) { return cluster, nil }
	}
}

// WithDownloader replaces how JobSet release manifests are fetched.
func WithDownloader(download func(ctx context.Context, url string) ([]byte, error)) Option {
	return func(g *GKEOrchestrator) { g.download = download }
}

// NewGKEOrchestrator creates and returns a new GKEOrchestrator instance.
func NewGKEOrchestrator(opts ...Option) (*GKEOrchestrator, error) {
	g := &GKEOrchestrator{
		exec:               shell.LocalExecutor{},
		fs:                 afero.NewOsFs(),
		builders:           map[string]imagebuilder.Builder{},
		download:           downloadManifests,
		newRunLog:          runlog.NewFileLogger,
		jobSetManifestsURL: JobSetManifestsURL,
	}
	g.newCluster = g.defaultCluster
	for _, opt := range opts {
		opt(g)
	}
	if _, ok := g.builders[orchestrator.BuilderCrane]; !ok {
		g.builders[orchestrator.BuilderCrane] = imagebuilder.NewCraneBuilder()
	}
	if _, ok := g.builders[orchestrator.BuilderCloudBuild]; !ok {
		g.builders[orchestrator.BuilderCloudBuild] = imagebuilder.NewCloudBuildBuilder(g.exec)
	}
	return g, nil
}

func (g *GKEOrchestrator) defaultCluster(mode string) (Cluster, error) {
	switch mode {
	case orchestrator.ApplyKubectl, "":
		return &KubectlCluster{Exec: g.exec}, nil
	case orchestrator.ApplyAPI:
		return NewAPIClusterFromKubeconfig()
	}
	return nil, fmt.Errorf("unknown apply mode %q, expected %q or %q", mode, orchestrator.ApplyKubectl, orchestrator.ApplyAPI)
}

// ConnectStrategy checks the job definition, builds the job's strategy and
// attaches its dataloaders. It has no side effects and is the first step of
// SubmitJob.
func ConnectStrategy(job orchestrator.JobDefinition) (strategy.Strategy, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	backend, err := strategy.BackendFor(job.AcceleratorType, job.DevicesPerHost)
	if err != nil {
		return nil, err
	}
	st, err := strategy.New(job.Strategy, backend, job.NumHosts(), job.Debug)
	if err != nil {
		return nil, err
	}
	if err := st.Connect(job.Dataloaders); err != nil {
		return nil, err
	}
	return st, nil
}

// SubmitJob validates the job's dataloaders against its strategy, then
// builds the image and deploys the JobSet to the GKE cluster.
func (g *GKEOrchestrator) SubmitJob(ctx context.Context, job orchestrator.JobDefinition) error {
	logging.Info("Starting gtrain run workflow...")

	// Nothing may be acquired before the dataloaders are accepted.
	st, err := ConnectStrategy(job)
	if err != nil {
		return err
	}
	logging.Info("Dataloaders accepted by the %s strategy on %s (world size %d).", st.Name(), st.Backend().Name(), st.WorldSize())

	if err := g.validateImageOptions(job); err != nil {
		return err
	}
	if job.WorkloadName == "" {
		job.WorkloadName = "gtrain-workload-" + shell.RandomString(8)
	}

	var runLog *runlog.FileLogger
	if job.LogDir != "" {
		runLog = g.newRunLog(g.fs, job.LogDir, job.WorkloadName)
		defer func() {
			if err := runLog.ResetExperiment(); err != nil {
				logging.Warn("%v", err)
			}
		}()
	}
	record := func(msg string, fields logrus.Fields) {
		if runLog == nil {
			return
		}
		if err := runLog.Event(msg, fields); err != nil {
			logging.Warn("failed to write run log: %v", err)
		}
	}
	record("dataloaders accepted", logrus.Fields{
		"strategy":    st.Name(),
		"accelerator": st.Backend().Name(),
		"world_size":  st.WorldSize(),
		"dataloaders": job.Dataloaders.Count(),
	})

	plan, err := planDataloaders(st, job.Dataloaders)
	if err != nil {
		return err
	}
	for _, line := range plan {
		logging.Info("%s", line)
	}

	if job.ProjectID, err = g.getProjectID(ctx, job.ProjectID); err != nil {
		return err
	}

	var cluster Cluster
	if job.OutputManifest == "" {
		logging.Info("Configuring cluster credentials for GKE cluster '%s'...", job.ClusterName)
		if err := g.configureCredentials(ctx, job.ClusterName, job.ClusterLocation, job.ProjectID); err != nil {
			return err
		}
		if cluster, err = g.newCluster(job.ApplyMode); err != nil {
			return err
		}
		if err := g.checkAndInstallJobSetCRD(ctx, cluster); err != nil {
			return fmt.Errorf("failed to check or install JobSet CRD: %w", err)
		}
	}

	fullImageName, err := g.buildDockerImage(ctx, job)
	if err != nil {
		return err
	}
	record("image ready", logrus.Fields{"image": fullImageName})

	logging.Info("Generating JobSet manifest...")
	manifest, err := jobset.GenerateManifest(jobset.ManifestOptions{
		WorkloadName:            job.WorkloadName,
		FullImageName:           fullImageName,
		CommandToRun:            job.CommandToRun,
		AcceleratorType:         job.AcceleratorType,
		DevicesPerHost:          st.Backend().DevicesPerHost(),
		Strategy:                st.Name(),
		KueueQueueName:          job.KueueQueueName,
		NumSlices:               job.NumSlices,
		VmsPerSlice:             job.VmsPerSlice,
		MaxRestarts:             job.MaxRestarts,
		TtlSecondsAfterFinished: job.TtlSecondsAfterFinished,
		Env:                     st.WorkerEnv(),
	})
	if err != nil {
		return fmt.Errorf("failed to generate JobSet manifest: %w", err)
	}

	if job.OutputManifest != "" {
		logging.Info("Saving JobSet manifest to %s", job.OutputManifest)
		if err := afero.WriteFile(g.fs, job.OutputManifest, []byte(manifest), 0644); err != nil {
			return fmt.Errorf("failed to write JobSet manifest to file %s: %w", job.OutputManifest, err)
		}
		record("manifest saved", logrus.Fields{"path": job.OutputManifest})
		logging.Info("gtrain run workflow completed.")
		return nil
	}

	// Workers recreate their own experiment handles.
	var loggers []strategy.ExperimentLogger
	if runLog != nil {
		loggers = append(loggers, runLog)
	}
	if err := st.CleanLoggers(strategy.CollectLoggers(loggers...)); err != nil {
		return err
	}

	logging.Info("Applying JobSet '%s' to cluster '%s' in '%s' for project '%s'...", job.WorkloadName, job.ClusterName, job.ClusterLocation, job.ProjectID)
	logrus.Debugf("JobSet manifest:\n%s", manifest)
	if err := cluster.Apply(ctx, []byte(manifest)); err != nil {
		return fmt.Errorf("failed to apply JobSet manifest: %w", err)
	}
	record("workload submitted", logrus.Fields{
		"workload": job.WorkloadName,
		"cluster":  job.ClusterName,
		"location": job.ClusterLocation,
		"project":  job.ProjectID,
	})

	logging.Info("Workload %s submitted.", job.WorkloadName)
	logging.Info("gtrain run workflow completed.")
	return nil
}

// planDataloaders re-processes each dataloader through the strategy and
// describes how its batches split across workers.
func planDataloaders(st strategy.Strategy, spec dataloader.Spec) ([]string, error) {
	var plan []string
	for _, role := range dataloader.Roles {
		for i, h := range spec.Slot(role).Handles() {
			h, err := st.ProcessDataloader(h)
			if err != nil {
				return nil, fmt.Errorf("%s dataloader %d: %w", role, i, err)
			}
			sized, ok := h.(interface{ Len() int })
			if !ok || !h.HasKnownLength() {
				plan = append(plan, fmt.Sprintf("%s dataloader %d: streamed, batch count unknown", role, i))
				continue
			}
			perWorker := sized.Len() / st.WorldSize()
			plan = append(plan, fmt.Sprintf("%s dataloader %d: %d batches, %d per worker across %d workers", role, i, sized.Len(), perWorker, st.WorldSize()))
		}
	}
	return plan, nil
}

func (g *GKEOrchestrator) validateImageOptions(job orchestrator.JobDefinition) error {
	switch {
	case job.DockerImage == "" && job.BaseDockerImage == "" && job.Dockerfile == "":
		return fmt.Errorf("one of --docker-image, --base-docker-image or --dockerfile must be provided")
	case job.DockerImage != "" && (job.BaseDockerImage != "" || job.Dockerfile != ""):
		return fmt.Errorf("--docker-image cannot be combined with an image build")
	case job.DockerImage != "" && job.BuildContext != "":
		return fmt.Errorf("--build-context cannot be provided when --docker-image is used as no build is performed")
	case job.DockerImage == "" && job.BuildContext == "":
		return fmt.Errorf("a --build-context must be provided when building an image")
	}
	if job.DockerImage == "" {
		if _, ok := g.builders[g.builderName(job)]; !ok {
			return fmt.Errorf("unknown image builder %q", job.Builder)
		}
	}
	return nil
}

func (g *GKEOrchestrator) builderName(job orchestrator.JobDefinition) string {
	if job.Builder != "" {
		return job.Builder
	}
	if job.Dockerfile != "" {
		return orchestrator.BuilderCloudBuild
	}
	return orchestrator.BuilderCrane
}

func (g *GKEOrchestrator) buildDockerImage(ctx context.Context, job orchestrator.JobDefinition) (string, error) {
	if job.DockerImage != "" {
		logging.Info("Using pre-existing Docker image: %s", job.DockerImage)
		return job.DockerImage, nil
	}

	name := g.builderName(job)
	logging.Info("Building trainer image with %s...", name)
	image, err := g.builders[name].Build(ctx, imagebuilder.BuildRequest{
		ProjectID:    job.ProjectID,
		BaseImage:    job.BaseDockerImage,
		Dockerfile:   job.Dockerfile,
		BuildContext: job.BuildContext,
		Platform:     job.Platform,
	})
	if err != nil {
		return "", fmt.Errorf("%s image build failed: %w", name, err)
	}
	logging.Info("Built image will be available at: %s", image)
	return image, nil
}

func (g *GKEOrchestrator) getProjectID(ctx context.Context, initialProjectID string) (string, error) {
	if initialProjectID != "" {
		logging.Info("Using provided GCP Project ID: %s", initialProjectID)
		return initialProjectID, nil
	}
	res := g.exec.Execute(ctx, "", "gcloud", "config", "get-value", "project")
	if res.ExitCode != 0 {
		return "", fmt.Errorf("failed to get GCP project ID from gcloud config: %s", res.Stderr)
	}
	projectID := strings.TrimSpace(res.Stdout)
	if projectID == "" {
		return "", fmt.Errorf("GCP project ID is empty, provide it via --project or configure the gcloud CLI")
	}
	logging.Info("Using GCP Project ID inferred from gcloud config: %s", projectID)
	return projectID, nil
}

func (g *GKEOrchestrator) configureCredentials(ctx context.Context, clusterName, clusterLocation, projectID string) error {
	res := g.exec.Execute(ctx, "", "gcloud", "container", "clusters", "get-credentials", clusterName,
		"--location", clusterLocation, "--project", projectID)
	if res.ExitCode != 0 {
		return fmt.Errorf("failed to get GKE cluster credentials: %s\n%s", res.Stderr, res.Stdout)
	}
	return nil
}

var _ orchestrator.Orchestrator = (*GKEOrchestrator)(nil)
