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

package cmd

import (
	"errors"
	"fmt"

	"train-toolkit/pkg/logging"
	"train-toolkit/pkg/orchestrator"
	"train-toolkit/pkg/orchestrator/gke"
	"train-toolkit/pkg/strategy"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	runStrategy     strategyOptions
	dockerImage     string
	baseDockerImage string
	buildContext    string
	dockerfile      string
	builder         string
	commandToRun    string
	outputManifest  string
	clusterName     string
	clusterLocation string
	projectID       string
	applyMode       string
	logDir          string
	platform        string

	// JobSet and Kueue related options
	workloadName            string
	kueueQueueName          string
	numSlices               int
	vmsPerSlice             int
	maxRestarts             int
	ttlSecondsAfterFinished int
)

func init() {
	rootCmd.AddCommand(runCmd)

	runStrategy.addFlags(runCmd.Flags())
	runCmd.Flags().StringVarP(&dockerImage, "docker-image", "i", "", "Name of the pre-built Docker image to run (e.g., my-project/my-image:tag).")
	runCmd.Flags().StringVar(&baseDockerImage, "base-docker-image", "", "Name of the base Docker image for Crane to build upon (e.g., python:3.11-slim). Requires --build-context.")
	runCmd.Flags().StringVar(&dockerfile, "dockerfile", "", "Dockerfile inside the build context to build with Cloud Build. Requires --build-context.")
	runCmd.Flags().StringVar(&builder, "builder", "", fmt.Sprintf("Image builder to use (%q or %q). Defaults to %q with --dockerfile and %q otherwise.",
		orchestrator.BuilderCrane, orchestrator.BuilderCloudBuild, orchestrator.BuilderCloudBuild, orchestrator.BuilderCrane))
	runCmd.Flags().StringVarP(&buildContext, "build-context", "c", "", "Path to the build context directory (e.g., .).")
	runCmd.Flags().StringVarP(&commandToRun, "command", "e", "", "Command to execute in the container (e.g., 'python train.py'). Required.")
	runCmd.Flags().StringVarP(&outputManifest, "output-manifest", "o", "", "Path to output the generated Kubernetes manifest instead of applying it.")
	runCmd.Flags().StringVar(&clusterName, "cluster-name", "", "Name of the GKE cluster to deploy the workload to. Required.")
	runCmd.Flags().StringVar(&clusterLocation, "cluster-location", "", "Location (zone or region) of the GKE cluster. Required.")
	runCmd.Flags().StringVarP(&projectID, "project", "p", "", "Google Cloud Project ID. If not provided, it will be inferred from your gcloud configuration.")
	runCmd.Flags().StringVarP(&platform, "platform", "f", "linux/amd64", "Target platform for the Docker image build (e.g., 'linux/amd64', 'linux/arm64').")
	runCmd.Flags().StringVar(&applyMode, "apply-mode", orchestrator.ApplyKubectl, fmt.Sprintf("How manifests reach the cluster (%q or %q).", orchestrator.ApplyKubectl, orchestrator.ApplyAPI))
	runCmd.Flags().StringVar(&logDir, "log-dir", "", "Directory receiving a JSON-lines record of the submission.")

	// JobSet and Kueue flags
	runCmd.Flags().StringVarP(&workloadName, "workload-name", "w", "", "Name of the workload (JobSet) to create. Required.")
	runCmd.Flags().StringVar(&kueueQueueName, "kueue-queue", "", "Name of the Kueue LocalQueue to submit the workload to.")
	runCmd.Flags().IntVar(&numSlices, "num-slices", 1, "Number of JobSet replicas (slices).")
	runCmd.Flags().IntVar(&vmsPerSlice, "vms-per-slice", 1, "Number of VMs (pods) per slice.")
	runCmd.Flags().IntVar(&maxRestarts, "max-restarts", 1, "Maximum number of restarts for the JobSet before failing.")
	runCmd.Flags().IntVar(&ttlSecondsAfterFinished, "ttl-seconds-after-finished", 3600, "Time (in seconds) to retain the JobSet after it finishes.")

	_ = runCmd.MarkFlagRequired("command")
	_ = runCmd.MarkFlagRequired("cluster-name")
	_ = runCmd.MarkFlagRequired("cluster-location")
	_ = runCmd.MarkFlagRequired("workload-name")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs a training script on a GKE cluster using JobSet.",
	Long: `The 'run' command checks the script's dataloaders against the selected
strategy, then deploys the trainer image as a workload (Kubernetes JobSet) on a
GKE cluster, integrated with Kueue. The image can be pre-built (--docker-image),
built with Crane (--base-docker-image with --build-context) or built with Cloud
Build (--dockerfile with --build-context).

A dataloader the strategy cannot train with stops the command before any image
is built or any worker is submitted.`,
	Run:          runRunCmd,
	SilenceUsage: true,
}

func runRunCmd(cmd *cobra.Command, args []string) {
	logging.Info("Executing gtrain run command...")

	spec, err := runStrategy.loadDataloaders(afero.NewOsFs())
	if err != nil {
		logging.Fatal("%v", err)
	}

	jobDef := orchestrator.JobDefinition{
		DockerImage:             dockerImage,
		BaseDockerImage:         baseDockerImage,
		BuildContext:            buildContext,
		Dockerfile:              dockerfile,
		Builder:                 builder,
		Platform:                platform,
		CommandToRun:            commandToRun,
		AcceleratorType:         runStrategy.acceleratorType,
		DevicesPerHost:          runStrategy.devicesPerHost,
		OutputManifest:          outputManifest,
		ProjectID:               projectID,
		ClusterName:             clusterName,
		ClusterLocation:         clusterLocation,
		ApplyMode:               applyMode,
		Strategy:                runStrategy.strategy,
		Debug:                   runStrategy.debug,
		Dataloaders:             spec,
		LogDir:                  logDir,
		WorkloadName:            workloadName,
		KueueQueueName:          kueueQueueName,
		NumSlices:               numSlices,
		VmsPerSlice:             vmsPerSlice,
		MaxRestarts:             maxRestarts,
		TtlSecondsAfterFinished: ttlSecondsAfterFinished,
	}

	gkeOrchestrator, err := gke.NewGKEOrchestrator()
	if err != nil {
		logging.Fatal("Failed to create GKE orchestrator: %v", err)
	}

	if err := gkeOrchestrator.SubmitJob(cmd.Context(), jobDef); err != nil {
		var cfgErr *strategy.ConfigurationError
		if errors.As(err, &cfgErr) {
			logging.Fatal("%v", err)
		}
		logging.Fatal("gtrain run failed: %v", err)
	}
}
