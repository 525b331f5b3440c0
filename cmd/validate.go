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
	"fmt"
	"io"

	"train-toolkit/pkg/orchestrator"
	"train-toolkit/pkg/orchestrator/gke"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	validateStrategy    strategyOptions
	validateNumSlices   int
	validateVmsPerSlice int
)

func init() {
	rootCmd.AddCommand(validateCmd)
	validateStrategy.addFlags(validateCmd.Flags())
	validateCmd.Flags().IntVar(&validateNumSlices, "num-slices", 1, "Number of JobSet replicas (slices).")
	validateCmd.Flags().IntVar(&validateVmsPerSlice, "vms-per-slice", 1, "Number of VMs (pods) per slice.")
	_ = validateCmd.MarkFlagRequired("dataloaders")
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Checks a script's dataloaders against a strategy without submitting anything.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(afero.NewOsFs(), cmd.OutOrStdout(), validateStrategy, validateNumSlices, validateVmsPerSlice)
	},
	SilenceUsage: true,
}

func runValidate(fs afero.Fs, out io.Writer, opts strategyOptions, slices, vms int) error {
	spec, err := opts.loadDataloaders(fs)
	if err != nil {
		return err
	}
	st, err := gke.ConnectStrategy(orchestrator.JobDefinition{
		AcceleratorType: opts.acceleratorType,
		DevicesPerHost:  opts.devicesPerHost,
		Strategy:        opts.strategy,
		Debug:           opts.debug,
		Dataloaders:     spec,
		NumSlices:       slices,
		VmsPerSlice:     vms,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%d dataloaders accepted by the %s strategy on %s (world size %d).\n",
		spec.Count(), st.Name(), st.Backend().Name(), st.WorldSize())
	return err
}
