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

	"train-toolkit/pkg/dataloader"
	"train-toolkit/pkg/strategy"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
)

// strategyOptions are the flags shared by every command that connects a
// strategy to a script's dataloaders.
type strategyOptions struct {
	dataloaders     string
	strategy        string
	acceleratorType string
	devicesPerHost  int
	debug           bool
}

func (o *strategyOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.dataloaders, "dataloaders", "d", "", "Path to the YAML manifest describing the script's train, val, test and predict dataloaders.")
	fs.StringVarP(&o.strategy, "strategy", "s", strategy.NameSpawn, fmt.Sprintf("Distributed strategy the script runs under (%q or %q).", strategy.NameSpawn, strategy.NameDDP))
	fs.StringVarP(&o.acceleratorType, "accelerator-type", "a", "", "Type of accelerator to request (e.g., 'nvidia-tesla-a100', 'tpu-v5-lite-podslice'). Empty runs on CPU.")
	fs.IntVar(&o.devicesPerHost, "devices", 0, "Accelerator devices per host. Defaults to 4 for TPUs and 1 otherwise.")
	fs.BoolVar(&o.debug, "debug", false, "Enable accelerator runtime debugging in the workers.")
}

// loadDataloaders reads the dataloader manifest, or returns an empty Spec
// when none was given.
func (o *strategyOptions) loadDataloaders(fs afero.Fs) (dataloader.Spec, error) {
	if o.dataloaders == "" {
		return dataloader.Spec{}, nil
	}
	return dataloader.LoadFile(fs, o.dataloaders)
}
