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
	"bytes"
	"errors"
	"strings"
	"testing"

	"train-toolkit/pkg/strategy"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
)

const mixedManifest = `train:
  name: random
  length: 64
val:
  - name: random
    length: 64
  - name: stream
    iterable: true
`

func newOptions(t *testing.T, args ...string) strategyOptions {
	t.Helper()
	var opts strategyOptions
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.addFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%v) error = %v", args, err)
	}
	return opts
}

func TestStrategyFlagDefaults(t *testing.T) {
	opts := newOptions(t)
	if opts.strategy != strategy.NameSpawn {
		t.Errorf("default strategy = %q, want %q", opts.strategy, strategy.NameSpawn)
	}
	if opts.devicesPerHost != 0 || opts.debug {
		t.Errorf("unexpected defaults: %+v", opts)
	}
}

func TestRunValidate(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/job/dataloaders.yaml", []byte(mixedManifest), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr string
	}{
		{
			name:    "spawn on TPU rejects iterable",
			args:    []string{"-d", "/job/dataloaders.yaml", "-a", "tpu-v5-lite-podslice"},
			wantErr: "TPUs do not currently support iterable dataloaders",
		},
		{
			name: "ddp on TPU accepts iterable",
			args: []string{"-d", "/job/dataloaders.yaml", "-a", "tpu-v5-lite-podslice", "--strategy", "ddp"},
			want: "3 dataloaders accepted by the ddp strategy on TPUs (world size 8).\n",
		},
		{
			name:    "missing manifest",
			args:    []string{"-d", "/job/missing.yaml"},
			wantErr: "failed to read dataloader manifest",
		},
		{
			name:    "unknown strategy",
			args:    []string{"-d", "/job/dataloaders.yaml", "--strategy", "fsdp"},
			wantErr: `unknown strategy "fsdp"`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			err := runValidate(fs, &out, newOptions(t, tc.args...), 2, 1)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("runValidate() error = %v, want containing %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("runValidate() error = %v", err)
			}
			if out.String() != tc.want {
				t.Errorf("output = %q, want %q", out.String(), tc.want)
			}
		})
	}
}

func TestRunValidateReturnsConfigurationError(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "dataloaders.yaml", []byte(mixedManifest), 0644); err != nil {
		t.Fatal(err)
	}
	err := runValidate(fs, &bytes.Buffer{}, newOptions(t, "-d", "dataloaders.yaml"), 1, 1)

	var cfgErr *strategy.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("runValidate() error = %v, want *strategy.ConfigurationError", err)
	}
	if !strings.Contains(err.Error(), "CPUs do not currently support iterable dataloaders") {
		t.Errorf("error = %q", err.Error())
	}
}
