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

package runlog

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

func TestExperimentIsLazy(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := NewFileLogger(fs, "/logs", "mnist")

	if l.HasExperiment() {
		t.Fatal("experiment created before first use")
	}
	if exists, _ := afero.Exists(fs, l.Path()); exists {
		t.Fatal("run log created before first use")
	}

	if _, err := l.Experiment(); err != nil {
		t.Fatalf("Experiment() error: %v", err)
	}
	if !l.HasExperiment() {
		t.Fatal("experiment not created by Experiment()")
	}
	if l.Path() != "/logs/mnist.jsonl" {
		t.Errorf("Path() = %q", l.Path())
	}
}

func TestResetAndReopen(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := NewFileLogger(fs, "/logs", "mnist")

	if err := l.Event("validated", logrus.Fields{"strategy": "spawn"}); err != nil {
		t.Fatal(err)
	}
	if err := l.ResetExperiment(); err != nil {
		t.Fatalf("ResetExperiment() error: %v", err)
	}
	if l.HasExperiment() {
		t.Fatal("experiment still open after reset")
	}
	if err := l.ResetExperiment(); err != nil {
		t.Fatalf("second ResetExperiment() error: %v", err)
	}
	if err := l.Event("applied", nil); err != nil {
		t.Fatal(err)
	}
	if err := l.ResetExperiment(); err != nil {
		t.Fatal(err)
	}

	data, err := afero.ReadFile(fs, l.Path())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d records, want 2: %q", len(lines), data)
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if first["msg"] != "validated" || first["strategy"] != "spawn" {
		t.Errorf("first record = %v", first)
	}
}

func TestExperimentStaysInsideDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, workload := range []string{"../escaped/run", "nested/run"} {
		l := NewFileLogger(fs, "/logs", workload)
		if _, err := l.Experiment(); err == nil || !strings.Contains(err.Error(), "outside of") {
			t.Errorf("Experiment() for workload %q error = %v, want outside-of-dir error", workload, err)
		}
	}
	if exists, _ := afero.Exists(fs, "/escaped/run.jsonl"); exists {
		t.Error("run log written outside its directory")
	}
}
