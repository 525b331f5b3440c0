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

// Package runlog records a workload's submission history as JSON lines.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// FileLogger writes events for one workload to <dir>/<workload>.jsonl. The
// experiment handle is opened on first use and released by ResetExperiment,
// after which the next use reopens the file in append mode.
type FileLogger struct {
	fs   afero.Fs
	dir  string
	path string

	mu         sync.Mutex
	file       afero.File
	experiment *logrus.Logger
}

func NewFileLogger(fs afero.Fs, dir, workload string) *FileLogger {
	return &FileLogger{fs: fs, dir: filepath.Clean(dir), path: filepath.Join(dir, workload+".jsonl")}
}

func (l *FileLogger) Path() string { return l.path }

// HasExperiment reports whether the experiment handle is currently open.
func (l *FileLogger) HasExperiment() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.experiment != nil
}

// Experiment returns the experiment handle, creating it if needed.
func (l *FileLogger) Experiment() (*logrus.Logger, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.experiment != nil {
		return l.experiment, nil
	}

	if filepath.Dir(l.path) != l.dir {
		return nil, fmt.Errorf("run log %q is outside of %q", l.path, l.dir)
	}
	if err := l.fs.MkdirAll(l.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run log directory: %w", err)
	}
	f, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log %q: %w", l.path, err)
	}

	exp := logrus.New()
	exp.SetOutput(f)
	exp.SetFormatter(&logrus.JSONFormatter{})
	l.file, l.experiment = f, exp
	return exp, nil
}

// Event appends one record to the run log.
func (l *FileLogger) Event(msg string, fields logrus.Fields) error {
	exp, err := l.Experiment()
	if err != nil {
		return err
	}
	exp.WithFields(fields).Info(msg)
	return nil
}

// ResetExperiment closes the experiment handle.
func (l *FileLogger) ResetExperiment() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.experiment == nil {
		return nil
	}
	err := l.file.Close()
	l.file, l.experiment = nil, nil
	if err != nil {
		return fmt.Errorf("failed to close run log %q: %w", l.path, err)
	}
	return nil
}
