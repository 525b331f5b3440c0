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

package strategy

import (
	"errors"
	"fmt"
)

// ExperimentLogger is a logger holding a lazily created experiment handle.
// Handles cannot be shared with spawned workers, so strategies drop them
// before spawning and each worker recreates its own.
type ExperimentLogger interface {
	ResetExperiment() error
}

// LoggerCollection groups several loggers behind one ExperimentLogger.
type LoggerCollection []ExperimentLogger

// ResetExperiment resets every logger in the collection and joins their
// errors.
func (lc LoggerCollection) ResetExperiment() error {
	var errs []error
	for i, l := range lc {
		if l == nil {
			continue
		}
		if err := l.ResetExperiment(); err != nil {
			errs = append(errs, fmt.Errorf("logger %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// CollectLoggers groups the trainer's logger list. Any non-empty list becomes
// a LoggerCollection, even a list of one; an empty list means no logger.
func CollectLoggers(loggers ...ExperimentLogger) ExperimentLogger {
	if len(loggers) == 0 {
		return nil
	}
	return LoggerCollection(loggers)
}

func cleanLoggers(logger ExperimentLogger) error {
	if logger == nil {
		return nil
	}
	if err := logger.ResetExperiment(); err != nil {
		return fmt.Errorf("failed to reset experiment loggers: %w", err)
	}
	return nil
}
