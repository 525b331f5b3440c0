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

// Package strategy holds the distributed strategies gtrain launches and the
// checks they run on a job's dataloaders before any worker is spawned.
package strategy

import "train-toolkit/pkg/dataloader"

// Guard rejects dataloaders that cannot report their length. It only reads
// HasKnownLength and never iterates a handle, so it is safe to call
// concurrently and repeatedly.
type Guard struct {
	// Accelerator names the devices in error messages, e.g. "TPUs".
	Accelerator string
}

// Validate checks every handle of every present slot in role order, and
// within a sequence from left to right. It returns a *ConfigurationError for
// the first handle without a known length.
func (g Guard) Validate(spec dataloader.Spec) error {
	for _, role := range dataloader.Roles {
		slot := spec.Slot(role)
		if !slot.Present() {
			continue
		}
		for i, h := range slot.Handles() {
			if h == nil || h.HasKnownLength() {
				continue
			}
			return &ConfigurationError{
				Accelerator: g.Accelerator,
				Role:        role,
				Index:       i,
				Located:     true,
				Handle:      h,
			}
		}
	}
	return nil
}

// ValidateSingle applies the same check to one handle, for dataloaders that
// are bound after the initial attachment.
func (g Guard) ValidateSingle(h dataloader.Handle) error {
	if h == nil || h.HasKnownLength() {
		return nil
	}
	return &ConfigurationError{Accelerator: g.Accelerator, Handle: h}
}
