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
	"fmt"

	"train-toolkit/pkg/dataloader"
)

// ConfigurationError reports a dataloader that the selected strategy cannot
// train with. It is raised before any worker is spawned.
type ConfigurationError struct {
	// Accelerator is the plural device name used in the message, e.g. "TPUs".
	Accelerator string
	// Role and Index locate the offending dataloader when it was found
	// through a full Spec.
	Role    dataloader.Role
	Index   int
	Located bool
	Handle  dataloader.Handle
}

func (e *ConfigurationError) Error() string {
	var msg string
	if e.Accelerator != "" {
		msg = fmt.Sprintf("%s do not currently support iterable dataloaders", e.Accelerator)
	} else {
		msg = "this strategy does not currently support iterable dataloaders"
	}
	msg += ", the dataloader must report a known length"

	detail := handleDetail(e.Handle)
	switch {
	case e.Located && detail != "":
		msg += fmt.Sprintf(" (%s dataloader %d: %s)", e.Role, e.Index, detail)
	case e.Located:
		msg += fmt.Sprintf(" (%s dataloader %d)", e.Role, e.Index)
	case detail != "":
		msg += fmt.Sprintf(" (%s)", detail)
	}
	return msg
}

func handleDetail(h dataloader.Handle) string {
	if s, ok := h.(fmt.Stringer); ok {
		return s.String()
	}
	return ""
}
