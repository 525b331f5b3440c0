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

// Package dataloader models the dataloaders a training script hands to the
// trainer, one slot per phase.
package dataloader

import "fmt"

// Role is the training phase a dataloader feeds.
type Role int

const (
	Train Role = iota
	Val
	Test
	Predict
)

// Roles lists every role in the order the trainer attaches them.
var Roles = []Role{Train, Val, Test, Predict}

var roleNames = map[Role]string{
	Train:   "train",
	Val:     "val",
	Test:    "test",
	Predict: "predict",
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// ParseRole maps a manifest key to its role.
func ParseRole(s string) (Role, bool) {
	for r, n := range roleNames {
		if n == s {
			return r, true
		}
	}
	return 0, false
}

// Handle is a caller-owned dataloader. Implementations must answer
// HasKnownLength without iterating the underlying data source.
type Handle interface {
	HasKnownLength() bool
}

// SizedHandle is a dataloader that reports its number of batches up front.
type SizedHandle struct {
	Name   string
	Length int
}

func (SizedHandle) HasKnownLength() bool { return true }

// Len returns the number of batches.
func (h SizedHandle) Len() int { return h.Length }

func (h SizedHandle) String() string {
	return fmt.Sprintf("%s (%d batches)", displayName(h.Name), h.Length)
}

// UnsizedIterableHandle is a pure iterable: batches are only known once
// consumed.
type UnsizedIterableHandle struct {
	Name string
}

func (UnsizedIterableHandle) HasKnownLength() bool { return false }

func (h UnsizedIterableHandle) String() string {
	return fmt.Sprintf("%s (iterable)", displayName(h.Name))
}

func displayName(name string) string {
	if name == "" {
		return "<unnamed>"
	}
	return name
}

// Slot is the value given for one role: absent, one handle, or an ordered
// sequence of handles. The zero value is absent.
type Slot struct {
	handles  []Handle
	present  bool
	sequence bool
}

// None returns an absent slot.
func None() Slot { return Slot{} }

// Single returns a slot holding exactly one handle.
func Single(h Handle) Slot {
	return Slot{handles: []Handle{h}, present: true}
}

// Sequence returns a slot holding hs in order. An empty sequence is present
// but holds no handles.
func Sequence(hs ...Handle) Slot {
	cp := make([]Handle, len(hs))
	copy(cp, hs)
	return Slot{handles: cp, present: true, sequence: true}
}

func (s Slot) Present() bool    { return s.present }
func (s Slot) IsSequence() bool { return s.sequence }
func (s Slot) Len() int         { return len(s.handles) }

// Handles returns the slot's handles in order; a single slot yields one.
func (s Slot) Handles() []Handle {
	out := make([]Handle, len(s.handles))
	copy(out, s.handles)
	return out
}

// Spec holds the dataloaders for all four roles.
type Spec struct {
	Train   Slot
	Val     Slot
	Test    Slot
	Predict Slot
}

// Slot returns the slot for r.
func (s Spec) Slot(r Role) Slot {
	switch r {
	case Train:
		return s.Train
	case Val:
		return s.Val
	case Test:
		return s.Test
	case Predict:
		return s.Predict
	}
	return None()
}

// Set replaces the slot for r.
func (s *Spec) Set(r Role, slot Slot) {
	switch r {
	case Train:
		s.Train = slot
	case Val:
		s.Val = slot
	case Test:
		s.Test = slot
	case Predict:
		s.Predict = slot
	}
}

// Count returns the number of handles across all present slots.
func (s Spec) Count() int {
	n := 0
	for _, r := range Roles {
		n += s.Slot(r).Len()
	}
	return n
}
