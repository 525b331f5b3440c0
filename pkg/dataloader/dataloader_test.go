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

package dataloader

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
)

func TestSlotShapes(t *testing.T) {
	sized := SizedHandle{Name: "random", Length: 64}

	if None().Present() {
		t.Error("None() is present")
	}
	single := Single(sized)
	if !single.Present() || single.IsSequence() || single.Len() != 1 {
		t.Errorf("Single() = %+v", single)
	}
	empty := Sequence()
	if !empty.Present() || !empty.IsSequence() || empty.Len() != 0 {
		t.Errorf("Sequence() = %+v", empty)
	}

	hs := []Handle{sized, UnsizedIterableHandle{}}
	seq := Sequence(hs...)
	hs[0] = UnsizedIterableHandle{Name: "swapped"}
	if got := seq.Handles()[0]; got != sized {
		t.Errorf("Sequence shares caller slice: got %v", got)
	}
}

func TestSpecCount(t *testing.T) {
	spec := Spec{
		Train: Single(SizedHandle{Length: 1}),
		Val:   Sequence(SizedHandle{Length: 1}, UnsizedIterableHandle{}),
		Test:  Sequence(),
	}
	if got := spec.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
	if spec.Slot(Predict).Present() {
		t.Error("predict slot present")
	}
}

func TestRoleString(t *testing.T) {
	for _, r := range Roles {
		got, ok := ParseRole(r.String())
		if !ok || got != r {
			t.Errorf("ParseRole(%q) = %v, %v", r.String(), got, ok)
		}
	}
	if _, ok := ParseRole("validation"); ok {
		t.Error("ParseRole accepted validation")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Spec
		wantErr string
	}{
		{
			name: "empty document",
			want: Spec{},
		},
		{
			name: "single and sequence",
			input: `
train:
  name: random
  length: 64
val:
  - name: random
    length: 64
  - name: stream
    iterable: true
`,
			want: Spec{
				Train: Single(SizedHandle{Name: "random", Length: 64}),
				Val: Sequence(
					SizedHandle{Name: "random", Length: 64},
					UnsizedIterableHandle{Name: "stream"},
				),
			},
		},
		{
			name:  "null role is absent",
			input: "test:\npredict: []\n",
			want:  Spec{Predict: Sequence()},
		},
		{
			name:    "misspelled role",
			input:   "tarin:\n  length: 1\n",
			wantErr: `unknown dataloader role "tarin", did you mean "train"?`,
		},
		{
			name:    "unrelated role",
			input:   "optimizer:\n  length: 1\n",
			wantErr: `unknown dataloader role "optimizer"`,
		},
		{
			name:    "misspelled field",
			input:   "train:\n  lenght: 1\n",
			wantErr: `unknown field "lenght" in train dataloader 0, did you mean "length"?`,
		},
		{
			name:    "neither length nor iterable",
			input:   "val:\n  name: x\n",
			wantErr: "must set either length or iterable",
		},
		{
			name:    "both length and iterable",
			input:   "val:\n  - length: 2\n  - length: 3\n    iterable: true\n",
			wantErr: "val dataloader 1 sets both length and iterable",
		},
		{
			name:    "negative length",
			input:   "train:\n  length: -1\n",
			wantErr: "negative length",
		},
		{
			name:    "scalar slot",
			input:   "train: loader\n",
			wantErr: "must be a mapping or a sequence",
		},
		{
			name:    "duplicate role",
			input:   "train:\n  length: 1\ntrain:\n  length: 2\n",
			wantErr: "given more than once",
		},
		{
			name:    "top level sequence",
			input:   "- train\n",
			wantErr: "expected a mapping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.input))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Parse() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(Slot{})); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/job/dataloaders.yaml", []byte("predict:\n  iterable: true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	spec, err := LoadFile(fs, "/job/dataloaders.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if hs := spec.Predict.Handles(); len(hs) != 1 || hs[0].HasKnownLength() {
		t.Errorf("predict handles = %v", hs)
	}

	_, err = LoadFile(fs, "/job/missing.yaml")
	if err == nil || !strings.Contains(err.Error(), `failed to read dataloader manifest "/job/missing.yaml"`) {
		t.Errorf("LoadFile(missing) error = %v", err)
	}
}
