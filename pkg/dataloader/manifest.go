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
	"bytes"
	"fmt"
	"io"

	"github.com/agext/levenshtein"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// maxSuggestDistance bounds how far a misspelled key may be from a known one
// before no suggestion is offered.
const maxSuggestDistance = 2

var entryFields = []string{"name", "length", "iterable"}

type entry struct {
	Name     string `yaml:"name"`
	Length   *int   `yaml:"length"`
	Iterable bool   `yaml:"iterable"`
}

// LoadFile reads a dataloader manifest from fs.
func LoadFile(fs afero.Fs, path string) (Spec, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Spec{}, errors.Wrapf(err, "failed to read dataloader manifest %q", path)
	}
	spec, err := Parse(data)
	if err != nil {
		return Spec{}, errors.Wrapf(err, "invalid dataloader manifest %q", path)
	}
	return spec, nil
}

// Parse decodes a dataloader manifest. Each top-level key names a role; a
// mapping is a single dataloader and a sequence is an ordered list of them.
func Parse(data []byte) (Spec, error) {
	var spec Spec
	var doc yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return spec, nil
		}
		return spec, errors.Wrap(err, "failed to decode YAML")
	}
	if len(doc.Content) == 0 {
		return spec, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return spec, errors.Errorf("line %d: expected a mapping of roles to dataloaders", root.Line)
	}

	seen := map[Role]bool{}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		role, ok := ParseRole(key.Value)
		if !ok {
			return spec, errors.Errorf("line %d: unknown dataloader role %q%s", key.Line, key.Value, suggest(key.Value, roleKeys()))
		}
		if seen[role] {
			return spec, errors.Errorf("line %d: role %q given more than once", key.Line, key.Value)
		}
		seen[role] = true

		slot, err := parseSlot(role, value)
		if err != nil {
			return spec, err
		}
		spec.Set(role, slot)
	}
	return spec, nil
}

func parseSlot(role Role, node *yaml.Node) (Slot, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return None(), nil
		}
		return Slot{}, errors.Errorf("line %d: %s dataloaders must be a mapping or a sequence", node.Line, role)
	case yaml.MappingNode:
		h, err := parseEntry(role, 0, node)
		if err != nil {
			return Slot{}, err
		}
		return Single(h), nil
	case yaml.SequenceNode:
		hs := make([]Handle, 0, len(node.Content))
		for i, item := range node.Content {
			if item.Kind != yaml.MappingNode {
				return Slot{}, errors.Errorf("line %d: %s dataloader %d must be a mapping", item.Line, role, i)
			}
			h, err := parseEntry(role, i, item)
			if err != nil {
				return Slot{}, err
			}
			hs = append(hs, h)
		}
		return Sequence(hs...), nil
	}
	return Slot{}, errors.Errorf("line %d: unsupported value for %s dataloaders", node.Line, role)
}

func parseEntry(role Role, idx int, node *yaml.Node) (Handle, error) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		k := node.Content[i]
		if !slices.Contains(entryFields, k.Value) {
			return nil, errors.Errorf("line %d: unknown field %q in %s dataloader %d%s", k.Line, k.Value, role, idx, suggest(k.Value, entryFields))
		}
	}

	var e entry
	if err := node.Decode(&e); err != nil {
		return nil, errors.Wrapf(err, "line %d: %s dataloader %d", node.Line, role, idx)
	}
	switch {
	case e.Iterable && e.Length != nil:
		return nil, errors.Errorf("line %d: %s dataloader %d sets both length and iterable", node.Line, role, idx)
	case e.Iterable:
		return UnsizedIterableHandle{Name: e.Name}, nil
	case e.Length != nil:
		if *e.Length < 0 {
			return nil, errors.Errorf("line %d: %s dataloader %d has negative length %d", node.Line, role, idx, *e.Length)
		}
		return SizedHandle{Name: e.Name, Length: *e.Length}, nil
	}
	return nil, errors.Errorf("line %d: %s dataloader %d must set either length or iterable", node.Line, role, idx)
}

func roleKeys() []string {
	keys := make([]string, 0, len(Roles))
	for _, r := range Roles {
		keys = append(keys, r.String())
	}
	return keys
}

// suggest returns a "did you mean" hint for the closest candidate, if any is
// close enough.
func suggest(got string, candidates []string) string {
	best, bestDist := "", maxSuggestDistance+1
	sorted := append([]string(nil), candidates...)
	slices.Sort(sorted)
	for _, c := range sorted {
		if d := levenshtein.Distance(got, c, nil); d < bestDist {
			best, bestDist = c, d
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf(", did you mean %q?", best)
}
