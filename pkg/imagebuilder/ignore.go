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

package imagebuilder

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// DefaultIgnorePatterns are excluded from every build context.
var DefaultIgnorePatterns = []string{
	".git",
	".ghpc",
	"vendor",
	"node_modules",
	"*.log",
	"tmp/",
	".DS_Store",
	"__pycache__",
	"lightning_logs",
	".ipynb_checkpoints",
}

// NewIgnoreMatcher matches defaults plus the rules of dir/.dockerignore. A
// build context without a .dockerignore uses defaults alone.
func NewIgnoreMatcher(dir string, defaults []string) (*patternmatcher.PatternMatcher, error) {
	extra, err := dockerignoreRules(filepath.Join(dir, ".dockerignore"))
	if err != nil {
		return nil, err
	}
	matcher, err := patternmatcher.New(append(slices.Clone(defaults), extra...))
	if err != nil {
		return nil, fmt.Errorf("invalid ignore pattern in %s: %w", dir, err)
	}
	return matcher, nil
}

func dockerignoreRules(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	rules, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	logrus.Debugf("Loaded %d ignore rules from %s", len(rules), path)
	return rules, nil
}

// isIgnored reports whether relPath, relative to the build context root, is
// excluded. Directories match with a trailing slash.
func isIgnored(matcher *patternmatcher.PatternMatcher, relPath string, isDir bool) (bool, error) {
	relPathSlash := filepath.ToSlash(relPath)
	if isDir && !strings.HasSuffix(relPathSlash, "/") {
		relPathSlash += "/"
	}
	return matcher.MatchesOrParentMatches(relPathSlash)
}
