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
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"train-toolkit/pkg/shell"

	"github.com/otiai10/copy"
	"github.com/sirupsen/logrus"
)

// CloudBuildTemplate is the Go template for generating cloudbuild.yaml
const CloudBuildTemplate = `
steps:
- name: 'gcr.io/cloud-builders/docker'
  args: ['build', '--platform', '{{.Platform}}', '-f', '{{.Dockerfile}}', '-t', '{{.FullImageName}}', '.']
images:
- '{{.FullImageName}}'
`

// CloudBuildBuilder builds the image remotely with `gcloud builds submit`
// from a Dockerfile in the build context.
type CloudBuildBuilder struct {
	Exec           shell.Executor
	IgnorePatterns []string
	now            func() time.Time
}

func NewCloudBuildBuilder(exec shell.Executor) *CloudBuildBuilder {
	return &CloudBuildBuilder{Exec: exec, IgnorePatterns: DefaultIgnorePatterns, now: time.Now}
}

// GenerateCloudBuildYaml renders the build config for dockerfile and image.
func GenerateCloudBuildYaml(dockerfile, platform, fullImageName string) (string, error) {
	tmpl, err := template.New("cloudbuild").Parse(CloudBuildTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse cloudbuild template: %w", err)
	}

	data := struct {
		Dockerfile    string
		Platform      string
		FullImageName string
	}{
		Dockerfile:    filepath.ToSlash(dockerfile),
		Platform:      platform,
		FullImageName: fullImageName,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute cloudbuild template: %w", err)
	}
	return buf.String(), nil
}

func (b *CloudBuildBuilder) Build(ctx context.Context, req BuildRequest) (string, error) {
	if req.Dockerfile == "" || req.BuildContext == "" {
		return "", fmt.Errorf("cloud builds require both a Dockerfile and a build context")
	}
	if _, err := parsePlatform(req.Platform); err != nil {
		return "", err
	}

	stagingDir, err := b.stage(req.BuildContext)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(stagingDir)

	if _, err := os.Stat(filepath.Join(stagingDir, req.Dockerfile)); err != nil {
		return "", fmt.Errorf("dockerfile %q not found in staged build context: %w", req.Dockerfile, err)
	}

	fullImageName := imageName(req.ProjectID, req.BuildContext, b.now())
	config, err := GenerateCloudBuildYaml(req.Dockerfile, req.Platform, fullImageName)
	if err != nil {
		return "", err
	}
	configFile, err := os.CreateTemp("", "cloudbuild-*.yaml")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary cloudbuild.yaml file: %w", err)
	}
	defer os.Remove(configFile.Name())
	_, err = configFile.WriteString(config)
	if closeErr := configFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write cloudbuild.yaml content to temporary file: %w", err)
	}

	logrus.Infof("Submitting Cloud Build for %s", fullImageName)
	logrus.Debugf("CloudBuild YAML content:\n%s", config)
	res := b.Exec.Execute(ctx, "", "gcloud", "builds", "submit", stagingDir,
		"--config="+configFile.Name(), "--project="+req.ProjectID)
	if res.ExitCode != 0 {
		return "", fmt.Errorf("gcloud builds submit failed with exit code %d: %s\n%s", res.ExitCode, res.Stderr, res.Stdout)
	}

	if buildURL := extractBuildURL(res.Stdout + "\n" + res.Stderr); buildURL != "" {
		logrus.Infof("Cloud Build finished: %s", buildURL)
	}
	return fullImageName, nil
}

// stage copies the build context, minus ignored paths, into a temporary
// directory so that Cloud Build uploads exactly what a crane build would.
func (b *CloudBuildBuilder) stage(buildContext string) (string, error) {
	matcher, err := NewIgnoreMatcher(buildContext, b.IgnorePatterns)
	if err != nil {
		return "", fmt.Errorf("failed to read .dockerignore patterns: %w", err)
	}
	stagingDir, err := os.MkdirTemp("", "gtrain-cloudbuild-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}

	err = copy.Copy(buildContext, stagingDir, copy.Options{
		Skip: func(info os.FileInfo, src, dest string) (bool, error) {
			rel, err := filepath.Rel(buildContext, src)
			if err != nil || rel == "." {
				return false, err
			}
			return isIgnored(matcher, rel, info.IsDir())
		},
	})
	if err != nil {
		os.RemoveAll(stagingDir)
		return "", fmt.Errorf("failed to stage build context %q: %w", buildContext, err)
	}
	return stagingDir, nil
}

// extractBuildURL attempts to parse the Cloud Build URL from gcloud's output
func extractBuildURL(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "builds/") {
			continue
		}
		if idx := strings.Index(line, "https://console.cloud.google.com"); idx != -1 {
			url := strings.TrimSpace(line[idx:])
			return strings.TrimRight(url, "].")
		}
	}
	return ""
}
