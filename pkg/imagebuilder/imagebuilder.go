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

// Package imagebuilder packages a training script directory into a container
// image the cluster can pull.
package imagebuilder

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"train-toolkit/pkg/shell"

	"github.com/go-git/go-git/v5"
	v1 "github.com/google/go-containerregistry/pkg/v1"
)

// DockerPlatform represents the target platform for a Docker image.
type DockerPlatform string

const (
	LinuxAMD64 DockerPlatform = "linux/amd64"
	LinuxARM64 DockerPlatform = "linux/arm64"
)

// BuildRequest describes the trainer image to build.
type BuildRequest struct {
	ProjectID string
	// BaseImage is the image the script layer is appended to (crane).
	BaseImage string
	// Dockerfile is the path, relative to BuildContext, used by Cloud Build.
	Dockerfile   string
	BuildContext string
	Platform     string
}

// Builder builds and pushes an image and returns its full reference.
type Builder interface {
	Build(ctx context.Context, req BuildRequest) (string, error)
}

// parsePlatform converts a platform string (e.g., "linux/amd64") into a v1.Platform struct.
func parsePlatform(platformStr string) (v1.Platform, error) {
	parts := strings.Split(platformStr, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return v1.Platform{}, fmt.Errorf("invalid platform format: %q, expected \"os/arch\"", platformStr)
	}
	return v1.Platform{
		OS:           parts[0],
		Architecture: parts[1],
	}, nil
}

// imageName returns gcr.io/<project>/<user>-runner:<tag>.
func imageName(project, buildContext string, now time.Time) string {
	userName := os.Getenv("USER")
	if userName == "" {
		userName = "unknown"
	}
	return fmt.Sprintf("gcr.io/%s/%s-runner:%s", project, userName, imageTag(buildContext, now))
}

// imageTag is <revision>-<timestamp>, where revision is the short commit of
// the git repository holding buildContext, or a random string outside of one.
func imageTag(buildContext string, now time.Time) string {
	revision := gitRevision(buildContext)
	if revision == "" {
		revision = shell.RandomString(4)
	}
	return fmt.Sprintf("%s-%s", revision, now.Format("2006-01-02-15-04-05"))
}

func gitRevision(dir string) string {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()[:7]
}
