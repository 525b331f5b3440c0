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
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/go-containerregistry/pkg/compression"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/moby/patternmatcher"
	"github.com/sirupsen/logrus"
)

// CraneBuilder appends the build context as a single layer on top of a base
// image and pushes the result, without a Docker daemon.
type CraneBuilder struct {
	IgnorePatterns []string
	now            func() time.Time
}

func NewCraneBuilder() *CraneBuilder {
	return &CraneBuilder{IgnorePatterns: DefaultIgnorePatterns, now: time.Now}
}

func (b *CraneBuilder) Build(ctx context.Context, req BuildRequest) (string, error) {
	if req.BaseImage == "" || req.BuildContext == "" {
		return "", fmt.Errorf("crane builds require both a base image and a build context")
	}
	platform, err := parsePlatform(req.Platform)
	if err != nil {
		return "", err
	}
	matcher, err := NewIgnoreMatcher(req.BuildContext, b.IgnorePatterns)
	if err != nil {
		return "", fmt.Errorf("failed to read .dockerignore patterns: %w", err)
	}

	imageName := imageName(req.ProjectID, req.BuildContext, b.now())
	logrus.Infof("Starting image build process for %s", imageName)
	logrus.Infof("Base Docker Image: %s", req.BaseImage)
	logrus.Infof("Script Directory: %s", req.BuildContext)
	logrus.Infof("Target Platform: %s/%s", platform.OS, platform.Architecture)

	tempTarballPath, err := createFilteredTar(req.BuildContext, matcher)
	if err != nil {
		return "", fmt.Errorf("failed to create filtered tarball: %w", err)
	}
	defer func() {
		os.Remove(tempTarballPath)
		logrus.Debugf("Cleaned up temporary tarball file: %s", tempTarballPath)
	}()

	scriptLayer, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return os.Open(tempTarballPath)
	}, tarball.WithCompression(compression.GZip))
	if err != nil {
		return "", fmt.Errorf("failed to create layer from tarball: %w", err)
	}

	baseRef, err := name.ParseReference(req.BaseImage)
	if err != nil {
		return "", fmt.Errorf("failed to parse base image reference %q: %w", req.BaseImage, err)
	}
	opts := []crane.Option{crane.WithContext(ctx), crane.WithPlatform(&platform)}
	baseImg, err := crane.Pull(baseRef.String(), opts...)
	if err != nil {
		return "", fmt.Errorf("failed to pull base image %q: %w", req.BaseImage, err)
	}

	newImg, err := mutate.AppendLayers(baseImg, scriptLayer)
	if err != nil {
		return "", fmt.Errorf("failed to append layer: %w", err)
	}

	imageRef, err := name.ParseReference(imageName)
	if err != nil {
		return "", fmt.Errorf("failed to parse new image reference %q: %w", imageName, err)
	}
	logrus.Infof("Uploading Container Image to %s", imageName)
	if err := crane.Push(newImg, imageRef.String(), opts...); err != nil {
		return "", fmt.Errorf("failed to push image %q: %w", imageName, err)
	}

	logrus.Infof("Image %s built and uploaded successfully.", imageName)
	return imageName, nil
}

func processTarEntry(tarWriter *tar.Writer, sourceDir string, ignoreMatcher *patternmatcher.PatternMatcher, path string, info fs.FileInfo, errFromWalk error) error {
	if errFromWalk != nil {
		return errFromWalk
	}

	relPath, err := filepath.Rel(sourceDir, path)
	if err != nil {
		return fmt.Errorf("failed to get relative path for %q: %w", path, err)
	}
	if relPath == "." {
		return nil
	}

	ignored, err := isIgnored(ignoreMatcher, relPath, info.IsDir())
	if err != nil {
		return fmt.Errorf("failed to check ignore patterns for %q: %w", path, err)
	}
	if ignored {
		if info.IsDir() {
			logrus.Debugf("Ignoring directory %q", relPath)
			return filepath.SkipDir
		}
		logrus.Debugf("Ignoring file %q", relPath)
		return nil
	}

	header, err := tar.FileInfoHeader(info, relPath)
	if err != nil {
		return fmt.Errorf("failed to create tar header for %q: %w", path, err)
	}
	header.Name = filepath.ToSlash(relPath)

	if err := tarWriter.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %q: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file %q: %w", path, err)
	}
	defer file.Close()
	if _, err := io.Copy(tarWriter, file); err != nil {
		return fmt.Errorf("failed to write file content for %q: %w", path, err)
	}
	return nil
}

// createFilteredTar writes sourceDir, minus ignored paths, to a temporary
// tar.gz file and returns its path.
func createFilteredTar(sourceDir string, ignoreMatcher *patternmatcher.PatternMatcher) (path string, err error) {
	tmpFile, err := os.CreateTemp("", "gtrain-build-context-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file for tarball: %w", err)
	}
	gzipWriter := gzip.NewWriter(tmpFile)
	tarWriter := tar.NewWriter(gzipWriter)

	logrus.Infof("Creating filtered tar from %s to temporary file %s", sourceDir, tmpFile.Name())

	defer func() {
		if closeErr := tarWriter.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close tar writer: %w", closeErr)
		}
		if closeErr := gzipWriter.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close gzip writer: %w", closeErr)
		}
		if closeErr := tmpFile.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close tarball: %w", closeErr)
		}
		if err != nil {
			os.Remove(tmpFile.Name())
			path = ""
		}
	}()

	err = filepath.Walk(sourceDir, func(p string, info fs.FileInfo, walkErr error) error {
		return processTarEntry(tarWriter, sourceDir, ignoreMatcher, p, info, walkErr)
	})
	if err != nil {
		return "", err
	}
	return tmpFile.Name(), nil
}
