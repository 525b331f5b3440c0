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

package gke

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"train-toolkit/pkg/logging"

	getter "github.com/hashicorp/go-getter"
	"gopkg.in/yaml.v2"
)

// JobSetManifestsURL is the JobSet release installed when the CRD is missing.
const JobSetManifestsURL = "https://github.com/kubernetes-sigs/jobset/releases/download/v0.10.1/manifests.yaml"

func (g *GKEOrchestrator) checkAndInstallJobSetCRD(ctx context.Context, cluster Cluster) error {
	logging.Info("Checking for JobSet CRD installation...")
	installed, err := cluster.HasJobSetCRD(ctx)
	if err != nil {
		return err
	}
	if installed {
		logging.Info("JobSet CRD already installed.")
		return nil
	}

	logging.Info("JobSet CRD not found. Installing now...")
	manifestBytes, err := g.download(ctx, g.jobSetManifestsURL)
	if err != nil {
		return err
	}
	cleaned, err := cleanJobSetManifests(manifestBytes)
	if err != nil {
		return err
	}
	if err := cluster.Apply(ctx, cleaned); err != nil {
		return fmt.Errorf("failed to apply JobSet manifests: %w", err)
	}
	logging.Info("JobSet CRD installed successfully.")
	return nil
}

// downloadManifests fetches url with go-getter into a temporary file and
// returns its content.
func downloadManifests(ctx context.Context, url string) ([]byte, error) {
	logging.Info("Downloading JobSet manifests from %s", url)
	dir, err := os.MkdirTemp("", "gtrain-jobset-")
	if err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	defer os.RemoveAll(dir)

	dst := filepath.Join(dir, "manifests.yaml")
	client := &getter.Client{
		Ctx:  ctx,
		Src:  url,
		Dst:  dst,
		Mode: getter.ClientModeFile,
	}
	if err := client.Get(); err != nil {
		return nil, fmt.Errorf("failed to download JobSet manifests: %w", err)
	}
	manifestBytes, err := os.ReadFile(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to read JobSet manifests: %w", err)
	}
	return manifestBytes, nil
}

// cleanJobSetManifests drops every "description" field. The JobSet CRD's
// OpenAPI descriptions push it over the client-side apply annotation limit.
func cleanJobSetManifests(manifestBytes []byte) ([]byte, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(manifestBytes))
	var cleaned bytes.Buffer

	for {
		var doc interface{}
		if err := decoder.Decode(&doc); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to decode YAML document: %w", err)
		}
		if doc == nil {
			continue
		}

		if data, ok := doc.(map[interface{}]interface{}); ok {
			removeDescriptionFields(data)
		}
		out, err := yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal cleaned YAML: %w", err)
		}
		cleaned.WriteString("---\n")
		cleaned.Write(out)
	}
	return cleaned.Bytes(), nil
}

func removeDescriptionFields(data map[interface{}]interface{}) {
	for key, value := range data {
		if key == "description" {
			delete(data, key)
			continue
		}
		switch v := value.(type) {
		case map[interface{}]interface{}:
			removeDescriptionFields(v)
		case []interface{}:
			for _, item := range v {
				if itemMap, ok := item.(map[interface{}]interface{}); ok {
					removeDescriptionFields(itemMap)
				}
			}
		}
	}
}
