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
	"errors"
	"fmt"
	"io"
	"strings"

	"train-toolkit/pkg/shell"

	"github.com/sirupsen/logrus"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"
)

// JobSetCRDName is the CustomResourceDefinition that must exist before a
// JobSet can be applied.
const JobSetCRDName = "jobsets.jobset.x-k8s.io"

const fieldManager = "gtrain"

var crdGVR = schema.GroupVersionResource{
	Group:    "apiextensions.k8s.io",
	Version:  "v1",
	Resource: "customresourcedefinitions",
}

// Cluster is the Kubernetes API surface the orchestrator needs.
type Cluster interface {
	HasJobSetCRD(ctx context.Context) (bool, error)
	// Apply creates or updates every object in a multi-document manifest.
	Apply(ctx context.Context, manifests []byte) error
}

// KubectlCluster drives the cluster through the kubectl binary.
type KubectlCluster struct {
	Exec shell.Executor
}

func (k *KubectlCluster) HasJobSetCRD(ctx context.Context) (bool, error) {
	res := k.Exec.Execute(ctx, "", "kubectl", "get", "crd", JobSetCRDName)
	switch {
	case res.ExitCode == 0:
		return true, nil
	case res.ExitCode < 0:
		return false, fmt.Errorf("failed to run kubectl: %s", res.Stderr)
	case strings.Contains(res.Stderr, "(NotFound)"):
		return false, nil
	}
	return false, fmt.Errorf("failed to check for JobSet CRD: %s\n%s", res.Stderr, res.Stdout)
}

func (k *KubectlCluster) Apply(ctx context.Context, manifests []byte) error {
	res := k.Exec.Execute(ctx, string(manifests), "kubectl", "apply", "--server-side", "--field-manager="+fieldManager, "-f", "-")
	if res.ExitCode != 0 {
		return fmt.Errorf("kubectl apply failed with exit code %d: %s\n%s", res.ExitCode, res.Stderr, res.Stdout)
	}
	logrus.Debugf("kubectl apply output:\n%s", res.Stdout)
	return nil
}

// APICluster talks to the API server directly with a dynamic client and
// server-side apply.
type APICluster struct {
	Client    dynamic.Interface
	Mapper    meta.RESTMapper
	Namespace string
}

// NewAPIClusterFromKubeconfig builds an APICluster from the default kubeconfig
// loading rules, i.e. the context written by `gcloud container clusters
// get-credentials`.
func NewAPIClusterFromKubeconfig() (*APICluster, error) {
	loader := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		clientcmd.NewDefaultClientConfigLoadingRules(), &clientcmd.ConfigOverrides{})
	cfg, err := loader.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	namespace, _, err := loader.Namespace()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve namespace from kubeconfig: %w", err)
	}
	client, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}
	disc, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery client: %w", err)
	}
	mapper := restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(disc))
	return &APICluster{Client: client, Mapper: mapper, Namespace: namespace}, nil
}

func (a *APICluster) HasJobSetCRD(ctx context.Context) (bool, error) {
	_, err := a.Client.Resource(crdGVR).Get(ctx, JobSetCRDName, metav1.GetOptions{})
	switch {
	case err == nil:
		return true, nil
	case apierrors.IsNotFound(err):
		return false, nil
	}
	return false, fmt.Errorf("failed to check for JobSet CRD: %w", err)
}

func (a *APICluster) Apply(ctx context.Context, manifests []byte) error {
	objs, err := decodeObjects(manifests)
	if err != nil {
		return err
	}
	for _, obj := range objs {
		if err := a.applyObject(ctx, obj); err != nil {
			return err
		}
	}
	return nil
}

func (a *APICluster) applyObject(ctx context.Context, obj *unstructured.Unstructured) error {
	gvk := obj.GroupVersionKind()
	mapping, err := a.Mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return fmt.Errorf("failed to map %s: %w", gvk, err)
	}

	var ri dynamic.ResourceInterface = a.Client.Resource(mapping.Resource)
	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		ns := obj.GetNamespace()
		if ns == "" {
			ns = a.Namespace
		}
		if ns == "" {
			ns = metav1.NamespaceDefault
		}
		obj.SetNamespace(ns)
		ri = a.Client.Resource(mapping.Resource).Namespace(ns)
	}

	data, err := obj.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode %s %q: %w", gvk.Kind, obj.GetName(), err)
	}
	force := true
	_, err = ri.Patch(ctx, obj.GetName(), types.ApplyPatchType, data, metav1.PatchOptions{
		FieldManager: fieldManager,
		Force:        &force,
	})
	if err != nil {
		return fmt.Errorf("failed to apply %s %q: %w", gvk.Kind, obj.GetName(), err)
	}
	logrus.Debugf("Applied %s %q", gvk.Kind, obj.GetName())
	return nil
}

// decodeObjects splits a multi-document YAML or JSON stream into objects,
// skipping empty documents.
func decodeObjects(manifests []byte) ([]*unstructured.Unstructured, error) {
	dec := utilyaml.NewYAMLOrJSONDecoder(bytes.NewReader(manifests), 4096)
	var objs []*unstructured.Unstructured
	for {
		var raw map[string]interface{}
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return objs, nil
			}
			return nil, fmt.Errorf("failed to decode manifest: %w", err)
		}
		if len(raw) == 0 {
			continue
		}
		obj := &unstructured.Unstructured{Object: raw}
		if obj.GetKind() == "" || obj.GetName() == "" {
			return nil, fmt.Errorf("manifest document %d is missing kind or metadata.name", len(objs))
		}
		objs = append(objs, obj)
	}
}
