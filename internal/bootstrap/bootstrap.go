// Package bootstrap installs the cluster prerequisites the gateway
// needs before it can serve sessions: the whistler.io CRDs and the
// preemptible priority class. Manifests are embedded at build time
// and applied with Server-Side Apply, so running the installer on
// every startup is safe.
package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/restmapper"

	"github.com/whistler-io/whistler/internal/kube"
	"github.com/whistler-io/whistler/manifests"
)

// fieldManager identifies the gateway as the owner of the applied
// fields, visible in kubectl's managedFields output.
const fieldManager = "whistler-gateway"

const (
	crdPollInterval = 2 * time.Second
	crdPollTimeout  = 60 * time.Second
)

// crdGVR addresses apiextensions.k8s.io/v1 CustomResourceDefinitions
// for the establishment poll.
var crdGVR = schema.GroupVersionResource{
	Group:    "apiextensions.k8s.io",
	Version:  "v1",
	Resource: "customresourcedefinitions",
}

// Installer applies the embedded manifests to the cluster the gateway
// runs against.
type Installer struct {
	dynamic dynamic.Interface
	disc    discovery.DiscoveryInterface
	log     *slog.Logger
}

// New constructs an Installer. The dynamic and discovery clients are
// built here from the shared rest.Config rather than injected, since
// nothing else in the process uses them.
func New(clients *kube.Clients) (*Installer, error) {
	dyn, err := dynamic.NewForConfig(clients.Config)
	if err != nil {
		return nil, fmt.Errorf("create dynamic client: %w", err)
	}

	disc, err := discovery.NewDiscoveryClientForConfig(clients.Config)
	if err != nil {
		return nil, fmt.Errorf("create discovery client: %w", err)
	}

	return &Installer{
		dynamic: dyn,
		disc:    disc,
		log:     slog.Default().With("component", "bootstrap"),
	}, nil
}

// Run applies every embedded manifest file in lexicographic order.
// Within a file, CRDs are applied first and awaited until Established
// so objects of those kinds can follow in the same run.
func (i *Installer) Run(ctx context.Context) error {
	entries, err := manifests.Bootstrap.ReadDir("bootstrap")
	if err != nil {
		return fmt.Errorf("read embedded manifests: %w", err)
	}
	sort.Slice(entries, func(a, b int) bool {
		return entries[a].Name() < entries[b].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := manifests.Bootstrap.ReadFile("bootstrap/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read manifest %s: %w", entry.Name(), err)
		}
		if err := i.applyFile(ctx, data); err != nil {
			return fmt.Errorf("apply manifest %s: %w", entry.Name(), err)
		}
	}

	i.log.Info("bootstrap manifests applied")
	return nil
}

func (i *Installer) applyFile(ctx context.Context, data []byte) error {
	objects, err := decodeObjects(data)
	if err != nil {
		return err
	}

	var crds, rest []*unstructured.Unstructured
	for _, obj := range objects {
		if obj.GetKind() == "CustomResourceDefinition" {
			crds = append(crds, obj)
		} else {
			rest = append(rest, obj)
		}
	}

	if len(crds) > 0 {
		mapper := i.newMapper()
		for _, crd := range crds {
			if err := i.apply(ctx, mapper, crd); err != nil {
				return fmt.Errorf("apply CRD %s: %w", crd.GetName(), err)
			}
			if err := i.awaitEstablished(ctx, crd.GetName()); err != nil {
				return err
			}
			i.log.Info("CRD established", "name", crd.GetName())
		}
	}

	if len(rest) == 0 {
		return nil
	}

	// Fresh mapper so resources of just-established CRDs resolve.
	mapper := i.newMapper()
	for _, obj := range rest {
		if err := i.apply(ctx, mapper, obj); err != nil {
			return fmt.Errorf("apply %s %s: %w", obj.GetKind(), obj.GetName(), err)
		}
		i.log.Info("applied resource", "kind", obj.GetKind(), "name", obj.GetName())
	}
	return nil
}

// apply issues a Server-Side Apply patch for one object.
func (i *Installer) apply(ctx context.Context, mapper meta.RESTMapper, obj *unstructured.Unstructured) error {
	gvk := obj.GroupVersionKind()
	mapping, err := mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return fmt.Errorf("map %s: %w", gvk, err)
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", obj.GetName(), err)
	}

	var c dynamic.ResourceInterface = i.dynamic.Resource(mapping.Resource)
	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		c = i.dynamic.Resource(mapping.Resource).Namespace(obj.GetNamespace())
	}

	force := true
	_, err = c.Patch(ctx, obj.GetName(), types.ApplyPatchType, data, metav1.PatchOptions{
		FieldManager: fieldManager,
		Force:        &force,
	})
	return err
}

// awaitEstablished polls the CRD until its Established condition is
// True. Transient read errors are retried until the timeout.
func (i *Installer) awaitEstablished(ctx context.Context, name string) error {
	err := wait.PollUntilContextTimeout(ctx, crdPollInterval, crdPollTimeout, true,
		func(ctx context.Context) (bool, error) {
			obj, err := i.dynamic.Resource(crdGVR).Get(ctx, name, metav1.GetOptions{})
			if err != nil {
				return false, nil
			}
			return isEstablished(obj), nil
		},
	)
	if err != nil {
		return fmt.Errorf("CRD %s did not become established: %w", name, err)
	}
	return nil
}

func isEstablished(obj *unstructured.Unstructured) bool {
	conditions, found, err := unstructured.NestedSlice(obj.Object, "status", "conditions")
	if err != nil || !found {
		return false
	}
	for _, c := range conditions {
		m, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		if m["type"] == "Established" && m["status"] == "True" {
			return true
		}
	}
	return false
}

// newMapper builds a REST mapper over cached discovery. A new mapper
// is needed after CRDs are applied for their resources to resolve.
func (i *Installer) newMapper() meta.RESTMapper {
	return restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(i.disc))
}

// decodeObjects splits multi-document YAML into unstructured objects,
// dropping empty documents.
func decodeObjects(data []byte) ([]*unstructured.Unstructured, error) {
	var objects []*unstructured.Unstructured

	decoder := utilyaml.NewYAMLOrJSONDecoder(bytes.NewReader(data), 4096)
	for {
		obj := &unstructured.Unstructured{}
		if err := decoder.Decode(obj); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode document: %w", err)
		}
		if obj.GetKind() == "" {
			continue
		}
		objects = append(objects, obj)
	}

	return objects, nil
}
