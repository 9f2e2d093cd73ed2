package bootstrap

import (
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/whistler-io/whistler/manifests"
)

func TestDecodeObjectsSplitsDocuments(t *testing.T) {
	data := []byte(`apiVersion: v1
kind: Namespace
metadata:
  name: one
---
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: two
`)

	objects, err := decodeObjects(data)
	if err != nil {
		t.Fatalf("decodeObjects: %v", err)
	}
	if got, want := len(objects), 2; got != want {
		t.Fatalf("object count = %d, want %d", got, want)
	}
	if got, want := objects[0].GetKind(), "Namespace"; got != want {
		t.Errorf("first kind = %q, want %q", got, want)
	}
	if got, want := objects[1].GetName(), "two"; got != want {
		t.Errorf("second name = %q, want %q", got, want)
	}
}

func TestDecodeObjectsRejectsGarbage(t *testing.T) {
	if _, err := decodeObjects([]byte("{not yaml: [")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestEmbeddedManifestsDecode(t *testing.T) {
	entries, err := manifests.Bootstrap.ReadDir("bootstrap")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no embedded manifests")
	}

	names := map[string]bool{}
	for _, entry := range entries {
		data, err := manifests.Bootstrap.ReadFile("bootstrap/" + entry.Name())
		if err != nil {
			t.Fatalf("ReadFile %s: %v", entry.Name(), err)
		}
		objects, err := decodeObjects(data)
		if err != nil {
			t.Fatalf("decode %s: %v", entry.Name(), err)
		}
		for _, obj := range objects {
			names[obj.GetName()] = true
		}
	}

	for _, want := range []string{
		"whistlertemplates.whistler.io",
		"whistlerinstances.whistler.io",
		"whistler-preemptible",
	} {
		if !names[want] {
			t.Errorf("embedded manifests missing %s", want)
		}
	}
}

func TestIsEstablished(t *testing.T) {
	tests := []struct {
		name       string
		conditions []interface{}
		want       bool
	}{
		{"no conditions", nil, false},
		{
			"established",
			[]interface{}{
				map[string]interface{}{"type": "Established", "status": "True"},
			},
			true,
		},
		{
			"not yet",
			[]interface{}{
				map[string]interface{}{"type": "Established", "status": "False"},
				map[string]interface{}{"type": "NamesAccepted", "status": "True"},
			},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := &unstructured.Unstructured{Object: map[string]interface{}{}}
			if tt.conditions != nil {
				obj.Object["status"] = map[string]interface{}{"conditions": tt.conditions}
			}
			if got := isEstablished(obj); got != tt.want {
				t.Errorf("isEstablished = %v, want %v", got, tt.want)
			}
		})
	}
}
