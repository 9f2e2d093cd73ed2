// Package v1 contains the whistler.io/v1 API types: WhistlerTemplate,
// a declarative blueprint for a sandbox container, and WhistlerInstance,
// a request for one running sandbox pod owned by a single user.
package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// GroupVersion identifies the whistler.io/v1 API group.
var GroupVersion = schema.GroupVersion{Group: "whistler.io", Version: "v1"}

// SchemeBuilder collects functions that add the whistler types to a scheme.
var SchemeBuilder = runtime.NewSchemeBuilder(addKnownTypes)

// AddToScheme adds the whistler.io/v1 types to the given scheme.
var AddToScheme = SchemeBuilder.AddToScheme

func addKnownTypes(s *runtime.Scheme) error {
	s.AddKnownTypes(GroupVersion,
		&WhistlerTemplate{},
		&WhistlerTemplateList{},
		&WhistlerInstance{},
		&WhistlerInstanceList{},
	)
	metav1.AddToGroupVersion(s, GroupVersion)
	return nil
}
