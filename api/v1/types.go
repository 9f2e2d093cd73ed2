package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// SystemOwner is the owner recorded on templates published by the
// platform rather than by a user. System templates live in the system
// namespace; user templates live in the owner's namespace.
const SystemOwner = "system"

// ResourceSpec holds the compute shape of a template. CPU and memory
// use Kubernetes quantity syntax ("500m", "512Mi"). GPU is a plain
// count and is emitted only as an nvidia.com/gpu limit.
type ResourceSpec struct {
	CPU    string `json:"cpu,omitempty"`
	Memory string `json:"memory,omitempty"`
	GPU    string `json:"gpu,omitempty"`
}

// WhistlerTemplateSpec defines the blueprint an instance references.
type WhistlerTemplateSpec struct {
	// User is the owner of the template, or "system".
	User string `json:"user"`

	// Image is the container image run by instances of this template.
	Image string `json:"image"`

	Description string `json:"description,omitempty"`

	Resources ResourceSpec `json:"resources,omitempty"`

	// NodeSelector constrains placement of instance pods.
	NodeSelector map[string]string `json:"nodeSelector,omitempty"`

	// PersonalMountPath is where the per-user volume is presented to
	// the user. Advisory: the reconciled pod mounts the user claim at
	// /data regardless; this path drives the MOTD fallback only.
	PersonalMountPath string `json:"personalMountPath,omitempty"`

	// Volumes maps shared volume names to mount paths.
	Volumes map[string]string `json:"volumes,omitempty"`
}

// +kubebuilder:object:root=true

// WhistlerTemplate is a declarative blueprint for a sandbox container.
// The object name is the cluster-unique full name: "{owner}-{name}"
// for user templates, the bare name for system templates.
type WhistlerTemplate struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec WhistlerTemplateSpec `json:"spec,omitempty"`
}

// +kubebuilder:object:root=true

// WhistlerTemplateList contains a list of WhistlerTemplate.
type WhistlerTemplateList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []WhistlerTemplate `json:"items"`
}

// WhistlerInstanceSpec defines a request for one running sandbox pod.
type WhistlerInstanceSpec struct {
	// TemplateRef is the full name of the referenced WhistlerTemplate.
	TemplateRef string `json:"templateRef"`

	// User is the owning user. The instance lives in that user's
	// namespace and the child pod carries a user=<User> label.
	User string `json:"user"`

	// Preemptible pods get the whistler-preemptible priority class.
	Preemptible bool `json:"preemptible,omitempty"`
}

// +kubebuilder:object:root=true

// WhistlerInstance is a declarative request for a running sandbox.
// The object name is "{owner}-{shortName}" and doubles as the child
// pod name.
type WhistlerInstance struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec WhistlerInstanceSpec `json:"spec,omitempty"`
}

// +kubebuilder:object:root=true

// WhistlerInstanceList contains a list of WhistlerInstance.
type WhistlerInstanceList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []WhistlerInstance `json:"items"`
}
