// Package store is the typed facade over the declarative whistler
// records in the cluster. It owns no durable state; every operation is
// a single logical round-trip and retry is the caller's policy.
package store

import (
	"strings"

	corev1 "k8s.io/api/core/v1"

	whistlerv1 "github.com/whistler-io/whistler/api/v1"
)

// ShortName is a user-visible resource name without the owner prefix.
type ShortName string

// FullName is a cluster object name: "{owner}-{shortName}" for
// user-owned resources. Kept distinct from ShortName so prefix
// stripping mistakes fail to type-check.
type FullName string

// Qualify builds the cluster object name for an owner's resource.
func Qualify(owner string, name ShortName) FullName {
	return FullName(owner + "-" + string(name))
}

// Short strips the owner prefix from a full name. Names without the
// prefix (system resources) are returned unchanged.
func (f FullName) Short(owner string) ShortName {
	return ShortName(strings.TrimPrefix(string(f), owner+"-"))
}

// TemplateSource distinguishes platform templates from user ones.
type TemplateSource string

const (
	SourceSystem TemplateSource = "system"
	SourceUser   TemplateSource = "user"
)

// Template is the store's view of a WhistlerTemplate, with display
// name and source resolved.
type Template struct {
	Name              ShortName
	FullName          FullName
	Source            TemplateSource
	Image             string
	Description       string
	Resources         whistlerv1.ResourceSpec
	NodeSelector      map[string]string
	PersonalMountPath string
	Volumes           map[string]string
}

// InstanceStatus is the joined instance/pod state shown to users.
// Beyond the pod phases, Terminating is reported whenever the pod has
// a deletion timestamp and Stopped when no pod exists.
type InstanceStatus string

const (
	StatusPending     InstanceStatus = "Pending"
	StatusRunning     InstanceStatus = "Running"
	StatusTerminating InstanceStatus = "Terminating"
	StatusStopped     InstanceStatus = "Stopped"
)

// UserDataVolume is the pod volume name backing the per-user claim.
const UserDataVolume = "data"

// Mount is one container volume mount surfaced to the user.
type Mount struct {
	Name string
	Path string
}

// Instance is the store's view of a WhistlerInstance joined with its
// pod state.
type Instance struct {
	Name        ShortName
	TemplateRef FullName
	Status      InstanceStatus
	PodName     string
	IP          string
	Mounts      []Mount
	Preemptible bool
}

// secretsMountPrefix hides the service-account projections from the
// user-facing mount list.
const secretsMountPrefix = "/var/run/secrets"

// podMounts extracts the user-visible mounts of the pod's first
// container.
func podMounts(pod *corev1.Pod) []Mount {
	if pod == nil || len(pod.Spec.Containers) == 0 {
		return nil
	}
	var mounts []Mount
	for _, m := range pod.Spec.Containers[0].VolumeMounts {
		if strings.HasPrefix(m.MountPath, secretsMountPrefix) {
			continue
		}
		mounts = append(mounts, Mount{Name: m.Name, Path: m.MountPath})
	}
	return mounts
}

// podStatus maps a pod (possibly nil) to the joined status.
func podStatus(pod *corev1.Pod) InstanceStatus {
	if pod == nil {
		return StatusStopped
	}
	if pod.DeletionTimestamp != nil {
		return StatusTerminating
	}
	return InstanceStatus(pod.Status.Phase)
}
