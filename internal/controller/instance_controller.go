// Package controller reconciles whistler instance declarations into
// running pods.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	whistlerv1 "github.com/whistler-io/whistler/api/v1"
	"github.com/whistler-io/whistler/internal/kube"
	"github.com/whistler-io/whistler/internal/metrics"
	"github.com/whistler-io/whistler/internal/store"
)

const (
	// containerName is the single workload container in every
	// instance pod. Interactive work is attached to it via exec.
	containerName = "main"

	// dataVolumeName backs the per-user claim inside the pod.
	dataVolumeName = store.UserDataVolume

	// dataMountPath is where the per-user claim is mounted. The
	// template's personalMountPath is advisory display metadata.
	dataMountPath = "/data"

	// gpuResourceName is emitted only as a limit, never a request.
	gpuResourceName = "nvidia.com/gpu"

	// PriorityClassPreemptible marks pods the scheduler may evict.
	PriorityClassPreemptible = "whistler-preemptible"

	// ClaimLabelApp labels the per-user claim.
	ClaimLabelApp = "whistler"

	// templateRetryAfter is the requeue delay while the referenced
	// template has not appeared yet.
	templateRetryAfter = 10 * time.Second

	// terminatingRetryAfter is the requeue delay while a previous
	// pod of the same name is being garbage-collected.
	terminatingRetryAfter = 2 * time.Second
)

// InstanceReconciler drives WhistlerInstance declarations to a running
// pod, creating the owner's namespace isolation and persistent claim
// on the way. Deletion needs no handler: the controller owner
// reference on the pod lets garbage collection cascade.
type InstanceReconciler struct {
	client.Client
	Scheme *runtime.Scheme

	// Store ensures the namespace and its ingress isolation.
	Store *store.Store

	// SystemNamespace is the fallback for template references that
	// do not resolve in the instance's own namespace.
	SystemNamespace string
}

// NewInstanceReconciler wires the reconciler over the shared clients.
func NewInstanceReconciler(clients *kube.Clients, st *store.Store) *InstanceReconciler {
	return &InstanceReconciler{
		Client:          clients.Client,
		Scheme:          clients.Scheme,
		Store:           st,
		SystemNamespace: clients.SystemNamespace,
	}
}

// SetupWithManager registers the reconciler with the manager.
func (r *InstanceReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&whistlerv1.WhistlerInstance{}).
		Owns(&corev1.Pod{}).
		Complete(r)
}

// Reconcile materializes one instance declaration.
func (r *InstanceReconciler) Reconcile(ctx context.Context, req ctrl.Request) (result ctrl.Result, err error) {
	defer func() {
		switch {
		case err != nil:
			metrics.ReconcilesTotal.WithLabelValues("error").Inc()
		case result.RequeueAfter > 0:
			metrics.ReconcilesTotal.WithLabelValues("requeue").Inc()
		default:
			metrics.ReconcilesTotal.WithLabelValues("ok").Inc()
		}
	}()

	var instance whistlerv1.WhistlerInstance
	if err := r.Get(ctx, req.NamespacedName, &instance); err != nil {
		if apierrors.IsNotFound(err) {
			// Deleted. The pod follows via its owner reference.
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	template, err := r.resolveTemplate(ctx, &instance)
	if err != nil {
		return ctrl.Result{}, err
	}
	if template == nil {
		slog.Info("template not found yet, will retry",
			"instance", instance.Name, "template", instance.Spec.TemplateRef)
		return ctrl.Result{RequeueAfter: templateRetryAfter}, nil
	}

	owner := instance.Spec.User
	if _, err := r.Store.EnsureUserNamespace(ctx, owner); err != nil {
		return ctrl.Result{}, err
	}
	if err := r.ensureClaim(ctx, owner); err != nil {
		return ctrl.Result{}, err
	}

	pod, err := r.buildPod(&instance, template)
	if err != nil {
		return ctrl.Result{}, err
	}

	if err := r.Create(ctx, pod); err != nil {
		if !apierrors.IsAlreadyExists(err) {
			return ctrl.Result{}, fmt.Errorf("create pod %s: %w", pod.Name, err)
		}
		// Don't race the garbage collector for the name.
		var existing corev1.Pod
		if err := r.Get(ctx, types.NamespacedName{Namespace: pod.Namespace, Name: pod.Name}, &existing); err != nil {
			return ctrl.Result{}, err
		}
		if existing.DeletionTimestamp != nil {
			return ctrl.Result{RequeueAfter: terminatingRetryAfter}, nil
		}
		return ctrl.Result{}, nil
	}

	slog.Info("pod created", "pod", pod.Name, "namespace", pod.Namespace,
		"image", template.Spec.Image, "user", owner)
	return ctrl.Result{}, nil
}

// resolveTemplate reads the referenced template from the instance's
// namespace, falling back to the system namespace for platform
// templates. A nil result with nil error means not found.
func (r *InstanceReconciler) resolveTemplate(ctx context.Context, instance *whistlerv1.WhistlerInstance) (*whistlerv1.WhistlerTemplate, error) {
	ref := instance.Spec.TemplateRef

	var template whistlerv1.WhistlerTemplate
	err := r.Get(ctx, types.NamespacedName{Namespace: instance.Namespace, Name: ref}, &template)
	if err == nil {
		return &template, nil
	}
	if !apierrors.IsNotFound(err) {
		return nil, fmt.Errorf("get template %s: %w", ref, err)
	}

	err = r.Get(ctx, types.NamespacedName{Namespace: r.SystemNamespace, Name: ref}, &template)
	if err == nil {
		return &template, nil
	}
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	return nil, fmt.Errorf("get template %s: %w", ref, err)
}

// ensureClaim creates the owner's persistent claim if absent.
func (r *InstanceReconciler) ensureClaim(ctx context.Context, owner string) error {
	storage, err := resource.ParseQuantity("10Gi")
	if err != nil {
		return err
	}

	claim := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      kube.UserClaimName(owner),
			Namespace: kube.UserNamespace(owner),
			Labels: map[string]string{
				"app":  ClaimLabelApp,
				"user": owner,
			},
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: storage},
			},
		},
	}
	if err := r.Create(ctx, claim); err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("create claim %s: %w", claim.Name, err)
	}
	return nil
}

// buildPod constructs the instance pod from the template declaration.
func (r *InstanceReconciler) buildPod(instance *whistlerv1.WhistlerInstance, template *whistlerv1.WhistlerTemplate) (*corev1.Pod, error) {
	owner := instance.Spec.User
	shortName := store.FullName(instance.Name).Short(owner)

	requirements, err := resourceRequirements(template.Spec.Resources)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", template.Name, err)
	}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      instance.Name,
			Namespace: instance.Namespace,
			Labels: map[string]string{
				store.PodLabelApp:      store.PodLabelAppValue,
				store.PodLabelInstance: instance.Name,
				store.PodLabelUser:     owner,
			},
		},
		Spec: corev1.PodSpec{
			Hostname:     string(shortName),
			NodeSelector: template.Spec.NodeSelector,
			Containers: []corev1.Container{{
				Name:      containerName,
				Image:     template.Spec.Image,
				Command:   []string{"sleep", "3600"},
				Resources: requirements,
				VolumeMounts: []corev1.VolumeMount{{
					Name:      dataVolumeName,
					MountPath: dataMountPath,
				}},
			}},
			Volumes: []corev1.Volume{{
				Name: dataVolumeName,
				VolumeSource: corev1.VolumeSource{
					PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
						ClaimName: kube.UserClaimName(owner),
					},
				},
			}},
		},
	}
	if instance.Spec.Preemptible {
		pod.Spec.PriorityClassName = PriorityClassPreemptible
	}

	if err := controllerutil.SetControllerReference(instance, pod, r.Scheme); err != nil {
		return nil, fmt.Errorf("set owner reference: %w", err)
	}
	return pod, nil
}

// resourceRequirements maps the template's resource declaration onto
// container requirements: cpu and memory mirrored request=limit, gpu
// only as a limit.
func resourceRequirements(spec whistlerv1.ResourceSpec) (corev1.ResourceRequirements, error) {
	requirements := corev1.ResourceRequirements{
		Requests: corev1.ResourceList{},
		Limits:   corev1.ResourceList{},
	}

	set := func(name corev1.ResourceName, value string, requestToo bool) error {
		if value == "" {
			return nil
		}
		quantity, err := resource.ParseQuantity(value)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", name, value, err)
		}
		requirements.Limits[name] = quantity
		if requestToo {
			requirements.Requests[name] = quantity
		}
		return nil
	}

	if err := set(corev1.ResourceCPU, spec.CPU, true); err != nil {
		return requirements, err
	}
	if err := set(corev1.ResourceMemory, spec.Memory, true); err != nil {
		return requirements, err
	}
	if err := set(gpuResourceName, spec.GPU, false); err != nil {
		return requirements, err
	}
	return requirements, nil
}
