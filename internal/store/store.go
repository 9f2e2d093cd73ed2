package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	whistlerv1 "github.com/whistler-io/whistler/api/v1"
	"github.com/whistler-io/whistler/internal/kube"
)

// Labels stamped on user namespaces and claims.
const (
	LabelUser    = "whistler.io/user"
	LabelManaged = "whistler.io/managed"

	// NetworkPolicyName is the deny-all-ingress policy present in
	// every user namespace.
	NetworkPolicyName = "isolate-user-pods"

	// AnnotationLastConnect nudges the reconciler without changing
	// the instance spec.
	AnnotationLastConnect = "whistler.io/last-connect"
)

// Pod labels forming the instance/pod join contract.
const (
	PodLabelApp      = "app"
	PodLabelAppValue = "whistler-instance"
	PodLabelInstance = "instance"
	PodLabelUser     = "user"
)

// ErrInstanceNotFound reports a lookup of an instance the owner does
// not have.
type ErrInstanceNotFound struct {
	Owner string
	Name  ShortName
}

func (e *ErrInstanceNotFound) Error() string {
	return fmt.Sprintf("instance %q not found for user %s", e.Name, e.Owner)
}

// Store is the cluster-backed instance/template facade.
type Store struct {
	client          client.Client
	systemNamespace string
}

// New returns a Store over the shared cluster clients.
func New(clients *kube.Clients) *Store {
	return &Store{
		client:          clients.Client,
		systemNamespace: clients.SystemNamespace,
	}
}

// ListTemplates returns the templates visible to owner: system
// templates from the system namespace plus the owner's namespace
// templates owned by the user or by the platform. Display names have
// the owner prefix stripped; system templates sort first.
func (s *Store) ListTemplates(ctx context.Context, owner string) ([]Template, error) {
	var templates []Template

	namespaces := []string{s.systemNamespace}
	if userNS := kube.UserNamespace(owner); userNS != s.systemNamespace {
		namespaces = append(namespaces, userNS)
	}

	for _, ns := range namespaces {
		var list whistlerv1.WhistlerTemplateList
		if err := s.client.List(ctx, &list, client.InNamespace(ns)); err != nil {
			if isMissing(err) {
				continue
			}
			return nil, fmt.Errorf("list templates in %s: %w", ns, err)
		}
		for i := range list.Items {
			item := &list.Items[i]
			switch item.Spec.User {
			case whistlerv1.SystemOwner:
				templates = append(templates, templateView(item, FullName(item.Name).asShort(), SourceSystem))
			case owner:
				templates = append(templates, templateView(item, FullName(item.Name).Short(owner), SourceUser))
			}
		}
	}

	// System templates first, otherwise preserve list order.
	sort.SliceStable(templates, func(i, j int) bool {
		return templates[i].Source < templates[j].Source
	})
	return templates, nil
}

// FindTemplate resolves a template by its short display name among the
// templates visible to owner. Returns nil when no template matches.
func (s *Store) FindTemplate(ctx context.Context, owner string, name ShortName) (*Template, error) {
	templates, err := s.ListTemplates(ctx, owner)
	if err != nil {
		return nil, err
	}
	for i := range templates {
		if templates[i].Name == name {
			return &templates[i], nil
		}
	}
	return nil, nil
}

// ListInstances returns the owner's instances joined with live pod
// state. A namespace that does not exist yet reads as no instances.
func (s *Store) ListInstances(ctx context.Context, owner string) ([]Instance, error) {
	ns := kube.UserNamespace(owner)

	var list whistlerv1.WhistlerInstanceList
	if err := s.client.List(ctx, &list, client.InNamespace(ns)); err != nil {
		if isMissing(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list instances: %w", err)
	}

	pods, err := s.podsByInstance(ctx, owner)
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(list.Items))
	for i := range list.Items {
		item := &list.Items[i]
		instances = append(instances, instanceView(owner, item, pods[item.Name]))
	}
	return instances, nil
}

// GetInstance resolves one instance of owner by short name, joined
// with its pod state.
func (s *Store) GetInstance(ctx context.Context, owner string, name ShortName) (*Instance, error) {
	ns := kube.UserNamespace(owner)
	fullName := Qualify(owner, name)

	var obj whistlerv1.WhistlerInstance
	if err := s.client.Get(ctx, types.NamespacedName{Namespace: ns, Name: string(fullName)}, &obj); err != nil {
		if isMissing(err) {
			return nil, &ErrInstanceNotFound{Owner: owner, Name: name}
		}
		return nil, fmt.Errorf("get instance: %w", err)
	}

	pods, err := s.podsByInstance(ctx, owner)
	if err != nil {
		return nil, err
	}

	view := instanceView(owner, &obj, pods[string(fullName)])
	return &view, nil
}

// CreateInstance ensures the owner's namespace and isolation policy
// exist, then writes the instance declaration. A name conflict is
// surfaced to the caller.
func (s *Store) CreateInstance(ctx context.Context, owner string, templateRef FullName, name ShortName, preemptible bool) error {
	ns, err := s.EnsureUserNamespace(ctx, owner)
	if err != nil {
		return err
	}

	inst := &whistlerv1.WhistlerInstance{
		ObjectMeta: metav1.ObjectMeta{
			Name:      string(Qualify(owner, name)),
			Namespace: ns,
		},
		Spec: whistlerv1.WhistlerInstanceSpec{
			TemplateRef: string(templateRef),
			User:        owner,
			Preemptible: preemptible,
		},
	}
	if err := s.client.Create(ctx, inst); err != nil {
		return fmt.Errorf("create instance %s: %w", inst.Name, err)
	}

	slog.Info("instance created", "user", owner, "instance", inst.Name, "template", templateRef, "preemptible", preemptible)
	return nil
}

// SaveTemplate writes a user template to the owner's namespace,
// replacing an existing one under its current resourceVersion so a
// concurrent update is not silently lost.
func (s *Store) SaveTemplate(ctx context.Context, owner string, tpl Template) error {
	ns, err := s.EnsureUserNamespace(ctx, owner)
	if err != nil {
		return err
	}

	fullName := Qualify(owner, tpl.Name)
	desired := &whistlerv1.WhistlerTemplate{
		ObjectMeta: metav1.ObjectMeta{
			Name:      string(fullName),
			Namespace: ns,
		},
		Spec: whistlerv1.WhistlerTemplateSpec{
			User:              owner,
			Image:             tpl.Image,
			Description:       tpl.Description,
			Resources:         tpl.Resources,
			NodeSelector:      tpl.NodeSelector,
			PersonalMountPath: tpl.PersonalMountPath,
			Volumes:           tpl.Volumes,
		},
	}

	var existing whistlerv1.WhistlerTemplate
	err = s.client.Get(ctx, types.NamespacedName{Namespace: ns, Name: string(fullName)}, &existing)
	switch {
	case err == nil:
		desired.ResourceVersion = existing.ResourceVersion
		if err := s.client.Update(ctx, desired); err != nil {
			return fmt.Errorf("update template %s: %w", fullName, err)
		}
	case isMissing(err):
		if err := s.client.Create(ctx, desired); err != nil {
			return fmt.Errorf("create template %s: %w", fullName, err)
		}
	default:
		return fmt.Errorf("get template %s: %w", fullName, err)
	}

	slog.Info("template saved", "user", owner, "template", fullName)
	return nil
}

// DeleteInstance removes the instance declaration. The reconciler's
// parent link garbage-collects the child pod.
func (s *Store) DeleteInstance(ctx context.Context, owner string, name ShortName) error {
	inst := &whistlerv1.WhistlerInstance{
		ObjectMeta: metav1.ObjectMeta{
			Name:      string(Qualify(owner, name)),
			Namespace: kube.UserNamespace(owner),
		},
	}
	if err := s.client.Delete(ctx, inst); err != nil {
		return fmt.Errorf("delete instance %s: %w", inst.Name, err)
	}
	slog.Info("instance deleted", "user", owner, "instance", inst.Name)
	return nil
}

// PatchInstanceAnnotation merge-patches one annotation onto the
// instance declaration, nudging the reconciler without a spec change.
func (s *Store) PatchInstanceAnnotation(ctx context.Context, owner string, name ShortName, key, value string) error {
	inst := &whistlerv1.WhistlerInstance{
		ObjectMeta: metav1.ObjectMeta{
			Name:      string(Qualify(owner, name)),
			Namespace: kube.UserNamespace(owner),
		},
	}
	patch := []byte(fmt.Sprintf(`{"metadata":{"annotations":{%q:%q}}}`, key, value))
	if err := s.client.Patch(ctx, inst, client.RawPatch(types.MergePatchType, patch)); err != nil {
		return fmt.Errorf("annotate instance %s: %w", inst.Name, err)
	}
	return nil
}

// EnsureUserNamespace creates the owner's namespace and its deny-all
// ingress policy if absent, and returns the namespace name.
func (s *Store) EnsureUserNamespace(ctx context.Context, owner string) (string, error) {
	ns := kube.UserNamespace(owner)

	namespace := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: ns,
			Labels: map[string]string{
				LabelUser:    owner,
				LabelManaged: "true",
			},
		},
	}
	if err := s.client.Create(ctx, namespace); err != nil && !apierrors.IsAlreadyExists(err) {
		return "", fmt.Errorf("create namespace %s: %w", ns, err)
	}

	policy := &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      NetworkPolicyName,
			Namespace: ns,
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress},
			// No ingress rules: deny all ingress.
		},
	}
	if err := s.client.Create(ctx, policy); err != nil && !apierrors.IsAlreadyExists(err) {
		return "", fmt.Errorf("create network policy in %s: %w", ns, err)
	}

	return ns, nil
}

// podsByInstance lists the owner's pods and indexes them by their
// instance label.
func (s *Store) podsByInstance(ctx context.Context, owner string) (map[string]*corev1.Pod, error) {
	var pods corev1.PodList
	err := s.client.List(ctx, &pods,
		client.InNamespace(kube.UserNamespace(owner)),
		client.MatchingLabels{PodLabelUser: owner},
	)
	if err != nil {
		if isMissing(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list pods: %w", err)
	}

	byInstance := make(map[string]*corev1.Pod, len(pods.Items))
	for i := range pods.Items {
		pod := &pods.Items[i]
		if instance, ok := pod.Labels[PodLabelInstance]; ok {
			byInstance[instance] = pod
		}
	}
	return byInstance, nil
}

func templateView(item *whistlerv1.WhistlerTemplate, name ShortName, source TemplateSource) Template {
	return Template{
		Name:              name,
		FullName:          FullName(item.Name),
		Source:            source,
		Image:             item.Spec.Image,
		Description:       item.Spec.Description,
		Resources:         item.Spec.Resources,
		NodeSelector:      item.Spec.NodeSelector,
		PersonalMountPath: item.Spec.PersonalMountPath,
		Volumes:           item.Spec.Volumes,
	}
}

func instanceView(owner string, item *whistlerv1.WhistlerInstance, pod *corev1.Pod) Instance {
	inst := Instance{
		Name:        FullName(item.Name).Short(owner),
		TemplateRef: FullName(item.Spec.TemplateRef),
		Status:      podStatus(pod),
		Preemptible: item.Spec.Preemptible,
		Mounts:      podMounts(pod),
	}
	if pod != nil {
		inst.PodName = pod.Name
		inst.IP = pod.Status.PodIP
	}
	return inst
}

// isMissing covers both a 404 and the "no matching resource" returned
// while the CRDs are not yet installed; both read as empty results.
func isMissing(err error) bool {
	return apierrors.IsNotFound(err) || meta.IsNoMatchError(err)
}

// asShort reinterprets a system template's object name as its display
// name (system templates carry no owner prefix).
func (f FullName) asShort() ShortName {
	return ShortName(f)
}
