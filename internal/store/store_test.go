package store

import (
	"context"
	"errors"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	whistlerv1 "github.com/whistler-io/whistler/api/v1"
	"github.com/whistler-io/whistler/internal/kube"
)

func newScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := corev1.AddToScheme(scheme); err != nil {
		t.Fatal(err)
	}
	if err := networkingv1.AddToScheme(scheme); err != nil {
		t.Fatal(err)
	}
	if err := whistlerv1.AddToScheme(scheme); err != nil {
		t.Fatal(err)
	}
	return scheme
}

func newStore(t *testing.T, objs ...client.Object) (*Store, client.Client) {
	t.Helper()
	c := fake.NewClientBuilder().
		WithScheme(newScheme(t)).
		WithObjects(objs...).
		Build()
	s := New(&kube.Clients{Client: c, SystemNamespace: "whistler"})
	return s, c
}

func systemTemplate(name, image string) *whistlerv1.WhistlerTemplate {
	return &whistlerv1.WhistlerTemplate{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "whistler"},
		Spec: whistlerv1.WhistlerTemplateSpec{
			User:  whistlerv1.SystemOwner,
			Image: image,
		},
	}
}

func userTemplate(owner, short, image string) *whistlerv1.WhistlerTemplate {
	return &whistlerv1.WhistlerTemplate{
		ObjectMeta: metav1.ObjectMeta{
			Name:      owner + "-" + short,
			Namespace: kube.UserNamespace(owner),
		},
		Spec: whistlerv1.WhistlerTemplateSpec{User: owner, Image: image},
	}
}

func instanceObj(owner, short, templateRef string) *whistlerv1.WhistlerInstance {
	return &whistlerv1.WhistlerInstance{
		ObjectMeta: metav1.ObjectMeta{
			Name:      owner + "-" + short,
			Namespace: kube.UserNamespace(owner),
		},
		Spec: whistlerv1.WhistlerInstanceSpec{
			TemplateRef: templateRef,
			User:        owner,
		},
	}
}

func instancePod(owner, fullName string, phase corev1.PodPhase) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      fullName,
			Namespace: kube.UserNamespace(owner),
			Labels: map[string]string{
				PodLabelApp:      PodLabelAppValue,
				PodLabelInstance: fullName,
				PodLabelUser:     owner,
			},
		},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{
				Name: "main",
				VolumeMounts: []corev1.VolumeMount{
					{Name: "data", MountPath: "/data"},
					{Name: "kube-api-access", MountPath: "/var/run/secrets/kubernetes.io/serviceaccount"},
				},
			}},
		},
		Status: corev1.PodStatus{Phase: phase, PodIP: "10.0.0.7"},
	}
}

func TestQualifyAndShort(t *testing.T) {
	full := Qualify("alice", "dev1")
	if full != "alice-dev1" {
		t.Fatalf("Qualify = %q, want alice-dev1", full)
	}
	if got := full.Short("alice"); got != "dev1" {
		t.Errorf("Short = %q, want dev1", got)
	}
	// System names have no prefix to strip.
	if got := FullName("small").Short("alice"); got != "small" {
		t.Errorf("Short = %q, want small", got)
	}
}

func TestListTemplates(t *testing.T) {
	s, _ := newStore(t,
		userTemplate("alice", "custom", "alice/custom:1"),
		systemTemplate("small", "ubuntu:22.04"),
		&whistlerv1.WhistlerTemplate{ // other user's template is invisible
			ObjectMeta: metav1.ObjectMeta{Name: "bob-hidden", Namespace: kube.UserNamespace("alice")},
			Spec:       whistlerv1.WhistlerTemplateSpec{User: "bob", Image: "x"},
		},
	)

	templates, err := s.ListTemplates(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ListTemplates: %v", err)
	}
	if len(templates) != 2 {
		t.Fatalf("got %d templates, want 2", len(templates))
	}
	if templates[0].Source != SourceSystem || templates[0].Name != "small" {
		t.Errorf("first template = %+v, want system/small", templates[0])
	}
	if templates[1].Name != "custom" || templates[1].FullName != "alice-custom" {
		t.Errorf("user template = %+v, want custom/alice-custom", templates[1])
	}
}

func TestFindTemplate(t *testing.T) {
	s, _ := newStore(t, systemTemplate("small", "ubuntu:22.04"))

	tpl, err := s.FindTemplate(context.Background(), "alice", "small")
	if err != nil {
		t.Fatalf("FindTemplate: %v", err)
	}
	if tpl == nil || tpl.Image != "ubuntu:22.04" {
		t.Fatalf("FindTemplate = %+v, want small template", tpl)
	}

	missing, err := s.FindTemplate(context.Background(), "alice", "dev1")
	if err != nil {
		t.Fatalf("FindTemplate: %v", err)
	}
	if missing != nil {
		t.Errorf("FindTemplate(dev1) = %+v, want nil", missing)
	}
}

func TestListInstancesJoinsPodState(t *testing.T) {
	running := instancePod("alice", "alice-dev1", corev1.PodRunning)

	terminating := instancePod("alice", "alice-dev2", corev1.PodRunning)
	now := metav1.NewTime(time.Now())
	terminating.DeletionTimestamp = &now
	terminating.Finalizers = []string{"whistler.io/test"}

	s, _ := newStore(t,
		instanceObj("alice", "dev1", "small"),
		instanceObj("alice", "dev2", "small"),
		instanceObj("alice", "dev3", "small"),
		running,
		terminating,
	)

	instances, err := s.ListInstances(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	byName := map[ShortName]Instance{}
	for _, inst := range instances {
		byName[inst.Name] = inst
	}

	if got := byName["dev1"]; got.Status != StatusRunning || got.PodName != "alice-dev1" || got.IP != "10.0.0.7" {
		t.Errorf("dev1 = %+v, want Running with pod name and IP", got)
	}
	if got := len(byName["dev1"].Mounts); got != 1 {
		t.Errorf("dev1 mounts = %d, want 1 (secrets mount hidden)", got)
	}
	if got := byName["dev2"]; got.Status != StatusTerminating {
		t.Errorf("dev2 status = %q, want Terminating", got.Status)
	}
	if got := byName["dev3"]; got.Status != StatusStopped || got.PodName != "" {
		t.Errorf("dev3 = %+v, want Stopped without pod", got)
	}
}

func TestListInstancesEmptyWithoutNamespace(t *testing.T) {
	s, _ := newStore(t)
	instances, err := s.ListInstances(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	if len(instances) != 0 {
		t.Errorf("got %d instances, want 0", len(instances))
	}
}

func TestCreateInstance(t *testing.T) {
	s, c := newStore(t)
	ctx := context.Background()

	if err := s.CreateInstance(ctx, "alice", "small", "dev1", true); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	var inst whistlerv1.WhistlerInstance
	key := types.NamespacedName{Namespace: "whistler-user-alice", Name: "alice-dev1"}
	if err := c.Get(ctx, key, &inst); err != nil {
		t.Fatalf("instance not written: %v", err)
	}
	if inst.Spec.TemplateRef != "small" || inst.Spec.User != "alice" || !inst.Spec.Preemptible {
		t.Errorf("instance spec = %+v", inst.Spec)
	}

	var ns corev1.Namespace
	if err := c.Get(ctx, types.NamespacedName{Name: "whistler-user-alice"}, &ns); err != nil {
		t.Fatalf("namespace not created: %v", err)
	}
	if ns.Labels[LabelUser] != "alice" || ns.Labels[LabelManaged] != "true" {
		t.Errorf("namespace labels = %v", ns.Labels)
	}

	var policy networkingv1.NetworkPolicy
	if err := c.Get(ctx, types.NamespacedName{Namespace: "whistler-user-alice", Name: NetworkPolicyName}, &policy); err != nil {
		t.Fatalf("network policy not created: %v", err)
	}
	if len(policy.Spec.Ingress) != 0 {
		t.Error("policy should admit no ingress")
	}
	if len(policy.Spec.PolicyTypes) != 1 || policy.Spec.PolicyTypes[0] != networkingv1.PolicyTypeIngress {
		t.Errorf("policy types = %v, want [Ingress]", policy.Spec.PolicyTypes)
	}

	// Name conflicts are surfaced.
	err := s.CreateInstance(ctx, "alice", "small", "dev1", false)
	if err == nil || !apierrors.IsAlreadyExists(errors.Unwrap(err)) {
		t.Errorf("duplicate create = %v, want AlreadyExists", err)
	}
}

func TestSaveTemplateCreateThenUpdate(t *testing.T) {
	s, c := newStore(t)
	ctx := context.Background()

	tpl := Template{Name: "custom", Image: "a:1", PersonalMountPath: "/userdata"}
	if err := s.SaveTemplate(ctx, "alice", tpl); err != nil {
		t.Fatalf("SaveTemplate create: %v", err)
	}

	tpl.Image = "a:2"
	if err := s.SaveTemplate(ctx, "alice", tpl); err != nil {
		t.Fatalf("SaveTemplate update: %v", err)
	}

	var obj whistlerv1.WhistlerTemplate
	key := types.NamespacedName{Namespace: "whistler-user-alice", Name: "alice-custom"}
	if err := c.Get(ctx, key, &obj); err != nil {
		t.Fatalf("template not written: %v", err)
	}
	if obj.Spec.Image != "a:2" {
		t.Errorf("image = %q, want a:2", obj.Spec.Image)
	}
	if obj.Spec.User != "alice" {
		t.Errorf("user = %q, want alice", obj.Spec.User)
	}
}

func TestDeleteInstance(t *testing.T) {
	s, c := newStore(t, instanceObj("alice", "dev1", "small"))
	ctx := context.Background()

	if err := s.DeleteInstance(ctx, "alice", "dev1"); err != nil {
		t.Fatalf("DeleteInstance: %v", err)
	}

	var obj whistlerv1.WhistlerInstance
	key := types.NamespacedName{Namespace: "whistler-user-alice", Name: "alice-dev1"}
	if err := c.Get(ctx, key, &obj); !apierrors.IsNotFound(err) {
		t.Errorf("instance still present after delete: %v", err)
	}
}

func TestGetInstanceNotFound(t *testing.T) {
	s, _ := newStore(t)

	_, err := s.GetInstance(context.Background(), "alice", "ghost")
	var notFound *ErrInstanceNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want ErrInstanceNotFound", err)
	}
	if notFound.Name != "ghost" {
		t.Errorf("name = %q, want ghost", notFound.Name)
	}
}

func TestPatchInstanceAnnotation(t *testing.T) {
	s, c := newStore(t, instanceObj("alice", "dev1", "small"))
	ctx := context.Background()

	if err := s.PatchInstanceAnnotation(ctx, "alice", "dev1", AnnotationLastConnect, "1700000000"); err != nil {
		t.Fatalf("PatchInstanceAnnotation: %v", err)
	}

	var obj whistlerv1.WhistlerInstance
	key := types.NamespacedName{Namespace: "whistler-user-alice", Name: "alice-dev1"}
	if err := c.Get(ctx, key, &obj); err != nil {
		t.Fatal(err)
	}
	if got := obj.Annotations[AnnotationLastConnect]; got != "1700000000" {
		t.Errorf("annotation = %q, want 1700000000", got)
	}
}
