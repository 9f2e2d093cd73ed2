// Package kube holds the cluster plumbing shared by the gateway,
// the instance store, and the reconciler: client construction, system
// namespace resolution, and the exec/port-forward byte transports.
package kube

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"

	whistlerv1 "github.com/whistler-io/whistler/api/v1"
	"github.com/whistler-io/whistler/internal/config"
)

const (
	// serviceAccountNamespaceFile is where the kubelet projects the
	// pod's own namespace.
	serviceAccountNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

	// defaultSystemNamespace is used when neither POD_NAMESPACE nor
	// the service account projection is available.
	defaultSystemNamespace = "whistler"
)

// Clients bundles the typed clientset (pods, exec subresources), the
// controller-runtime client (whistler CRs, namespaces, policies), the
// shared rest.Config (SPDY transports), and the registered scheme.
type Clients struct {
	Config    *rest.Config
	Clientset kubernetes.Interface
	Client    client.Client
	Scheme    *runtime.Scheme

	// SystemNamespace holds system templates and the gateway's own
	// resources.
	SystemNamespace string
}

// New resolves the rest.Config per the CLI flags and constructs all
// clients. With --in-cluster the pod service account is used; with
// --kubeconfig the given file; otherwise in-cluster is attempted with
// a kubeconfig fallback for local development.
func New(conf *config.Config) (*Clients, error) {
	cfg, err := restConfig(conf)
	if err != nil {
		return nil, err
	}

	scheme := runtime.NewScheme()
	if err := corev1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register core/v1: %w", err)
	}
	if err := networkingv1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register networking/v1: %w", err)
	}
	if err := whistlerv1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register whistler.io/v1: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create clientset: %w", err)
	}

	c, err := client.New(cfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	return &Clients{
		Config:          cfg,
		Clientset:       clientset,
		Client:          c,
		Scheme:          scheme,
		SystemNamespace: SystemNamespace(),
	}, nil
}

func restConfig(conf *config.Config) (*rest.Config, error) {
	if conf.InCluster() {
		return rest.InClusterConfig()
	}
	if path := conf.Kubeconfig(); path != "" {
		return clientcmd.BuildConfigFromFlags("", path)
	}
	cfg, err := rest.InClusterConfig()
	if err != nil {
		slog.Warn("in-cluster config not available, falling back to kubeconfig", "error", err)
		return clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
	}
	return cfg, nil
}

// SystemNamespace resolves the namespace holding system templates:
// POD_NAMESPACE env, then the service account projection, then the
// compiled default.
func SystemNamespace() string {
	if ns := os.Getenv("POD_NAMESPACE"); ns != "" {
		return ns
	}
	if data, err := os.ReadFile(serviceAccountNamespaceFile); err == nil {
		if ns := strings.TrimSpace(string(data)); ns != "" {
			return ns
		}
	}
	return defaultSystemNamespace
}

// UserNamespace derives the isolated namespace name for a user.
func UserNamespace(username string) string {
	return "whistler-user-" + username
}

// UserClaimName derives the per-user persistent volume claim name.
func UserClaimName(username string) string {
	return "whistler-data-" + username
}
