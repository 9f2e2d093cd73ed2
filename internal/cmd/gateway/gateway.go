// Package gateway composes the long-running components of the
// whistler process: the SSH listener, the instance reconciler, and the
// metrics endpoint, run in parallel via transport.Serve.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/whistler-io/whistler/internal/bootstrap"
	"github.com/whistler-io/whistler/internal/controller"
	sshgw "github.com/whistler-io/whistler/internal/gateway"
	"github.com/whistler-io/whistler/internal/kube"
	"github.com/whistler-io/whistler/internal/metrics"
	"github.com/whistler-io/whistler/internal/transport"
)

// Config holds the runtime parameters for a Gateway.
type Config struct {
	MetricsAddress string
}

// Gateway binds the SSH server and the controller manager.
type Gateway struct {
	clients    *kube.Clients
	installer  *bootstrap.Installer
	server     *sshgw.Server
	reconciler *controller.InstanceReconciler
}

// NewGateway returns a Gateway over the wired components.
func NewGateway(clients *kube.Clients, installer *bootstrap.Installer, server *sshgw.Server, reconciler *controller.InstanceReconciler) *Gateway {
	return &Gateway{clients: clients, installer: installer, server: server, reconciler: reconciler}
}

// Run installs the cluster prerequisites, then starts all components
// and blocks until ctx is cancelled or one of them fails.
func (g *Gateway) Run(ctx context.Context, cfg Config) error {
	ctrl.SetLogger(logr.FromSlogHandler(slog.Default().Handler()))

	if err := g.installer.Run(ctx); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	mgr, err := ctrl.NewManager(g.clients.Config, ctrl.Options{
		Scheme: g.clients.Scheme,
		// The process serves its own metrics endpoint.
		Metrics: metricsserver.Options{BindAddress: "0"},
	})
	if err != nil {
		return fmt.Errorf("failed to create controller manager: %w", err)
	}
	if err := g.reconciler.SetupWithManager(mgr); err != nil {
		return fmt.Errorf("failed to register reconciler: %w", err)
	}

	return transport.Serve(ctx,
		g.server,
		&managerListener{mgr: mgr},
		transport.NewHTTPServer(cfg.MetricsAddress, metrics.Handler()),
	)
}

// managerListener adapts the controller manager to the transport
// lifecycle. The manager stops with its context, so Stop is a no-op.
type managerListener struct {
	mgr ctrl.Manager
}

func (l *managerListener) Start(ctx context.Context) error {
	return l.mgr.Start(ctx)
}

func (l *managerListener) Stop(context.Context) error {
	return nil
}
