// Package main is the entry point for the whistler binary. The
// gateway subcommand runs the SSH front, the instance reconciler, and
// the metrics endpoint in one process.
//
// Dependencies are assembled via Google Wire; see wire.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/whistler-io/whistler/internal/cmd"
	"github.com/whistler-io/whistler/internal/cmd/gateway"
	"github.com/whistler-io/whistler/internal/config"
)

// version is injected at build time via -ldflags
// (e.g. -ldflags "-X main.version=v1.2.3").
var version = "devel"

func main() {
	// Cancel on SIGINT (Ctrl+C) or SIGTERM (container runtime).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		// Cobra is configured with SilenceErrors: true, so we
		// print the error here for consistent formatting.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires all dependencies and executes the root Cobra command.
func run(ctx context.Context) error {
	rootCmd, cleanup, err := wireCmd()
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()

	return rootCmd.ExecuteContext(ctx)
}

// newCmd is a Wire provider that constructs the root Cobra command and
// registers the gateway subcommand.
func newCmd(conf *config.Config) (*cobra.Command, error) {
	c := &cobra.Command{
		Use:           "whistler",
		Short:         "Whistler: an SSH gateway to per-user Kubernetes sandboxes.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	gatewayCmd, err := cmd.NewGatewayCommand(conf, func() (*gateway.Gateway, func(), error) {
		return wireGateway(conf)
	})
	if err != nil {
		return nil, err
	}

	c.AddCommand(gatewayCmd)

	return c, nil
}
