// Package cmd defines the whistler subcommands.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/whistler-io/whistler/internal/cmd/gateway"
	"github.com/whistler-io/whistler/internal/config"
)

// GatewayInjector builds the fully wired gateway runtime.
type GatewayInjector func() (*gateway.Gateway, func(), error)

// NewGatewayCommand returns the subcommand running the SSH gateway,
// the instance reconciler, and the metrics endpoint in one process.
func NewGatewayCommand(conf *config.Config, newGateway GatewayInjector) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "gateway",
		Short:   "Start the SSH gateway and the instance reconciler",
		Example: "whistler gateway --address=:8022 --in-cluster",
		RunE: func(cmd *cobra.Command, _ []string) error {
			gw, cleanup, err := newGateway()
			if err != nil {
				return fmt.Errorf("failed to initialize gateway: %w", err)
			}
			defer cleanup()

			return gw.Run(cmd.Context(), gateway.Config{
				MetricsAddress: conf.GatewayMetricsAddress(),
			})
		},
	}

	if err := conf.BindFlags(cmd.Flags(), config.GatewayOptions); err != nil {
		return nil, err
	}

	return cmd, nil
}
