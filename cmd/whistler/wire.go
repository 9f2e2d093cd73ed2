//go:build wireinject

package main

import (
	"github.com/google/wire"
	"github.com/spf13/cobra"

	"github.com/whistler-io/whistler/internal/bootstrap"
	"github.com/whistler-io/whistler/internal/cmd/gateway"
	"github.com/whistler-io/whistler/internal/config"
	"github.com/whistler-io/whistler/internal/controller"
	"github.com/whistler-io/whistler/internal/directory"
	sshgateway "github.com/whistler-io/whistler/internal/gateway"
	"github.com/whistler-io/whistler/internal/kube"
	"github.com/whistler-io/whistler/internal/session"
	"github.com/whistler-io/whistler/internal/store"
)

func wireCmd() (*cobra.Command, func(), error) {
	panic(wire.Build(
		newCmd,
		config.ProviderSet,
	))
}

func wireGateway(conf *config.Config) (*gateway.Gateway, func(), error) {
	panic(wire.Build(
		gateway.ProviderSet,
		bootstrap.ProviderSet,
		controller.ProviderSet,
		sshgateway.ProviderSet,
		session.ProviderSet,
		store.ProviderSet,
		kube.ProviderSet,
		directory.ProviderSet,
	))
}
