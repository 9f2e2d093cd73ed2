package session

import (
	"github.com/google/wire"

	"github.com/whistler-io/whistler/internal/gateway"
)

// ProviderSet is the Wire provider set for session coordination.
var ProviderSet = wire.NewSet(
	NewFactory,
	wire.Bind(new(gateway.SessionFactory), new(*Factory)),
)
