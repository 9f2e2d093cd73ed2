package gateway

import "github.com/google/wire"

// ProviderSet is the Wire provider set for the gateway runtime.
var ProviderSet = wire.NewSet(NewGateway)
