package gateway

import "github.com/google/wire"

// ProviderSet is the Wire provider set for the SSH server.
var ProviderSet = wire.NewSet(NewServer)
