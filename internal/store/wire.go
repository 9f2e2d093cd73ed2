package store

import "github.com/google/wire"

// ProviderSet is the Wire provider set for the instance store.
var ProviderSet = wire.NewSet(New)
