package directory

import "github.com/google/wire"

// ProviderSet is the Wire provider set for the collaborator catalogs.
var ProviderSet = wire.NewSet(NewFromConfig)
