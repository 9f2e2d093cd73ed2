package kube

import "github.com/google/wire"

// ProviderSet is the Wire provider set for cluster plumbing.
var ProviderSet = wire.NewSet(New, NewExecTransport)
