package controller

import "github.com/google/wire"

// ProviderSet is the Wire provider set for the reconciler.
var ProviderSet = wire.NewSet(NewInstanceReconciler)
