// Package manifests embeds the static Kubernetes YAML the gateway
// installs on startup: the whistler.io CRDs and the preemptible
// priority class. Keeping them in a top-level directory makes them
// easy to inspect and apply by hand with kubectl when needed.
package manifests

import "embed"

// Bootstrap holds the YAML applied before the gateway starts serving.
// Files are accessed via the "bootstrap/" prefix and applied in
// lexicographic order.
//
//go:embed bootstrap/*.yaml
var Bootstrap embed.FS
