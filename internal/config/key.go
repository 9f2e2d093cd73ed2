// Package config provides unified configuration loading from files,
// environment variables, and CLI flags using viper and pflag.
//
// Resolution order (highest wins):
//  1. CLI flags
//  2. Environment variables (prefix WHISTLER_)
//  3. Config file (config.yaml in . or /etc/whistler/)
//  4. Compiled defaults
package config

// Viper keys for gateway configuration.
const (
	keyGatewayAddress           = "gateway.address"
	keyGatewayHostKey           = "gateway.host_key"
	keyGatewayMetricsAddress    = "gateway.metrics_address"
	keyGatewayKeepaliveInterval = "gateway.keepalive_interval"
	keyGatewayKeepaliveMax      = "gateway.keepalive_max"
)

// Viper keys shared across the process.
const (
	keyAuthAllowAny = "auth.allow_any" // WHISTLER_AUTH_ALLOW_ANY

	keyKubeconfig = "kubeconfig"
	keyInCluster  = "in_cluster"

	keyDirectoryUsersPath     = "directory.users_path"
	keyDirectorySelectorsPath = "directory.selectors_path"
	keyDirectoryVolumesPath   = "directory.volumes_path"

	keySessionSocatPath = "session.socat_path"
)
