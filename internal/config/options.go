package config

import (
	"strings"
	"time"
)

// Option describes a single configuration entry: its viper key, the
// corresponding CLI flag name, the compiled default, and a
// human-readable description shown in --help output.
type Option struct {
	Key         string
	Flag        string
	Default     any
	Description string
}

// GatewayOptions defines the configuration entries available in
// gateway mode. Each entry is registered as a viper default and a CLI
// flag.
var GatewayOptions = []Option{
	{Key: keyGatewayAddress, Flag: toFlag(keyGatewayAddress), Default: ":8022", Description: "SSH listen address"},
	{Key: keyGatewayHostKey, Flag: toFlag(keyGatewayHostKey), Default: "ssh_host_key", Description: "Path to the persisted SSH host key"},
	{Key: keyGatewayMetricsAddress, Flag: toFlag(keyGatewayMetricsAddress), Default: ":9402", Description: "Prometheus metrics listen address"},
	{Key: keyGatewayKeepaliveInterval, Flag: toFlag(keyGatewayKeepaliveInterval), Default: 30 * time.Second, Description: "SSH keepalive interval"},
	{Key: keyGatewayKeepaliveMax, Flag: toFlag(keyGatewayKeepaliveMax), Default: 5, Description: "Missed keepalives before the connection is closed"},
	{Key: keyAuthAllowAny, Flag: toFlag(keyAuthAllowAny), Default: false, Description: "Accept any password (development only)"},
	{Key: keyKubeconfig, Flag: toFlag(keyKubeconfig), Default: "", Description: "Path to a kubeconfig file (out-of-cluster)"},
	{Key: keyInCluster, Flag: toFlag(keyInCluster), Default: false, Description: "Use the pod service account for cluster access"},
	{Key: keyDirectoryUsersPath, Flag: toFlag(keyDirectoryUsersPath), Default: "/etc/whistler/users.yaml", Description: "Path to the user directory file"},
	{Key: keyDirectorySelectorsPath, Flag: toFlag(keyDirectorySelectorsPath), Default: "/etc/whistler-config/selectors.yaml", Description: "Path to the node selector catalog"},
	{Key: keyDirectoryVolumesPath, Flag: toFlag(keyDirectoryVolumesPath), Default: "/etc/whistler-config/volumes.yaml", Description: "Path to the mountable volume catalog"},
	{Key: keySessionSocatPath, Flag: toFlag(keySessionSocatPath), Default: "/usr/local/share/whistler/socat", Description: "Path to the bundled static socat uploaded for agent forwarding"},
}

// toFlag converts a viper key like "gateway.host_key" into a CLI flag
// like "host-key" by lower-casing, replacing dots and underscores
// with hyphens, and stripping the "gateway-" prefix.
func toFlag(key string) string {
	flag := strings.ToLower(key)
	flag = strings.ReplaceAll(flag, ".", "-")
	flag = strings.ReplaceAll(flag, "_", "-")
	flag = strings.TrimPrefix(flag, "gateway-")
	return flag
}
