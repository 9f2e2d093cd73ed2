package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestDefaults(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got, want := c.GatewayAddress(), ":8022"; got != want {
		t.Errorf("GatewayAddress = %q, want %q", got, want)
	}
	if got, want := c.GatewayHostKey(), "ssh_host_key"; got != want {
		t.Errorf("GatewayHostKey = %q, want %q", got, want)
	}
	if got, want := c.GatewayKeepaliveInterval(), 30*time.Second; got != want {
		t.Errorf("GatewayKeepaliveInterval = %v, want %v", got, want)
	}
	if got, want := c.GatewayKeepaliveMax(), 5; got != want {
		t.Errorf("GatewayKeepaliveMax = %d, want %d", got, want)
	}
	if c.AuthAllowAny() {
		t.Error("AuthAllowAny = true, want false by default")
	}
	if c.InCluster() {
		t.Error("InCluster = true, want false by default")
	}
}

func TestAuthAllowAnyEnv(t *testing.T) {
	t.Setenv("WHISTLER_AUTH_ALLOW_ANY", "true")

	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !c.AuthAllowAny() {
		t.Error("AuthAllowAny = false, want true with WHISTLER_AUTH_ALLOW_ANY=true")
	}
}

func TestBindFlags(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := c.BindFlags(fs, GatewayOptions); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	if err := fs.Parse([]string{"--kubeconfig", "/tmp/kc", "--in-cluster", "--address", ":2222"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got, want := c.Kubeconfig(), "/tmp/kc"; got != want {
		t.Errorf("Kubeconfig = %q, want %q", got, want)
	}
	if !c.InCluster() {
		t.Error("InCluster = false, want true after --in-cluster")
	}
	if got, want := c.GatewayAddress(), ":2222"; got != want {
		t.Errorf("GatewayAddress = %q, want %q", got, want)
	}
}

func TestToFlag(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{keyGatewayAddress, "address"},
		{keyGatewayHostKey, "host-key"},
		{keyAuthAllowAny, "auth-allow-any"},
		{keyKubeconfig, "kubeconfig"},
		{keyInCluster, "in-cluster"},
	}
	for _, tt := range tests {
		if got := toFlag(tt.key); got != tt.want {
			t.Errorf("toFlag(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
