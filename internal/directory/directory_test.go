package directory

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
)

func authorizedKey(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("convert key: %v", err)
	}
	return string(ssh.MarshalAuthorizedKey(sshPub))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	users := writeFile(t, dir, "users.yaml",
		"- name: alice\n  publicKeys:\n  - "+authorizedKey(t)+
			"- name: bob\n  publicKeys: []\n")
	selectors := writeFile(t, dir, "selectors.yaml",
		"- name: GPU type\n  key: gpu.whistler.io/class\n  values: [a100, l4]\n")
	volumes := writeFile(t, dir, "volumes.yaml",
		"- name: datasets\n  description: shared read-only datasets\n")

	d, err := Load(Paths{Users: users, Selectors: selectors, Volumes: volumes})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !d.UserExists("alice") || !d.UserExists("bob") {
		t.Error("expected alice and bob to exist")
	}
	if d.UserExists("mallory") {
		t.Error("mallory should not exist")
	}
	if got := len(d.User("alice").PublicKeys); got != 1 {
		t.Errorf("alice keys = %d, want 1", got)
	}
	if got := len(d.Selectors()); got != 1 {
		t.Fatalf("selectors = %d, want 1", got)
	}
	if got, want := d.Selectors()[0].Key, "gpu.whistler.io/class"; got != want {
		t.Errorf("selector key = %q, want %q", got, want)
	}
	if got := len(d.Volumes()); got != 1 {
		t.Fatalf("volumes = %d, want 1", got)
	}
}

func TestLoadMissingFilesAreEmpty(t *testing.T) {
	dir := t.TempDir()
	d, err := Load(Paths{
		Users:     filepath.Join(dir, "absent-users.yaml"),
		Selectors: filepath.Join(dir, "absent-selectors.yaml"),
		Volumes:   filepath.Join(dir, "absent-volumes.yaml"),
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.UserExists("anyone") {
		t.Error("empty directory should have no users")
	}
	if len(d.Selectors()) != 0 || len(d.Volumes()) != 0 {
		t.Error("empty catalogs expected")
	}
}

func TestLoadSkipsBadKeys(t *testing.T) {
	dir := t.TempDir()
	users := writeFile(t, dir, "users.yaml",
		"- name: alice\n  publicKeys:\n  - not-a-key\n  - "+authorizedKey(t))

	d, err := Load(Paths{Users: users})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := len(d.User("alice").PublicKeys); got != 1 {
		t.Errorf("alice keys = %d, want 1 (bad key skipped)", got)
	}
}
