// Package directory loads the static collaborator catalogs consumed
// by the gateway: the user directory (names and public keys), the
// node-selector catalog, and the mountable-volume catalog. All three
// are immutable for the gateway's lifetime; missing files yield empty
// catalogs.
package directory

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/crypto/ssh"
	"sigs.k8s.io/yaml"
)

// User is one entry of the user directory. Keys are parsed once at
// load time; entries that fail to parse are skipped with a warning.
type User struct {
	Name       string
	PublicKeys []ssh.PublicKey
}

// userRecord is the on-disk shape of a users.yaml entry.
type userRecord struct {
	Name       string   `json:"name"`
	PublicKeys []string `json:"publicKeys"`
}

// Selector is a named node-selector choice offered by the template
// form: a label key and its allowed values.
type Selector struct {
	Name   string   `json:"name"`
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

// Volume is a named shared volume users may mount into templates.
type Volume struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Directory holds the loaded catalogs.
type Directory struct {
	users     map[string]*User
	selectors []Selector
	volumes   []Volume
}

// Paths locates the three catalog files.
type Paths struct {
	Users     string
	Selectors string
	Volumes   string
}

// Load reads all catalogs. A missing file logs a warning and leaves
// the catalog empty; a malformed file is an error.
func Load(paths Paths) (*Directory, error) {
	d := &Directory{users: map[string]*User{}}

	var records []userRecord
	if err := readYAML(paths.Users, &records); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	for _, r := range records {
		u := &User{Name: r.Name}
		for _, blob := range r.PublicKeys {
			key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(blob))
			if err != nil {
				slog.Warn("skipping unparsable public key", "user", r.Name, "error", err)
				continue
			}
			u.PublicKeys = append(u.PublicKeys, key)
		}
		d.users[u.Name] = u
	}

	if err := readYAML(paths.Selectors, &d.selectors); err != nil {
		return nil, fmt.Errorf("load selectors: %w", err)
	}
	if err := readYAML(paths.Volumes, &d.volumes); err != nil {
		return nil, fmt.Errorf("load volumes: %w", err)
	}

	slog.Info("directory loaded",
		"users", len(d.users),
		"selectors", len(d.selectors),
		"volumes", len(d.volumes),
	)
	return d, nil
}

// User returns the directory entry for name, or nil if unknown.
func (d *Directory) User(name string) *User {
	return d.users[name]
}

// UserExists reports whether name is in the directory.
func (d *Directory) UserExists(name string) bool {
	_, ok := d.users[name]
	return ok
}

// Selectors returns the node-selector catalog.
func (d *Directory) Selectors() []Selector {
	return d.selectors
}

// Volumes returns the mountable-volume catalog.
func (d *Directory) Volumes() []Volume {
	return d.volumes
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("catalog file not found", "path", path)
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, out)
}
