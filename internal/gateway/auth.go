package gateway

import (
	"crypto/subtle"
	"errors"
	"log/slog"

	"golang.org/x/crypto/ssh"

	"github.com/whistler-io/whistler/internal/directory"
	"github.com/whistler-io/whistler/internal/metrics"
)

// errAuthFailed is the uniform rejection for every failed attempt so
// the response does not reveal whether the user exists.
var errAuthFailed = errors.New("authentication failed")

// authenticator checks credentials against the user directory. The
// login name may carry a target suffix ("alice-dev1"); only the owner
// segment is authenticated.
type authenticator struct {
	directory *directory.Directory
	allowAny  bool
}

// publicKey accepts the attempt when the presented key matches one of
// the owner's registered keys.
func (a *authenticator) publicKey(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	owner := ParseHandle(meta.User()).Owner

	user := a.directory.User(owner)
	if user == nil {
		metrics.AuthFailuresTotal.WithLabelValues("publickey").Inc()
		return nil, errAuthFailed
	}
	slog.Debug("user found", "user", owner)

	for _, authorized := range user.PublicKeys {
		if KeysEqual(key, authorized) {
			slog.Info("public key accepted", "user", owner, "remote", meta.RemoteAddr())
			return &ssh.Permissions{Extensions: map[string]string{"owner": owner}}, nil
		}
	}
	metrics.AuthFailuresTotal.WithLabelValues("publickey").Inc()
	return nil, errAuthFailed
}

// password is offered only with auth.allow_any set; it accepts any
// password for development.
func (a *authenticator) password(meta ssh.ConnMetadata, _ []byte) (*ssh.Permissions, error) {
	if !a.allowAny {
		metrics.AuthFailuresTotal.WithLabelValues("password").Inc()
		return nil, errAuthFailed
	}
	owner := ParseHandle(meta.User()).Owner
	slog.Warn("password bypass accepted", "user", owner, "remote", meta.RemoteAddr())
	return &ssh.Permissions{Extensions: map[string]string{"owner": owner}}, nil
}

// serverConfig assembles the SSH server configuration over the host
// signer. Password auth is not offered at all unless enabled.
func (a *authenticator) serverConfig(signer ssh.Signer) *ssh.ServerConfig {
	cfg := &ssh.ServerConfig{
		PublicKeyCallback: a.publicKey,
	}
	if a.allowAny {
		cfg.PasswordCallback = a.password
	}
	cfg.AddHostKey(signer)
	return cfg
}

// KeysEqual is a constant time compare of two public keys to avoid
// timing attacks.
func KeysEqual(ak, bk ssh.PublicKey) bool {
	if ak == nil || bk == nil {
		return false
	}
	a := ak.Marshal()
	b := bk.Marshal()
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
