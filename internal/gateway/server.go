// Package gateway is the SSH front of whistler: it authenticates users
// against the directory, parses login handles, and hands authenticated
// channels to the session coordinator.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/whistler-io/whistler/internal/config"
	"github.com/whistler-io/whistler/internal/directory"
	"github.com/whistler-io/whistler/internal/kube"
	"github.com/whistler-io/whistler/internal/metrics"
	"github.com/whistler-io/whistler/internal/store"
)

// Session is one user's coordinator over an authenticated connection.
// Run drives a session channel to completion; ActiveInstance reports
// the instance the connection is bound to, when there is one, for the
// forward policy.
type Session interface {
	Run(ctx context.Context, ch ssh.Channel, reqs <-chan *ssh.Request)
	ActiveInstance() (store.ShortName, bool)
	Mode() string
}

// SessionFactory resolves a parsed handle into a session coordinator.
// Resolution may read the cluster (template/instance disambiguation).
type SessionFactory interface {
	New(ctx context.Context, conn ssh.Conn, handle Handle) (Session, error)
}

// Server is the SSH listener. It implements transport.Listener.
type Server struct {
	address           string
	hostKeyPath       string
	keepaliveInterval time.Duration
	keepaliveMax      int

	auth     *authenticator
	store    *store.Store
	exec     *kube.ExecTransport
	sessions SessionFactory

	mu       sync.Mutex
	listener net.Listener
	conns    map[*ssh.ServerConn]struct{}
	handlers sync.WaitGroup
}

// NewServer wires the SSH listener from configuration and its
// collaborators.
func NewServer(conf *config.Config, dir *directory.Directory, st *store.Store, exec *kube.ExecTransport, sessions SessionFactory) *Server {
	return &Server{
		address:           conf.GatewayAddress(),
		hostKeyPath:       conf.GatewayHostKey(),
		keepaliveInterval: conf.GatewayKeepaliveInterval(),
		keepaliveMax:      conf.GatewayKeepaliveMax(),
		auth: &authenticator{
			directory: dir,
			allowAny:  conf.AuthAllowAny(),
		},
		store:    st,
		exec:     exec,
		sessions: sessions,
		conns:    make(map[*ssh.ServerConn]struct{}),
	}
}

// Start listens and accepts connections until the context is cancelled
// or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	signer, err := LoadOrGenerateHostKey(s.hostKeyPath)
	if err != nil {
		return err
	}
	sshConfig := s.auth.serverConfig(signer)

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	slog.Info("SSH server starting", "address", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.handleConnection(ctx, conn, sshConfig)
		}()
	}
}

// Addr reports the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and waits for in-flight sessions, forcing
// remaining connections closed when the context expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		return nil
	}
}

func (s *Server) handleConnection(ctx context.Context, netConn net.Conn, sshConfig *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(netConn, sshConfig)
	if err != nil {
		slog.Debug("SSH handshake failed", "remote", netConn.RemoteAddr(), "error", err)
		return
	}
	defer sconn.Close()

	s.track(sconn, true)
	defer s.track(sconn, false)

	handle := ParseHandle(sconn.User())
	slog.Info("connection established",
		"user", handle.Owner, "handle", sconn.User(), "remote", sconn.RemoteAddr())

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess, err := s.sessions.New(connCtx, sconn, handle)
	if err != nil {
		slog.Error("session setup failed", "user", handle.Owner, "error", err)
		return
	}
	metrics.SessionsTotal.WithLabelValues(sess.Mode()).Inc()
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	go s.discardGlobalRequests(reqs)
	go s.keepalive(connCtx, sconn, handle.Owner)

	for nch := range chans {
		switch nch.ChannelType() {
		case "session":
			ch, chReqs, err := nch.Accept()
			if err != nil {
				slog.Warn("session channel accept failed", "error", err)
				continue
			}
			go sess.Run(connCtx, ch, chReqs)
		case "direct-tcpip":
			go s.handleDirectTCPIP(connCtx, sess, handle.Owner, nch)
		default:
			nch.Reject(ssh.UnknownChannelType, "unsupported channel type")
		}
	}
}

func (s *Server) track(conn *ssh.ServerConn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) discardGlobalRequests(reqs <-chan *ssh.Request) {
	for req := range reqs {
		if req.WantReply {
			req.Reply(false, nil)
		}
	}
}

// keepalivePinger is the part of the connection the keepalive loop
// drives, narrowed from *ssh.ServerConn.
type keepalivePinger interface {
	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)
	Close() error
}

// keepalive probes the client periodically and closes the connection
// after keepaliveMax consecutive misses. SendRequest blocks until the
// peer replies, so a hung-but-connected client would park the loop;
// each probe therefore runs in its own goroutine and counts as a miss
// when no reply arrives within one interval.
func (s *Server) keepalive(ctx context.Context, conn keepalivePinger, user string) {
	ticker := time.NewTicker(s.keepaliveInterval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.probe(ctx, conn) {
				misses = 0
				continue
			}
			misses++
			if misses >= s.keepaliveMax {
				slog.Info("keepalive expired, closing connection", "user", user)
				conn.Close()
				return
			}
		}
	}
}

// probe sends one keepalive and reports whether the client replied
// within one interval. An unanswered probe's goroutine stays parked in
// SendRequest until the connection closes.
func (s *Server) probe(ctx context.Context, conn keepalivePinger) bool {
	replied := make(chan error, 1)
	go func() {
		_, _, err := conn.SendRequest("keepalive@openssh.com", true, nil)
		replied <- err
	}()

	timer := time.NewTimer(s.keepaliveInterval)
	defer timer.Stop()

	select {
	case err := <-replied:
		return err == nil
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
