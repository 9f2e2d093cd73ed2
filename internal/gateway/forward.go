package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/ssh"

	"github.com/whistler-io/whistler/internal/kube"
	"github.com/whistler-io/whistler/internal/metrics"
	"github.com/whistler-io/whistler/internal/store"
)

// Forward policy failures. Prohibited targets are rejected with
// "administratively prohibited"; a bound but non-running instance with
// "connect failed". Neither tears down the underlying connection.
var (
	errForwardProhibited  = errors.New("forwarding is allowed only to localhost inside the active instance")
	errForwardUnavailable = errors.New("instance is not running")
)

// directTCPIPMsg is the direct-tcpip channel open payload (RFC 4254
// section 7.2).
type directTCPIPMsg struct {
	DestAddr string
	DestPort uint32
	OrigAddr string
	OrigPort uint32
}

// instanceGetter is the slice of the store the forward policy needs.
type instanceGetter interface {
	GetInstance(ctx context.Context, owner string, name store.ShortName) (*store.Instance, error)
}

// forwardTarget authorizes a direct-tcpip request: the destination
// must be the loopback of the session's active instance, and that
// instance must have a running pod. Returns the pod to dial into.
func forwardTarget(ctx context.Context, st instanceGetter, owner string, sess Session, destAddr string) (*store.Instance, error) {
	if destAddr != "localhost" && destAddr != "127.0.0.1" {
		return nil, errForwardProhibited
	}
	active, ok := sess.ActiveInstance()
	if !ok {
		return nil, errForwardProhibited
	}

	instance, err := st.GetInstance(ctx, owner, active)
	if err != nil {
		var notFound *store.ErrInstanceNotFound
		if errors.As(err, &notFound) {
			return nil, errForwardUnavailable
		}
		return nil, err
	}
	if instance.Status != store.StatusRunning || instance.PodName == "" {
		return nil, errForwardUnavailable
	}
	return instance, nil
}

func (s *Server) handleDirectTCPIP(ctx context.Context, sess Session, owner string, nch ssh.NewChannel) {
	var msg directTCPIPMsg
	if err := ssh.Unmarshal(nch.ExtraData(), &msg); err != nil {
		nch.Reject(ssh.ConnectionFailed, "malformed direct-tcpip request")
		return
	}

	instance, err := forwardTarget(ctx, s.store, owner, sess, msg.DestAddr)
	if err != nil {
		metrics.ForwardsTotal.WithLabelValues("rejected").Inc()
		slog.Info("forward rejected",
			"user", owner, "dest", fmt.Sprintf("%s:%d", msg.DestAddr, msg.DestPort), "reason", err)
		switch {
		case errors.Is(err, errForwardProhibited):
			nch.Reject(ssh.Prohibited, "administratively prohibited")
		default:
			nch.Reject(ssh.ConnectionFailed, "connect failed")
		}
		return
	}

	ch, reqs, err := nch.Accept()
	if err != nil {
		slog.Warn("forward channel accept failed", "error", err)
		return
	}
	defer ch.Close()
	go ssh.DiscardRequests(reqs)

	metrics.ForwardsTotal.WithLabelValues("accepted").Inc()
	slog.Debug("forward opened",
		"user", owner, "pod", instance.PodName, "port", msg.DestPort)

	err = s.exec.ForwardPort(ctx, kube.UserNamespace(owner), instance.PodName, msg.DestPort, ch)
	if err != nil && ctx.Err() == nil {
		slog.Warn("forward ended with error", "user", owner, "port", msg.DestPort, "error", err)
	}
}
