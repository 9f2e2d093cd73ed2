package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/whistler-io/whistler/internal/kube"
)

// uploadedSocatPath is where the bundled static socat lands inside the
// pod when the image ships none.
const uploadedSocatPath = "/tmp/socat-static"

// agentChannelType is the OpenSSH agent forwarding channel.
const agentChannelType = "auth-agent@openssh.com"

// startAgentBridge makes the client's SSH agent reachable inside the
// pod: socat listens on a session-scoped unix socket in the pod and
// shuttles it over an exec stream to an agent channel opened back to
// the client. Returns the in-pod socket path for SSH_AUTH_SOCK.
func (c *Coordinator) startAgentBridge(ctx context.Context, namespace, pod string) (string, error) {
	socat, err := c.ensureSocat(ctx, namespace, pod)
	if err != nil {
		return "", err
	}

	socket := fmt.Sprintf("/tmp/agent-%s.sock", shortHex())
	command := []string{socat, fmt.Sprintf("UNIX-LISTEN:%s,fork,mode=600", socket), "STDIO"}

	stream, err := c.factory.exec.Stream(ctx, namespace, pod, command, kube.ExecOptions{Container: "main", Stdin: true})
	if err != nil {
		return "", fmt.Errorf("start socat listener: %w", err)
	}

	go c.pumpAgent(stream)

	slog.Debug("agent bridge started", "user", c.owner, "pod", pod, "socket", socket)
	return socket, nil
}

// ensureSocat finds socat in the image or uploads the bundled static
// binary.
func (c *Coordinator) ensureSocat(ctx context.Context, namespace, pod string) (string, error) {
	out, err := c.factory.exec.Run(ctx, namespace, pod, []string{"sh", "-c", "command -v socat"}, nil)
	if path := string(bytes.TrimSpace(out)); err == nil && path != "" {
		return path, nil
	}

	bundled, err := os.Open(c.factory.socatPath)
	if err != nil {
		return "", fmt.Errorf("socat missing in image and no bundled binary: %w", err)
	}
	defer bundled.Close()

	upload := fmt.Sprintf("cat > %s && chmod +x %s", uploadedSocatPath, uploadedSocatPath)
	if _, err := c.factory.exec.Run(ctx, namespace, pod, []string{"sh", "-c", upload}, bundled); err != nil {
		return "", fmt.Errorf("upload socat: %w", err)
	}
	return uploadedSocatPath, nil
}

// pumpAgent shuttles bytes between the socat exec stream and an agent
// channel opened back to the client.
func (c *Coordinator) pumpAgent(stream *kube.Stream) {
	defer stream.Close()

	agent, reqs, err := c.conn.OpenChannel(agentChannelType, nil)
	if err != nil {
		slog.Warn("agent channel rejected by client", "user", c.owner, "error", err)
		return
	}
	defer agent.Close()
	go ssh.DiscardRequests(reqs)

	go io.Copy(stream.Stdin, agent)
	io.Copy(agent, stream.Stdout)
}
