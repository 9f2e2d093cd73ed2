// Package session coordinates one authenticated SSH connection: it
// resolves the login handle into a mode (menu, template, instance),
// brings the target instance to Running, and attaches the channel to a
// shell exec'd into the pod.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/whistler-io/whistler/internal/config"
	"github.com/whistler-io/whistler/internal/gateway"
	"github.com/whistler-io/whistler/internal/kube"
	"github.com/whistler-io/whistler/internal/metrics"
	"github.com/whistler-io/whistler/internal/store"
	"github.com/whistler-io/whistler/internal/tui"
)

const (
	// pollInterval paces the readiness and termination polls.
	pollInterval = 500 * time.Millisecond

	// readyDeadline caps how long a session waits for its pod.
	readyDeadline = 60 * time.Second

	// resizeCooldown is the window-change coalescing window.
	resizeCooldown = 100 * time.Millisecond

	// motdSettle gives the client terminal time to render the MOTD
	// before the first shell byte follows it.
	motdSettle = 100 * time.Millisecond
)

// Mode names, also used as metric labels.
const (
	ModeMenu     = "menu"
	ModeTemplate = "template"
	ModeInstance = "instance"
)

// errStartTimeout is what the user sees when the pod never became
// ready within the deadline.
var errStartTimeout = errors.New("Failed to start instance")

// Store is the slice of the instance store a session needs.
type Store interface {
	tui.Catalog
	FindTemplate(ctx context.Context, owner string, name store.ShortName) (*store.Template, error)
	GetInstance(ctx context.Context, owner string, name store.ShortName) (*store.Instance, error)
	PatchInstanceAnnotation(ctx context.Context, owner string, name store.ShortName, key, value string) error
}

// Exec is the pod exec transport a session needs.
type Exec interface {
	Stream(ctx context.Context, namespace, pod string, command []string, opts kube.ExecOptions) (*kube.Stream, error)
	Run(ctx context.Context, namespace, pod string, command []string, stdin io.Reader) ([]byte, error)
}

// Factory builds session coordinators. It implements
// gateway.SessionFactory.
type Factory struct {
	store     Store
	exec      Exec
	socatPath string

	poll     time.Duration
	deadline time.Duration
	cooldown time.Duration
}

// NewFactory wires the session factory from configuration and the
// shared collaborators.
func NewFactory(conf *config.Config, st *store.Store, exec *kube.ExecTransport) *Factory {
	return &Factory{
		store:     st,
		exec:      exec,
		socatPath: conf.SessionSocatPath(),
		poll:      pollInterval,
		deadline:  readyDeadline,
		cooldown:  resizeCooldown,
	}
}

// New resolves a parsed handle: no suffix is the menu; a suffix naming
// a visible template is template mode (ephemeral instance); any other
// suffix is taken as an instance name.
func (f *Factory) New(ctx context.Context, conn ssh.Conn, handle gateway.Handle) (gateway.Session, error) {
	c := &Coordinator{
		factory: f,
		conn:    conn,
		owner:   handle.Owner,
		sizes:   kube.NewTerminalSizeQueue(),
		router:  newInputRouter(),
	}

	if handle.Rest == "" {
		c.mode = ModeMenu
		return c, nil
	}

	template, err := f.store.FindTemplate(ctx, handle.Owner, store.ShortName(handle.Rest))
	if err != nil {
		return nil, err
	}
	if template != nil {
		c.mode = ModeTemplate
		c.template = template
		return c, nil
	}
	c.mode = ModeInstance
	c.bind(store.ShortName(handle.Rest))
	return c, nil
}

// ptyState is the terminal negotiated over pty-req and env requests.
type ptyState struct {
	requested bool
	term      string
	width     uint16
	height    uint16
}

// Coordinator runs one user's session. It implements gateway.Session.
type Coordinator struct {
	factory *Factory
	conn    ssh.Conn
	owner   string
	mode    string

	// template is set in template mode only.
	template *store.Template

	router  *inputRouter
	sizes   *kube.TerminalSizeQueue
	resizer *resizeCoalescer

	mu         sync.Mutex
	active     store.ShortName
	bound      bool
	ephemeral  store.ShortName
	pty        ptyState
	agent      bool
	resizeSink func(width, height uint16)
}

// Mode reports the resolved session mode.
func (c *Coordinator) Mode() string { return c.mode }

// ActiveInstance reports the instance this connection is bound to, for
// the gateway's forward policy.
func (c *Coordinator) ActiveInstance() (store.ShortName, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.bound
}

func (c *Coordinator) bind(name store.ShortName) {
	c.mu.Lock()
	c.active = name
	c.bound = true
	c.mu.Unlock()
}

// Run drives one session channel to completion.
func (c *Coordinator) Run(ctx context.Context, ch ssh.Channel, reqs <-chan *ssh.Request) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer ch.Close()
	defer c.sizes.Close()
	defer c.cleanupEphemeral()

	c.resizer = newResizeCoalescer(c.factory.cooldown, c.applyResize)
	defer c.resizer.Stop()

	shell := make(chan struct{})
	go c.handleRequests(reqs, shell, cancel)
	go c.router.run(ch)

	select {
	case <-ctx.Done():
		return
	case <-shell:
	}

	var err error
	switch c.mode {
	case ModeMenu:
		err = c.runMenu(ctx, ch)
	case ModeTemplate:
		err = c.runTemplate(ctx, ch)
	case ModeInstance:
		name, _ := c.ActiveInstance()
		err = c.runInstance(ctx, ch, name)
	}

	exitCode := 0
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(ch, "%s\r\n", err)
		slog.Warn("session failed", "user", c.owner, "mode", c.mode, "error", err)
		exitCode = 1
	}
	sendExitStatus(ch, exitCode)
}

// handleRequests serves the session channel's request stream for the
// channel's whole lifetime.
func (c *Coordinator) handleRequests(reqs <-chan *ssh.Request, shell chan struct{}, cancel context.CancelFunc) {
	shellSeen := false
	for req := range reqs {
		switch req.Type {
		case "pty-req":
			var msg ptyRequestMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				req.Reply(false, nil)
				continue
			}
			c.mu.Lock()
			c.pty = ptyState{
				requested: true,
				term:      msg.Term,
				width:     uint16(msg.Columns),
				height:    uint16(msg.Rows),
			}
			c.mu.Unlock()
			req.Reply(true, nil)
		case "env":
			var msg envRequestMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err == nil && msg.Name == "TERM" {
				c.mu.Lock()
				c.pty.term = msg.Value
				c.mu.Unlock()
			}
			req.Reply(true, nil)
		case "shell":
			req.Reply(true, nil)
			if !shellSeen {
				shellSeen = true
				close(shell)
			}
		case "window-change":
			var msg windowChangeMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err == nil {
				c.resizer.Post(uint16(msg.Columns), uint16(msg.Rows))
			}
		case "auth-agent-req@openssh.com":
			c.mu.Lock()
			c.agent = true
			c.mu.Unlock()
			req.Reply(true, nil)
		default:
			req.Reply(false, nil)
		}
	}
	cancel()
}

// applyResize routes a coalesced resize to whatever is on screen.
func (c *Coordinator) applyResize(width, height uint16) {
	c.mu.Lock()
	c.pty.width = width
	c.pty.height = height
	sink := c.resizeSink
	c.mu.Unlock()

	if sink != nil {
		sink(width, height)
		return
	}
	c.sizes.Set(width, height)
}

func (c *Coordinator) setResizeSink(sink func(width, height uint16)) {
	c.mu.Lock()
	c.resizeSink = sink
	c.mu.Unlock()
}

func (c *Coordinator) ptyState() ptyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pty
}

func (c *Coordinator) agentRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agent
}

// runMenu drives the picker, then connects if the user chose an
// instance.
func (c *Coordinator) runMenu(ctx context.Context, ch ssh.Channel) error {
	menu := tui.NewMenu(&channelBackend{ch: ch}, c.factory.store, c.owner)
	c.router.setSink(menu.FeedInput, nil)
	c.setResizeSink(menu.PostResize)

	outcome, err := menu.Run(ctx)

	c.router.setSink(nil, nil)
	c.setResizeSink(nil)

	if err != nil {
		return nil // cancelled; nothing to surface
	}
	if outcome.Action == tui.ActionConnect {
		return c.runInstance(ctx, ch, outcome.Instance)
	}
	return nil
}

// runTemplate creates an ephemeral, preemptible instance from the
// handle's template and connects to it. The instance is deleted on
// every exit path.
func (c *Coordinator) runTemplate(ctx context.Context, ch ssh.Channel) error {
	name := store.ShortName(fmt.Sprintf("%s-%s", c.template.Name, shortHex()))

	if err := c.factory.store.CreateInstance(ctx, c.owner, c.template.FullName, name, true); err != nil {
		return fmt.Errorf("create ephemeral instance: %w", err)
	}
	c.mu.Lock()
	c.ephemeral = name
	c.mu.Unlock()
	c.bind(name)

	slog.Info("ephemeral instance created", "user", c.owner, "instance", name, "template", c.template.Name)
	return c.connect(ctx, ch, name, true)
}

// runInstance connects to an existing instance by short name.
func (c *Coordinator) runInstance(ctx context.Context, ch ssh.Channel, name store.ShortName) error {
	c.bind(name)
	return c.connect(ctx, ch, name, false)
}

func (c *Coordinator) connect(ctx context.Context, ch ssh.Channel, name store.ShortName, ephemeral bool) error {
	started := time.Now()
	instance, err := c.ensureRunning(ctx, ch, name)
	if err != nil {
		return err
	}
	metrics.InstanceStartSeconds.Observe(time.Since(started).Seconds())

	return c.attach(ctx, ch, instance, ephemeral)
}

// ensureRunning polls the instance until its pod is Running. A
// terminating pod is waited out; a stopped instance is nudged via the
// last-connect annotation so the reconciler recreates the pod.
func (c *Coordinator) ensureRunning(ctx context.Context, w io.Writer, name store.ShortName) (*store.Instance, error) {
	progress := newProgressWriter(w)
	defer progress.Done()

	deadline := time.Now().Add(c.factory.deadline)
	var previous store.InstanceStatus

	for {
		instance, err := c.factory.store.GetInstance(ctx, c.owner, name)
		if err != nil {
			return nil, err
		}

		progress.Observe(instance.Status)

		if instance.Status == store.StatusRunning && instance.PodName != "" {
			return instance, nil
		}
		if instance.Status == store.StatusStopped && previous != store.StatusStopped {
			now := fmt.Sprintf("%d", time.Now().Unix())
			if err := c.factory.store.PatchInstanceAnnotation(ctx, c.owner, name, store.AnnotationLastConnect, now); err != nil {
				slog.Warn("reconcile nudge failed", "user", c.owner, "instance", name, "error", err)
			}
		}
		previous = instance.Status

		if time.Now().After(deadline) {
			return nil, errStartTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.factory.poll):
		}
	}
}

// attach writes the MOTD and then execs a shell in the pod, bridging
// channel bytes both ways until the shell exits.
func (c *Coordinator) attach(ctx context.Context, ch ssh.Channel, instance *store.Instance, ephemeral bool) error {
	namespace := kube.UserNamespace(c.owner)

	authSock := ""
	if c.agentRequested() {
		sock, err := c.startAgentBridge(ctx, namespace, instance.PodName)
		if err != nil {
			slog.Warn("agent forwarding unavailable", "user", c.owner, "pod", instance.PodName, "error", err)
		} else {
			authSock = sock
		}
	}

	pty := c.ptyState()

	// The MOTD must be fully on the wire before the first shell byte.
	ch.Write(buildMOTD(motdData{
		Instance:          instance.Name,
		PersonalMountPath: c.personalMountPath(instance),
		Mounts:            instance.Mounts,
		Ephemeral:         ephemeral,
		Preemptible:       instance.Preemptible,
	}))
	time.Sleep(motdSettle)

	opts := kube.ExecOptions{Container: "main", TTY: pty.requested, Stdin: true}
	if pty.requested {
		c.sizes.Set(pty.width, pty.height)
		opts.SizeQueue = c.sizes
	}

	stream, err := c.factory.exec.Stream(ctx, namespace, instance.PodName, shellCommand(pty.term, authSock), opts)
	if err != nil {
		return fmt.Errorf("exec into pod %s: %w", instance.PodName, err)
	}
	defer stream.Close()

	c.router.setSink(func(p []byte) { stream.Stdin.Write(p) }, stream.Stdin)
	defer c.router.setSink(nil, nil)

	var pumps sync.WaitGroup
	pumps.Add(1)
	go func() {
		defer pumps.Done()
		io.Copy(ch, stream.Stdout)
	}()
	if stream.Stderr != nil {
		pumps.Add(1)
		go func() {
			defer pumps.Done()
			io.Copy(ch.Stderr(), stream.Stderr)
		}()
	}

	// Runtime failures end the session cleanly; only log them.
	if err := stream.Wait(); err != nil && ctx.Err() == nil {
		slog.Info("shell ended", "user", c.owner, "pod", instance.PodName, "error", err)
	}
	// The transport closes the output pipes when the exec ends, so the
	// pumps drain everything before the exit status goes out.
	pumps.Wait()
	return nil
}

// personalMountPath resolves where the user's personal storage is
// mounted. The pod's observed data-volume mount wins; the template's
// advisory path is the fallback when the pod reports no mounts.
func (c *Coordinator) personalMountPath(instance *store.Instance) string {
	for _, m := range instance.Mounts {
		if m.Name == store.UserDataVolume {
			return m.Path
		}
	}
	if c.template != nil {
		return c.template.PersonalMountPath
	}
	return ""
}

// cleanupEphemeral best-effort deletes the ephemeral instance. It runs
// on every exit path, including cancellation, so it uses its own
// context.
func (c *Coordinator) cleanupEphemeral() {
	c.mu.Lock()
	name := c.ephemeral
	c.mu.Unlock()
	if name == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.factory.store.DeleteInstance(ctx, c.owner, name); err != nil {
		slog.Warn("ephemeral instance cleanup failed", "user", c.owner, "instance", name, "error", err)
		return
	}
	slog.Info("ephemeral instance deleted", "user", c.owner, "instance", name)
}

// shellCommand builds the in-pod shell invocation, threading TERM and
// the agent socket through env.
func shellCommand(term, authSock string) []string {
	env := make([]string, 0, 2)
	if term != "" {
		env = append(env, "TERM="+term)
	}
	if authSock != "" {
		env = append(env, "SSH_AUTH_SOCK="+authSock)
	}
	if len(env) == 0 {
		return []string{"/bin/bash"}
	}
	return append(append([]string{"env"}, env...), "/bin/bash")
}

func shortHex() string {
	return uuid.New().String()[:8]
}

func sendExitStatus(ch ssh.Channel, code int) {
	ch.SendRequest("exit-status", false, ssh.Marshal(exitStatusMsg{Status: uint32(code)}))
}

// Session channel request payloads (RFC 4254).
type ptyRequestMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

type envRequestMsg struct {
	Name  string
	Value string
}

type windowChangeMsg struct {
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
}

type exitStatusMsg struct {
	Status uint32
}

// channelBackend adapts the SSH channel to the menu's terminal
// backend.
type channelBackend struct {
	ch ssh.Channel
}

func (b *channelBackend) Write(p []byte) (int, error) {
	return b.ch.Write(p)
}

func (b *channelBackend) EnterAppMode() error {
	_, err := b.ch.Write([]byte("\x1b[?1049h\x1b[?25l"))
	return err
}

func (b *channelBackend) LeaveAppMode() error {
	_, err := b.ch.Write([]byte("\x1b[?1049l\x1b[?25h"))
	return err
}

// inputRouter reads the session channel once and delivers bytes to
// whatever consumes input right now (menu or shell stdin). When the
// channel reaches EOF the active closer is closed so the consumer sees
// it.
type inputRouter struct {
	mu     sync.Mutex
	sink   func([]byte)
	closer io.Closer
}

func newInputRouter() *inputRouter {
	return &inputRouter{}
}

func (r *inputRouter) setSink(sink func([]byte), closer io.Closer) {
	r.mu.Lock()
	r.sink = sink
	r.closer = closer
	r.mu.Unlock()
}

func (r *inputRouter) run(ch io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			r.mu.Lock()
			sink := r.sink
			r.mu.Unlock()
			if sink != nil {
				data := make([]byte, n)
				copy(data, buf[:n])
				sink(data)
			}
		}
		if err != nil {
			r.mu.Lock()
			closer := r.closer
			r.mu.Unlock()
			if closer != nil {
				closer.Close()
			}
			return
		}
	}
}
