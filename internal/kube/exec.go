package kube

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"
)

// TerminalSize holds terminal dimensions, decoupling callers from the
// remotecommand package.
type TerminalSize struct {
	Width  uint16
	Height uint16
}

// TerminalSizer provides the next terminal size event. Implementations
// block until an event is available or return nil when no more events
// will be produced.
type TerminalSizer interface {
	Next() *TerminalSize
}

// TerminalSizeQueue is a buffered, concurrency-safe TerminalSizer.
// Resize events are enqueued via Set and dequeued via Next.
type TerminalSizeQueue struct {
	mu     sync.Mutex
	ch     chan TerminalSize
	closed bool
}

// NewTerminalSizeQueue returns a TerminalSizeQueue with a small buffer
// so resize events can be sent without blocking.
func NewTerminalSizeQueue() *TerminalSizeQueue {
	return &TerminalSizeQueue{ch: make(chan TerminalSize, 4)}
}

// Next returns the next terminal size event. It blocks until an event
// is available or the queue is closed (returns nil).
func (q *TerminalSizeQueue) Next() *TerminalSize {
	size, ok := <-q.ch
	if !ok {
		return nil
	}
	return &size
}

// Set enqueues a resize event. If the queue is full, the oldest event
// is dropped to make room. Calls after Close are silently ignored.
func (q *TerminalSizeQueue) Set(width, height uint16) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	select {
	case q.ch <- TerminalSize{Width: width, Height: height}:
	default:
		<-q.ch
		q.ch <- TerminalSize{Width: width, Height: height}
	}
}

// Close closes the underlying channel, causing Next to return nil.
// It is safe to call Close multiple times.
func (q *TerminalSizeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// ExecOptions selects the stream shape of an exec.
type ExecOptions struct {
	Container string
	// TTY multiplexes stderr onto stdout and enables the size queue.
	TTY       bool
	SizeQueue TerminalSizer
	// Stdin controls whether a stdin pipe is opened. Streams without
	// stdin (one-shot probes) set this false.
	Stdin bool
}

// Stream is one exec into a pod, exposed as pipe halves. Stdin is the
// write side of the subprocess stdin; Stdout and Stderr are the read
// sides of its output. Stderr is nil for TTY streams.
type Stream struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	cancel context.CancelFunc
	done   chan error
}

// NewStream assembles a Stream from pre-wired pipe halves. The done
// channel must receive the exec result exactly once.
func NewStream(stdin io.WriteCloser, stdout, stderr io.ReadCloser, cancel context.CancelFunc, done chan error) *Stream {
	if cancel == nil {
		cancel = func() {}
	}
	return &Stream{Stdin: stdin, Stdout: stdout, Stderr: stderr, cancel: cancel, done: done}
}

// Wait blocks until the exec completes and returns its error, if any.
// A non-zero container exit surfaces as an exec.CodeExitError from the
// remotecommand executor.
func (s *Stream) Wait() error {
	return <-s.done
}

// Close terminates the exec and releases the pipe ends. Safe to call
// after Wait.
func (s *Stream) Close() {
	s.cancel()
	if s.Stdin != nil {
		s.Stdin.Close()
	}
	s.Stdout.Close()
	if s.Stderr != nil {
		s.Stderr.Close()
	}
}

// ExecTransport opens byte streams into running pods. It is the
// gateway's only path into container processes: shells, agent
// bridges, and probes all go through here.
type ExecTransport struct {
	clients *Clients
}

// NewExecTransport returns an ExecTransport over the shared clients.
func NewExecTransport(clients *Clients) *ExecTransport {
	return &ExecTransport{clients: clients}
}

// Stream starts command in the pod and returns the stream pair. The
// exec runs until the command exits, the context is cancelled, or
// Close is called.
func (t *ExecTransport) Stream(ctx context.Context, namespace, pod string, command []string, opts ExecOptions) (*Stream, error) {
	executor, err := t.executor(namespace, pod, command, opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := NewStream(nil, nil, nil, cancel, make(chan error, 1))

	streamOpts := remotecommand.StreamOptions{Tty: opts.TTY}

	var stdinR *io.PipeReader
	if opts.Stdin {
		var stdinW *io.PipeWriter
		stdinR, stdinW = io.Pipe()
		s.Stdin = stdinW
		streamOpts.Stdin = stdinR
	}

	stdoutR, stdoutW := io.Pipe()
	s.Stdout = stdoutR
	streamOpts.Stdout = stdoutW

	var stderrW *io.PipeWriter
	if !opts.TTY {
		var stderrR *io.PipeReader
		stderrR, stderrW = io.Pipe()
		s.Stderr = stderrR
		streamOpts.Stderr = stderrW
	}

	if opts.TTY && opts.SizeQueue != nil {
		streamOpts.TerminalSizeQueue = &sizeQueueAdapter{inner: opts.SizeQueue}
	}

	go func() {
		err := executor.StreamWithContext(ctx, streamOpts)
		// Unblock readers and writers before reporting.
		stdoutW.CloseWithError(err)
		if stderrW != nil {
			stderrW.CloseWithError(err)
		}
		if stdinR != nil {
			stdinR.CloseWithError(err)
		}
		s.done <- err
	}()

	return s, nil
}

// Run executes command in the pod, feeding stdin (may be nil) and
// returning combined stdout. Used for short probes and uploads.
func (t *ExecTransport) Run(ctx context.Context, namespace, pod string, command []string, stdin io.Reader) ([]byte, error) {
	executor, err := t.executor(namespace, pod, command, ExecOptions{Stdin: stdin != nil})
	if err != nil {
		return nil, err
	}

	var out safeBuffer
	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  stdin,
		Stdout: &out,
		Stderr: &out,
	})
	return out.Bytes(), err
}

func (t *ExecTransport) executor(namespace, pod string, command []string, opts ExecOptions) (remotecommand.Executor, error) {
	execOpts := &corev1.PodExecOptions{
		Container: opts.Container,
		Command:   command,
		TTY:       opts.TTY,
		Stdin:     opts.Stdin,
		Stdout:    true,
		Stderr:    !opts.TTY,
	}

	req := t.clients.Clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod).
		Namespace(namespace).
		SubResource("exec").
		VersionedParams(execOpts, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(t.clients.Config, http.MethodPost, req.URL())
	if err != nil {
		return nil, fmt.Errorf("create SPDY executor: %w", err)
	}
	return executor, nil
}

// sizeQueueAdapter bridges TerminalSizer to the remotecommand
// TerminalSizeQueue interface required by SPDY executors.
type sizeQueueAdapter struct {
	inner TerminalSizer
}

func (a *sizeQueueAdapter) Next() *remotecommand.TerminalSize {
	s := a.inner.Next()
	if s == nil {
		return nil
	}
	return &remotecommand.TerminalSize{Width: s.Width, Height: s.Height}
}

// safeBuffer serializes writes from the stdout and stderr copy
// goroutines inside the executor.
type safeBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *safeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf
}
