package kube

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/transport/spdy"
)

// portForwardProtocolV1 is the subprotocol used for Kubernetes port
// forwarding over SPDY.
const portForwardProtocolV1 = "portforward.k8s.io"

// ForwardPort opens a port-forward to port inside the pod and copies
// bytes bidirectionally between rw and the pod until either side
// closes or ctx is cancelled. It waits for both copy directions to
// finish before returning.
func (t *ExecTransport) ForwardPort(ctx context.Context, namespace, pod string, port uint32, rw io.ReadWriter) error {
	req := t.clients.Clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod).
		Namespace(namespace).
		SubResource("portforward")

	transport, upgrader, err := spdy.RoundTripperFor(t.clients.Config)
	if err != nil {
		return fmt.Errorf("create SPDY round-tripper: %w", err)
	}

	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: transport}, http.MethodPost, req.URL())
	streamConn, _, err := dialer.Dial(portForwardProtocolV1)
	if err != nil {
		return fmt.Errorf("dial port-forward: %w", err)
	}
	defer streamConn.Close()

	portStr := strconv.FormatUint(uint64(port), 10)
	requestID := "0"

	errorHeaders := http.Header{}
	errorHeaders.Set(corev1.StreamType, corev1.StreamTypeError)
	errorHeaders.Set(corev1.PortHeader, portStr)
	errorHeaders.Set(corev1.PortForwardRequestIDHeader, requestID)

	errorStream, err := streamConn.CreateStream(errorHeaders)
	if err != nil {
		return fmt.Errorf("create error stream: %w", err)
	}
	defer errorStream.Close()

	dataHeaders := http.Header{}
	dataHeaders.Set(corev1.StreamType, corev1.StreamTypeData)
	dataHeaders.Set(corev1.PortHeader, portStr)
	dataHeaders.Set(corev1.PortForwardRequestIDHeader, requestID)

	dataStream, err := streamConn.CreateStream(dataHeaders)
	if err != nil {
		return fmt.Errorf("create data stream: %w", err)
	}
	defer dataStream.Close()

	// Track all goroutines so every one has exited before we return.
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 1024)
		n, _ := errorStream.Read(buf)
		if n > 0 {
			slog.Warn("port-forward error from kubelet",
				"pod", pod, "port", port, "message", string(buf[:n]))
			if err := dataStream.Close(); err != nil {
				slog.Warn("failed to close data stream after kubelet error", "error", err)
			}
		}
	}()

	errCh := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := io.Copy(dataStream, rw)
		errCh <- err
	}()

	go func() {
		defer wg.Done()
		_, err := io.Copy(rw, dataStream)
		errCh <- err
	}()

	var firstErr error
	for range 2 {
		select {
		case <-ctx.Done():
			streamConn.Close()
			wg.Wait()
			return ctx.Err()
		case err := <-errCh:
			if err != nil && firstErr == nil {
				firstErr = err
				// Close the stream connection so the other
				// direction terminates as well.
				streamConn.Close()
			}
		}
	}

	wg.Wait()
	return firstErr
}
