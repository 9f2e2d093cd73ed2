package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// HTTPServer is a Listener wrapping a plain net/http server. The
// gateway uses it to expose the Prometheus metrics endpoint.
type HTTPServer struct {
	*http.Server
	address string
}

// NewHTTPServer returns an HTTPServer listening on address and
// serving handler.
func NewHTTPServer(address string, handler http.Handler) *HTTPServer {
	return &HTTPServer{
		address: address,
		Server: &http.Server{
			Addr:              address,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Minute,
			WriteTimeout:      time.Minute,
			MaxHeaderBytes:    8 * 1024, // 8KiB
		},
	}
}

// Start starts the HTTP server and blocks until the context is
// cancelled or the server fails.
func (s *HTTPServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	s.BaseContext = func(net.Listener) context.Context {
		return ctx
	}

	slog.Info("HTTP server starting", "address", listener.Addr().String())

	if err := s.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server gracefully.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if err := s.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown failed, forcing close", "error", err)
		return s.Close()
	}
	return nil
}
