package server

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// CreateServer creates an HTTP server with production timeouts. WriteTimeout
// is left unset because hijacked WebSocket connections manage their own
// deadlines.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Start runs the hub loop and serves HTTP until the server is shut down.
func (s *Server) Start(srv *http.Server) error {
	go s.hub.Run()

	s.log.Info().Str("addr", srv.Addr).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting handshakes, then closes every live connection.
func (s *Server) Shutdown(srv *http.Server, timeout time.Duration) error {
	s.log.Info().Msg("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	httpErr := srv.Shutdown(ctx)
	if httpErr != nil {
		s.log.Error().Err(httpErr).Msg("HTTP server shutdown error")
	}
	return errors.Join(httpErr, s.hub.Shutdown(timeout))
}
