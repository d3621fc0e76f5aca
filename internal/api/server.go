// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/portolan-project/portolan/internal/logging"
)

// Server runs the HTTP listener as a supervised service.
type Server struct {
	addr            string
	handler         http.Handler
	shutdownTimeout time.Duration
}

// NewServer creates the supervised HTTP server.
func NewServer(addr string, handler http.Handler, shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	return &Server{addr: addr, handler: handler, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service: listens until the context is canceled,
// then drains connections within the shutdown timeout.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("http server shutdown incomplete")
		}
		return ctx.Err()
	}
}

func (s *Server) String() string { return "http-server" }
