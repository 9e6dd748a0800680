// Package http serves the node's REST API: health, status, publish ingest,
// the replay queue and the session catalog.
package http

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/polysync/rnr/internal/logger"
	"github.com/polysync/rnr/internal/rnrerr"
)

// Config holds HTTP server configuration
type Config struct {
	Addr        string
	TLSCertFile string
	TLSKeyFile  string
}

// Server serves the router on one listener
type Server struct {
	addr   string
	tls    *tls.Config
	router *Router
	srv    *http.Server
	log    zerolog.Logger

	mu sync.Mutex
	ln net.Listener
}

// NewServer builds the router and loads TLS material. With queue delivery
// the server holds the controller's replay queue consumer until Stop.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	s := &Server{addr: cfg.Addr, log: logger.WithComponent("http")}

	if cfg.TLSCertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, rnrerr.ConfigError{Reason: "load HTTP TLS key pair: " + err.Error()}
		}
		s.tls = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	router, err := NewRouter(deps)
	if err != nil {
		return nil, err
	}
	s.router = router
	s.srv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s, nil
}

// Start listens and serves in the background
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	if s.tls != nil {
		ln = tls.NewListener(ln, s.tls)
	}
	s.ln = ln

	go func() {
		if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("HTTP listener failed")
		}
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Bool("tls", s.tls != nil).Msg("Serving HTTP API")
	return nil
}

// Stop drains in-flight requests until ctx expires, then releases the
// replay queue consumer
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	s.ln = nil

	err := s.srv.Shutdown(ctx)
	if err != nil {
		//nolint:errcheck // Shutdown error is reported
		_ = s.srv.Close()
	}
	s.router.Release()
	s.log.Info().Msg("HTTP API stopped")
	return err
}

// Ready reports whether the listener is up
func (s *Server) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ln != nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Handler exposes the router for in-process tests
func (s *Server) Handler() http.Handler {
	return s.router
}
