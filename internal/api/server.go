// Package api runs the node's gRPC control service and HTTP API side by
// side over one session controller.
package api

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/polysync/rnr/internal/api/auth"
	grpcapi "github.com/polysync/rnr/internal/api/grpc"
	httpapi "github.com/polysync/rnr/internal/api/http"
	"github.com/polysync/rnr/internal/logger"
	"github.com/polysync/rnr/internal/metrics"
	"github.com/polysync/rnr/internal/msgtype"
	"github.com/polysync/rnr/internal/session"
)

// Server manages both gRPC and HTTP servers
type Server struct {
	controller *session.Controller
	grpcServer *grpcapi.Server
	httpServer *httpapi.Server
	tokenStore auth.TokenStore
	log        zerolog.Logger
	ready      bool
	mu         sync.RWMutex
}

// Config holds configuration for the API server
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	TLSCertFile string
	TLSKeyFile  string
	// AuthToken enables bearer authentication with one full-access token
	AuthToken string
}

// Options carries the optional collaborators of the API server
type Options struct {
	Registry    *msgtype.Registry
	NodeMetrics *metrics.NodeMetrics
	// Prometheus is also served at /metrics on the HTTP API when set
	Prometheus *prometheus.Registry
}

// NewServer creates a new API server over controller
func NewServer(cfg Config, controller *session.Controller, opts Options) (*Server, error) {
	s := &Server{
		controller: controller,
		log:        logger.WithComponent("api"),
	}

	if cfg.AuthToken != "" {
		store := auth.NewMemoryStore()
		store.AddToken("operator", cfg.AuthToken, auth.AllPermissions, 0)
		s.tokenStore = store
	} else {
		s.log.Warn().Msg("No auth token configured, control API is unauthenticated")
	}

	grpcServer, err := grpcapi.NewServer(grpcapi.Config{
		Addr:        cfg.GRPCAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
	}, controller, opts.Registry, s.tokenStore, opts.NodeMetrics)
	if err != nil {
		return nil, err
	}
	s.grpcServer = grpcServer

	httpServer, err := httpapi.NewServer(httpapi.Config{
		Addr:        cfg.HTTPAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
	}, httpapi.Deps{
		Controller: controller,
		Registry:   opts.Registry,
		TokenStore: s.tokenStore,
		Metrics:    opts.NodeMetrics,
		Prometheus: opts.Prometheus,
		Ready:      s.Ready,
	})
	if err != nil {
		return nil, err
	}
	s.httpServer = httpServer

	return s, nil
}

// Start starts both gRPC and HTTP servers
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}

	s.log.Info().Msg("Starting API server")

	// Start gRPC server
	if err := s.grpcServer.Start(ctx); err != nil {
		return err
	}

	// Start HTTP server
	if err := s.httpServer.Start(ctx); err != nil {
		// Stop gRPC server if HTTP fails
		if serr := s.grpcServer.Stop(ctx); serr != nil {
			s.log.Warn().Err(serr).Msg("Error stopping gRPC server")
		}
		return err
	}

	s.ready = true
	s.log.Info().
		Str("grpc_addr", s.grpcServer.Addr()).
		Str("http_addr", s.httpServer.Addr()).
		Msg("API server started")

	return nil
}

// Stop switches the controller off, then stops both servers. The returned
// error is the controller's teardown or pending background error.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return nil
	}
	s.ready = false
	s.mu.Unlock()

	s.log.Info().Msg("Stopping API server")

	closeErr := s.controller.Close(ctx)
	if closeErr != nil {
		s.log.Warn().Err(closeErr).Msg("Controller closed with error")
	}

	// Stop HTTP server first
	if err := s.httpServer.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn().Err(err).Msg("Error stopping HTTP server")
	}

	// Stop gRPC server
	if err := s.grpcServer.Stop(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Error stopping gRPC server")
	}

	s.log.Info().Msg("API server stopped")

	return closeErr
}

// Ready returns true if the server is ready
func (s *Server) Ready() bool {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	return ready && s.grpcServer.Ready() && s.httpServer.Ready()
}

// GRPCAddr returns the bound gRPC address
func (s *Server) GRPCAddr() string {
	return s.grpcServer.Addr()
}

// HTTPAddr returns the bound HTTP address
func (s *Server) HTTPAddr() string {
	return s.httpServer.Addr()
}

// TokenStore returns the token store, nil when authentication is off
func (s *Server) TokenStore() auth.TokenStore {
	return s.tokenStore
}
