// Package grpc serves the rnr.v1.ControlService control surface.
//
// There is no generated stub package: the service is described by a
// hand-written grpc.ServiceDesc whose requests and responses are
// google.protobuf.Struct messages.
package grpc

import (
	"context"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/polysync/rnr/internal/api/auth"
	"github.com/polysync/rnr/internal/logger"
	"github.com/polysync/rnr/internal/metrics"
	"github.com/polysync/rnr/internal/msgtype"
	"github.com/polysync/rnr/internal/rnrerr"
	"github.com/polysync/rnr/internal/session"
)

// Config holds gRPC server configuration
type Config struct {
	Addr        string
	TLSCertFile string
	TLSKeyFile  string
}

// Server serves the control and health services on one listener
type Server struct {
	cfg        Config
	grpcServer *grpc.Server
	tokenStore auth.TokenStore
	metrics    *metrics.NodeMetrics
	health     *health.Server
	log        zerolog.Logger

	mu sync.Mutex
	ln net.Listener
}

// NewServer creates a gRPC server over controller. tokenStore and
// nodeMetrics may be nil.
func NewServer(cfg Config, controller *session.Controller, registry *msgtype.Registry, tokenStore auth.TokenStore, nodeMetrics *metrics.NodeMetrics) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		tokenStore: tokenStore,
		metrics:    nodeMetrics,
		health:     health.NewServer(),
		log:        logger.WithComponent("grpc"),
	}

	opts := []grpc.ServerOption{s.interceptors()}
	if cfg.TLSCertFile != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, rnrerr.ConfigError{Reason: "load gRPC TLS key pair: " + err.Error()}
		}
		opts = append(opts, grpc.Creds(creds))
	}

	s.grpcServer = grpc.NewServer(opts...)
	RegisterControlServer(s.grpcServer, NewControlService(controller, registry))
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	for _, svc := range []string{"", ControlServiceName} {
		s.health.SetServingStatus(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return s, nil
}

// Start listens and serves in the background, then reports SERVING
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln

	go func() {
		if err := s.grpcServer.Serve(ln); err != nil {
			s.log.Error().Err(err).Msg("gRPC listener failed")
		}
	}()
	for _, svc := range []string{"", ControlServiceName} {
		s.health.SetServingStatus(svc, healthpb.HealthCheckResponse_SERVING)
	}
	s.log.Info().Str("addr", ln.Addr().String()).Bool("tls", s.cfg.TLSCertFile != "").Msg("Serving gRPC control API")
	return nil
}

// Stop reports NOT_SERVING and drains calls; when ctx expires first the
// remaining calls are cut off and ctx.Err is returned
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	s.ln = nil
	s.health.Shutdown()

	drained := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(drained)
	}()
	select {
	case <-drained:
		s.log.Info().Msg("gRPC control API stopped")
		return nil
	case <-ctx.Done():
		s.grpcServer.Stop()
		return ctx.Err()
	}
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
	return s.cfg.Addr
}
