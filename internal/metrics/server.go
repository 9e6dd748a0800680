package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/polysync/rnr/internal/logger"
)

// Server exposes a registry on its own listener, separate from the API
// port, at /metrics
type Server struct {
	addr     string
	gatherer prometheus.Gatherer
	log      zerolog.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// NewServer creates a metrics server for g; nil g serves the default registry
func NewServer(addr string, g prometheus.Gatherer) *Server {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return &Server{addr: addr, gatherer: g, log: logger.WithComponent("metrics")}
}

// Handler returns the scrape handler
func (s *Server) Handler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		ErrorLog:          zerologAdapter{s.log},
		EnableOpenMetrics: true,
	})
}

// Start binds the address and serves in the background. Starting a running
// server is a no-op.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("Metrics listener failed")
		}
	}()

	s.srv, s.ln = srv, ln
	s.log.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
	return nil
}

// Addr returns the bound address once started, else the configured one
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Running reports whether the listener is up
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

// Stop shuts the listener down, closing it outright if ctx expires first
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.ln = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		//nolint:errcheck // Shutdown error is reported
		_ = srv.Close()
		return err
	}
	return nil
}

// zerologAdapter satisfies promhttp.Logger
type zerologAdapter struct {
	log zerolog.Logger
}

func (a zerologAdapter) Println(v ...interface{}) {
	a.log.Error().Msg(fmt.Sprint(v...))
}
