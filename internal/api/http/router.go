package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/polysync/rnr/internal/api/auth"
	"github.com/polysync/rnr/internal/api/http/handlers"
	"github.com/polysync/rnr/internal/api/http/middleware"
	"github.com/polysync/rnr/internal/logger"
	"github.com/polysync/rnr/internal/metrics"
	"github.com/polysync/rnr/internal/msgtype"
	"github.com/polysync/rnr/internal/replay"
	"github.com/polysync/rnr/internal/session"
)

// Deps are the collaborators of the HTTP API
type Deps struct {
	Controller *session.Controller
	Registry   *msgtype.Registry
	// TokenStore enables bearer authentication when set
	TokenStore auth.TokenStore
	// Metrics records request metrics when set
	Metrics *metrics.NodeMetrics
	// Prometheus is served at /metrics when set
	Prometheus *prometheus.Registry
	// Ready backs /ready; nil reports ready
	Ready func() bool
}

// Router manages HTTP routes and middleware
type Router struct {
	mux          *http.ServeMux
	deps         Deps
	consumer     *replay.QueueConsumer
	nodeHandlers *handlers.NodeHandlers
}

// NewRouter creates a new router. With queue delivery it takes the replay
// queue consumer, so only one router may exist per controller.
func NewRouter(deps Deps) (*Router, error) {
	r := &Router{
		mux:  http.NewServeMux(),
		deps: deps,
	}

	if deps.Controller.Delivery() == replay.DeliveryQueue {
		consumer, err := deps.Controller.QueueConsumer()
		if err != nil {
			return nil, err
		}
		r.consumer = consumer
	}
	r.nodeHandlers = handlers.NewNodeHandlers(deps.Controller, deps.Registry, r.consumer)

	r.setupRoutes()

	return r, nil
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Release gives the replay queue consumer back to the controller
func (r *Router) Release() {
	if r.consumer != nil {
		r.consumer.Release()
	}
}

// setupRoutes sets up all HTTP routes
func (r *Router) setupRoutes() {
	log := logger.WithComponent("http.middleware")

	// Create middleware chain
	chain := middleware.Chain(
		middleware.Recovery(log),
		middleware.Tracing(),
		middleware.Metrics(r.deps.Metrics),
		middleware.Logging(log),
	)
	secured := func(perm auth.Permission, h http.HandlerFunc) http.Handler {
		return chain(middleware.Auth(r.deps.TokenStore, perm)(h))
	}

	// Health check endpoints (no auth required)
	r.mux.Handle("GET /health", chain(http.HandlerFunc(handlers.HealthCheck)))
	r.mux.Handle("GET /ready", chain(handlers.ReadinessCheck(r.deps.Ready)))
	if r.deps.Prometheus != nil {
		r.mux.Handle("GET /metrics", handlers.MetricsHandler(r.deps.Prometheus))
	}

	r.mux.Handle("GET /api/v1/status", secured(auth.PermissionRead, r.nodeHandlers.Status))
	r.mux.Handle("POST /api/v1/publish", secured(auth.PermissionPublish, r.nodeHandlers.Publish))
	r.mux.Handle("GET /api/v1/replay/next", secured(auth.PermissionRead, r.nodeHandlers.NextReplay))
	r.mux.Handle("GET /api/v1/sessions", secured(auth.PermissionRead, r.nodeHandlers.ListSessions))
	r.mux.Handle("GET /api/v1/sessions/{id}", secured(auth.PermissionRead, r.nodeHandlers.GetSession))

	// Default API v1 route (for unmatched paths)
	r.mux.Handle("/api/v1/", chain(http.NotFoundHandler()))
}
