package handlers

import (
	"net/http"

	"github.com/polysync/rnr/internal/version"
)

// HealthResponse is the body of /health and /ready
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// HealthCheck answers liveness checks
func HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Version: version.Get().Version})
}

// ReadinessCheck answers readiness checks with 503 until ready reports
// true. A nil ready is always ready.
func ReadinessCheck(ready func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if ready == nil || ready() {
			writeJSON(w, http.StatusOK, HealthResponse{Status: "ready"})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "not ready"})
	}
}
