package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/polysync/rnr/internal/api/auth"
	"github.com/polysync/rnr/internal/rnrerr"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Op    string `json:"op,omitempty"`
}

// statusForKind maps an error kind to an HTTP status
func statusForKind(kind rnrerr.Kind) int {
	switch kind {
	case rnrerr.KindUsage:
		return http.StatusConflict
	case rnrerr.KindConfig:
		return http.StatusBadRequest
	case rnrerr.KindNotFound:
		return http.StatusNotFound
	case rnrerr.KindOutOfRange:
		return http.StatusRequestedRangeNotSatisfiable
	case rnrerr.KindFormat:
		return http.StatusUnprocessableEntity
	case rnrerr.KindIO:
		return http.StatusServiceUnavailable
	case rnrerr.KindMemory:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as JSON with a status derived from its kind
func writeError(w http.ResponseWriter, err error) {
	var unauthorized auth.UnauthorizedError
	var forbidden auth.ForbiddenError
	switch {
	case errors.As(err, &unauthorized):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
		return
	case errors.As(err, &forbidden):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: err.Error()})
		return
	}

	kind := rnrerr.KindOf(err)
	writeJSON(w, statusForKind(kind), ErrorResponse{
		Error: err.Error(),
		Kind:  string(kind),
		Op:    rnrerr.OpOf(err),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	//nolint:errcheck // Status code already written
	_ = json.NewEncoder(w).Encode(v)
}
