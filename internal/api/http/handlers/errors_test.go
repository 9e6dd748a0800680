package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/polysync/rnr/internal/api/auth"
	"github.com/polysync/rnr/internal/logfile"
	"github.com/polysync/rnr/internal/rnrerr"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"usage", rnrerr.UsageError{Reason: "not now"}, http.StatusConflict},
		{"config", rnrerr.ConfigError{Reason: "bad"}, http.StatusBadRequest},
		{"not found", logfile.FileNotFoundError{Path: "x"}, http.StatusNotFound},
		{"out of range", logfile.RecordOutOfRangeError{Index: 9, Count: 3}, http.StatusRequestedRangeNotSatisfiable},
		{"format", logfile.ChecksumMismatchError{}, http.StatusUnprocessableEntity},
		{"io", rnrerr.IOError{Path: "x", Err: errors.New("disk")}, http.StatusServiceUnavailable},
		{"memory", logfile.RecordTooLargeError{Size: 2, Max: 1}, http.StatusRequestEntityTooLarge},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
		{"unauthorized", auth.UnauthorizedError{}, http.StatusUnauthorized},
		{"forbidden", auth.ForbiddenError{Action: "publish"}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, rnrerr.WithOp("op", tt.err))
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}
