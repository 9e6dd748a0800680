package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Logging writes one line per request. 5xx responses log at error, 4xx at
// warn, hits on /health and /ready at debug.
func Logging(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := wrapResponseWriter(w)
			next.ServeHTTP(ww, r)

			var ev *zerolog.Event
			switch code := ww.statusCode; {
			case code >= http.StatusInternalServerError:
				ev = log.Error()
			case code >= http.StatusBadRequest:
				ev = log.Warn()
			case r.Pattern == "GET /health" || r.Pattern == "GET /ready":
				ev = log.Debug()
			default:
				ev = log.Info()
			}
			ev.Str("method", r.Method).
				Str("route", r.Pattern).
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Int("status", ww.statusCode).
				Int64("bytes", ww.bytes).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	bytes       int64
}

// wrapResponseWriter reuses an existing wrapper so nested middleware see the
// same status
func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
