package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// Recovery turns a handler panic into a 500 response. Nothing is written
// when the handler had already started its response.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := wrapResponseWriter(w)
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				log.Error().
					Str("panic", fmt.Sprint(v)).
					Str("method", r.Method).
					Str("route", r.Pattern).
					Str("stack", string(debug.Stack())).
					Msg("recovered from handler panic")
				if !ww.wroteHeader {
					writeJSONError(ww, http.StatusInternalServerError, "internal server error")
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// writeJSONError writes {"error": msg}
func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	//nolint:errcheck // Headers are already sent
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
