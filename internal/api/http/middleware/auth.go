package middleware

import (
	"net/http"

	"github.com/polysync/rnr/internal/api/auth"
)

// Auth requires a bearer token granting perm. A nil store leaves the
// route open.
func Auth(store auth.TokenStore, perm auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := auth.Authenticate(store, r.Header.Get("Authorization"))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="rnr"`)
				writeJSONError(w, http.StatusUnauthorized, err.Error())
				return
			}
			if err := auth.Authorize(principal, r.Pattern, perm); err != nil {
				writeJSONError(w, http.StatusForbidden, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}
