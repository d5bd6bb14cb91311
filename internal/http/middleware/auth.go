package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth requires a bearer token on /v1/ routes. An empty token disables the check.
func Auth(requiredToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if requiredToken == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/v1/") {
				next.ServeHTTP(w, r)
				return
			}

			authorization := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(authorization, prefix) {
				WriteError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(requiredToken)) != 1 {
				WriteError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
