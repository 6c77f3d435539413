package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth rejects requests whose Authorization header does not carry the
// configured token. An empty token disables the check (local deployments).
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminChecker reports whether an email is on the operator allowlist.
type AdminChecker interface {
	IsAdmin(email string) (bool, error)
}

// RequireAdmin rejects requests whose X-Admin-Email header is not on the
// allowlist.
func RequireAdmin(checker AdminChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email := r.Header.Get("X-Admin-Email")
			if email == "" {
				httpError(w, http.StatusForbidden, "permission_error", "X-Admin-Email header is required")
				return
			}
			ok, err := checker.IsAdmin(email)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "checking allowlist: %v", err)
				return
			}
			if !ok {
				httpError(w, http.StatusForbidden, "permission_error", "%s is not an admin", email)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
