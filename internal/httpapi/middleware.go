package httpapi

import (
	"net/http"
	"strings"
)

// RequireAPIKey gates every route except the ones the resumable protocol
// mounts itself (those are gated by the session's own uploading-state
// precondition instead). Issuance and rotation of apiKey are external;
// this middleware only verifies. An empty apiKey disables the check.
func RequireAPIKey(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			token := strings.TrimPrefix(auth, "Bearer ")
			if token == "" || token == auth || token != apiKey {
				respondError(w, http.StatusUnauthorized, "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
