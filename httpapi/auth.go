// Package httpapi is the HTTP + WebSocket control plane: JSON REST
// endpoints for config and maintenance, and a "/ws" event/command stream,
// both gated by an optional HTTP Basic Auth layer.
package httpapi

import (
	"crypto/subtle"
	"net/http"
)

// requireAuth wraps next with HTTP Basic Auth, bypassed entirely when auth
// is disabled for the running instance.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authEnabled {
			next(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || !constantTimeEqual(user, s.username) || !constantTimeEqual(pass, s.password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Login Required"`)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
