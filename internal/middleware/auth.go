package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/openclaw/ai-gateway-go/internal/audit"
)

// AdminAuthMiddleware guards the administrative surface with a static
// bearer token. An empty configured token disables the surface entirely.
type AdminAuthMiddleware struct {
	token string
}

func NewAdminAuthMiddleware(token string) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{token: token}
}

func (m *AdminAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.token == "" {
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "Admin surface is disabled",
			})
			return
		}

		header := r.Header.Get("Authorization")
		provided, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(m.token)) != 1 {
			audit.Log(audit.Event{
				Type: audit.EventAuthFailure,
				IP:   r.RemoteAddr,
				Details: map[string]interface{}{
					"path": r.URL.Path,
				},
			})
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid admin token",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
