package auth

import (
	"net/http"
	"strings"

	"github.com/example/watch-progress/internal/platform/api"
	"github.com/example/watch-progress/internal/platform/httpserver"
)

// RequireAdmin must run after RequireUser.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, _ := RoleFromContext(r.Context())
		if !strings.EqualFold(strings.TrimSpace(role), "admin") {
			api.Forbidden(w, "FORBIDDEN", "admin role required", httpserver.RequestIDFromContext(r.Context()))
			return
		}
		next.ServeHTTP(w, r)
	})
}
