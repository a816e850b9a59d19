package auth

import (
	"net/http"
	"strings"
)

const (
	RoleAdmin   = "admin"
	RoleService = "service"
)

// RequireRole allows the request only if RequireUser already injected the given role into context.
func RequireRole(role string) func(next http.Handler) http.Handler {
	want := strings.ToLower(strings.TrimSpace(role))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ := RoleFromContext(r.Context())
			if strings.ToLower(strings.TrimSpace(got)) != want {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin is RequireRole(RoleAdmin).
func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole(RoleAdmin)(next)
}
