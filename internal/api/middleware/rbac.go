package middleware

import (
	"net/http"

	"github.com/firealarmweb/firealarm/internal/models"
)

// RequireRole returns middleware that requires specific roles.
// Admin always passes.
func RequireRole(allowedRoles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := GetIdentity(r.Context())
			if !id.Authenticated() {
				jsonUnauthorized(w)
				return
			}
			if id.IsAdmin() {
				next.ServeHTTP(w, r)
				return
			}

			for _, role := range allowedRoles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			jsonForbidden(w)
		})
	}
}

// RequireAdmin is shorthand for RequireRole(RoleAdmin).
func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole(models.RoleAdmin)(next)
}
