package httpx

import (
	"net/http"

	"github.com/playerdash/dashboard/internal/auth/domain"
)

// RequireCapability gates a route on the caller's role granting every listed
// capability. Must run after AuthnMiddleware.
func RequireCapability(required ...domain.Capability) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromCtx(r.Context())
			if !ok {
				writeBearerError(w, "missing bearer token")
				return
			}
			for _, cap := range required {
				if !p.Role.Can(cap) {
					WriteJSON(w, http.StatusForbidden, ErrorBody{Message: "Geen toegang"})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
