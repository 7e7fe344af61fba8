package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/playerdash/dashboard/internal/auth/domain"
	"github.com/playerdash/dashboard/pkg/jwtx"
	"github.com/playerdash/dashboard/pkg/slogx"
)

// AccessChecker runs the full bearer-token admission chain: signature and
// claim validation, the revocation index, and the live principal record.
type AccessChecker interface {
	CheckAccess(ctx context.Context, raw string) (jwtx.Claims, domain.Principal, error)
}

func AuthnMiddleware(checker AccessChecker) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			raw, ok := BearerToken(r)
			if !ok {
				writeBearerError(w, "missing bearer token")
				return
			}

			claims, principal, err := checker.CheckAccess(ctx, raw)
			if err != nil {
				writeBearerError(w, "token verification failed")
				log.Warn("bearer token rejected", slog.Any("error", err))
				return
			}

			// Inject into context for downstream handlers.
			ctx = contextWithAuth(ctx, claims, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer"))
	return raw, raw != ""
}

func contextWithAuth(ctx context.Context, c jwtx.Claims, p domain.Principal) context.Context {
	ctx = context.WithValue(ctx, CtxKeyPrincipalID, p.ID)
	ctx = context.WithValue(ctx, CtxKeyPrincipal, p)
	ctx = context.WithValue(ctx, CtxKeyClaims, c)
	return ctx
}

// RFC 6750-compliant error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteJSON(w, http.StatusUnauthorized, ErrorBody{Message: "Niet geautoriseerd"})
}
