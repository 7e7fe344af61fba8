package httpx

import (
	"context"

	"github.com/playerdash/dashboard/internal/auth/domain"
	"github.com/playerdash/dashboard/pkg/jwtx"
)

type ctxKey string

const (
	CtxKeyPrincipalID ctxKey = "principal_id"
	CtxKeyPrincipal   ctxKey = "principal"
	CtxKeyClaims      ctxKey = "claims"
)

// PrincipalFromCtx returns the authenticated principal injected by
// AuthnMiddleware.
func PrincipalFromCtx(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(CtxKeyPrincipal).(domain.Principal)
	return p, ok
}

// ClaimsFromCtx returns the verified token claims injected by AuthnMiddleware.
func ClaimsFromCtx(ctx context.Context) (jwtx.Claims, bool) {
	c, ok := ctx.Value(CtxKeyClaims).(jwtx.Claims)
	return c, ok
}

func principalIDFromCtx(ctx context.Context) string {
	if id, ok := ctx.Value(CtxKeyPrincipalID).(string); ok {
		return id
	}
	return ""
}
