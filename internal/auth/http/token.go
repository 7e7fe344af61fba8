package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/playerdash/dashboard/internal/auth/service"
	"github.com/playerdash/dashboard/pkg/httpx"
	"github.com/playerdash/dashboard/pkg/slogx"
)

type RefreshHandler struct {
	TokenService *service.TokenService
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}

	pair, err := h.TokenService.Refresh(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRefreshToken) {
			httpx.WriteError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		log.Error("refresh failed", slog.Any("error", err))
		httpx.WriteError(w, http.StatusInternalServerError, msgServerError)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, pair)
}

// LogoutHandler runs behind AuthnMiddleware: the access token is already
// verified and its claims live in the request context.
type LogoutHandler struct {
	TokenService *service.TokenService
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	claims, ok := httpx.ClaimsFromCtx(ctx)
	raw, rawOK := httpx.BearerToken(r)
	if !ok || !rawOK {
		httpx.WriteError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	var req logoutRequest
	_ = httpx.DecodeJSON(r, &req) // body is optional

	if err := h.TokenService.Logout(ctx, claims, raw, req.RefreshToken); err != nil {
		log.Error("logout failed", slog.Any("error", err))
		httpx.WriteError(w, http.StatusInternalServerError, msgServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// VerifyTokenHandler reports whether a one-shot (invitation or reset) token
// is still usable, without consuming it.
type VerifyTokenHandler struct {
	InviteService *service.InviteService
}

func (h *VerifyTokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	token := r.URL.Query().Get("token")
	if token == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}

	intent, err := h.InviteService.VerifyToken(ctx, token)
	if err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			httpx.WriteError(w, http.StatusBadRequest, msgInvalidToken)
			return
		}
		log.Error("token verification failed", slog.Any("error", err))
		httpx.WriteError(w, http.StatusInternalServerError, msgServerError)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"valid":  true,
		"intent": intent,
	})
}
