package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/playerdash/dashboard/internal/auth/domain"
	"github.com/playerdash/dashboard/internal/auth/service"
	"github.com/playerdash/dashboard/internal/auth/store"
	"github.com/playerdash/dashboard/pkg/cryptox"
	"github.com/playerdash/dashboard/pkg/httpx"
	"github.com/playerdash/dashboard/pkg/slogx"
)

// RegisterInvitationHandler creates a pending account and mails the
// registration link. Runs behind AuthnMiddleware + RequireCapability.
type RegisterInvitationHandler struct {
	InviteService *service.InviteService
}

type registerInvitationRequest struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	CompanyID string `json:"companyId,omitempty"`
}

func (h *RegisterInvitationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	actor, ok := httpx.PrincipalFromCtx(ctx)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	var req registerInvitationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Email == "" || req.Role == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}

	p, err := h.InviteService.Invite(ctx, actor, req.Email, domain.Role(req.Role), req.CompanyID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrForbidden):
			httpx.WriteError(w, http.StatusForbidden, msgForbidden)
		case errors.Is(err, service.ErrEmailTaken):
			httpx.WriteError(w, http.StatusConflict, msgEmailTaken)
		case errors.Is(err, service.ErrTenantFull):
			httpx.WriteError(w, http.StatusConflict, msgTenantFull)
		case errors.Is(err, service.ErrResendCooldown):
			httpx.WriteError(w, http.StatusTooManyRequests, msgTooManyRequests)
		default:
			log.Error("invitation failed", slog.Any("error", err))
			httpx.WriteError(w, http.StatusInternalServerError, msgServerError)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, p.Info())
}

// CompleteRegistrationHandler consumes an invitation token, sets the
// password and immediately issues a session.
type CompleteRegistrationHandler struct {
	InviteService *service.InviteService
	TokenService  *service.TokenService
}

type completeRegistrationRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

func (h *CompleteRegistrationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req completeRegistrationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Token == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}

	p, err := h.InviteService.CompleteRegistration(ctx, req.Token, req.Password, req.Email)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidToken):
			httpx.WriteError(w, http.StatusBadRequest, msgInvalidToken)
		case errors.Is(err, cryptox.ErrPasswordPolicy):
			httpx.WriteError(w, http.StatusBadRequest, msgPasswordPolicy)
		case errors.Is(err, service.ErrEmailTaken):
			httpx.WriteError(w, http.StatusConflict, msgEmailTaken)
		default:
			log.Error("registration completion failed", slog.Any("error", err))
			httpx.WriteError(w, http.StatusInternalServerError, msgServerError)
		}
		return
	}

	pair, err := h.TokenService.IssuePair(ctx, p)
	if err != nil {
		log.Error("failed to issue session after registration", slog.Any("error", err))
		httpx.WriteError(w, http.StatusInternalServerError, msgServerError)
		return
	}

	info := p.Info()
	httpx.WriteJSON(w, http.StatusOK, loginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		Principal:    &info,
	})
}

// ResendInvitationHandler re-sends a pending invitation with a fresh token.
type ResendInvitationHandler struct {
	InviteService *service.InviteService
}

func (h *ResendInvitationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	actor, ok := httpx.PrincipalFromCtx(ctx)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}

	if err := h.InviteService.Resend(ctx, actor, id); err != nil {
		switch {
		case errors.Is(err, service.ErrForbidden):
			httpx.WriteError(w, http.StatusForbidden, msgForbidden)
		case errors.Is(err, service.ErrInvalidToken):
			httpx.WriteError(w, http.StatusBadRequest, msgInvalidToken)
		case errors.Is(err, service.ErrResendCooldown):
			httpx.WriteError(w, http.StatusTooManyRequests, msgTooManyRequests)
		case errors.Is(err, store.ErrNotFound):
			httpx.WriteError(w, http.StatusNotFound, msgInvalidToken)
		default:
			log.Error("invitation resend failed", slog.Any("error", err))
			httpx.WriteError(w, http.StatusInternalServerError, msgServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
