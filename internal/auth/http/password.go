package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/playerdash/dashboard/internal/auth/service"
	"github.com/playerdash/dashboard/pkg/cryptox"
	"github.com/playerdash/dashboard/pkg/httpx"
	"github.com/playerdash/dashboard/pkg/slogx"
)

// ForgotPasswordHandler always answers as if the email was sent; whether the
// address exists is never revealed. Only the cooldown surfaces as an error.
type ForgotPasswordHandler struct {
	ResetService *service.ResetService
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (h *ForgotPasswordHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req forgotPasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Email == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}

	if err := h.ResetService.RequestReset(ctx, req.Email); err != nil {
		if errors.Is(err, service.ErrResetCooldown) {
			w.Header().Set("Retry-After", "300")
			httpx.WriteError(w, http.StatusTooManyRequests, msgTooManyRequests)
			return
		}
		log.Error("reset request failed", slog.Any("error", err))
		httpx.WriteError(w, http.StatusInternalServerError, msgServerError)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": msgResetRequested})
}

type ResetPasswordHandler struct {
	ResetService *service.ResetService
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *ResetPasswordHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req resetPasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Token == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}

	if err := h.ResetService.ResetPassword(ctx, req.Token, req.Password); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidToken):
			httpx.WriteError(w, http.StatusBadRequest, msgInvalidToken)
		case errors.Is(err, cryptox.ErrPasswordPolicy):
			httpx.WriteError(w, http.StatusBadRequest, msgPasswordPolicy)
		default:
			log.Error("password reset failed", slog.Any("error", err))
			httpx.WriteError(w, http.StatusInternalServerError, msgServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
