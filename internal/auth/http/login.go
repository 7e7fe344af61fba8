package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/playerdash/dashboard/internal/auth/domain"
	"github.com/playerdash/dashboard/internal/auth/obs"
	"github.com/playerdash/dashboard/internal/auth/service"
	"github.com/playerdash/dashboard/pkg/httpx"
	"github.com/playerdash/dashboard/pkg/slogx"
)

type LoginHandler struct {
	LoginService *service.LoginService
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Captcha  string `json:"captcha,omitempty"`
}

type loginResponse struct {
	AccessToken  string                `json:"accessToken,omitempty"`
	RefreshToken string                `json:"refreshToken,omitempty"`
	ExpiresIn    int64                 `json:"expiresIn,omitempty"`
	Principal    *domain.PrincipalInfo `json:"principal,omitempty"`
	Requires2FA  bool                  `json:"requires2FA,omitempty"`
	HandoffToken string                `json:"handoffToken,omitempty"`
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}

	result, err := h.LoginService.Login(ctx, req.Email, req.Password, req.Captcha)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			obs.ObserveLogin("invalid")
			httpx.WriteError(w, http.StatusUnauthorized, msgInvalidCredentials)
		case errors.Is(err, service.ErrCaptchaRequired):
			obs.ObserveLogin("captcha")
			httpx.WriteJSON(w, http.StatusBadRequest, map[string]any{
				"message":         msgCaptchaRequired,
				"captchaRequired": true,
			})
		default:
			log.Error("login failed", slog.Any("error", err))
			httpx.WriteError(w, http.StatusInternalServerError, msgServerError)
		}
		return
	}

	writeLoginResult(w, result)
}

type VerifyLoginHandler struct {
	LoginService *service.LoginService
}

type verifyLoginRequest struct {
	HandoffToken string `json:"handoffToken"`
	Code         string `json:"code"`
}

func (h *VerifyLoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req verifyLoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}
	if req.HandoffToken == "" || req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}

	result, err := h.LoginService.Complete2FA(ctx, req.HandoffToken, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAccessToken), errors.Is(err, service.ErrPrincipalInactive):
			httpx.WriteError(w, http.StatusUnauthorized, msgUnauthorized)
		case errors.Is(err, service.ErrInvalidTOTPCode):
			obs.ObserveLogin("invalid")
			httpx.WriteError(w, http.StatusUnauthorized, msgInvalidCode)
		default:
			log.Error("2fa login completion failed", slog.Any("error", err))
			httpx.WriteError(w, http.StatusInternalServerError, msgServerError)
		}
		return
	}

	writeLoginResult(w, result)
}

func writeLoginResult(w http.ResponseWriter, result service.LoginResult) {
	if result.Requires2FA {
		obs.ObserveLogin("2fa_pending")
		httpx.WriteJSON(w, http.StatusOK, loginResponse{
			Requires2FA:  true,
			HandoffToken: result.HandoffToken,
		})
		return
	}

	obs.ObserveLogin("success")
	info := result.Principal.Info()
	httpx.WriteJSON(w, http.StatusOK, loginResponse{
		AccessToken:  result.Pair.AccessToken,
		RefreshToken: result.Pair.RefreshToken,
		ExpiresIn:    result.Pair.ExpiresIn,
		Principal:    &info,
	})
}
