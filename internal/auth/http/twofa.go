package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/playerdash/dashboard/internal/auth/service"
	"github.com/playerdash/dashboard/pkg/httpx"
	"github.com/playerdash/dashboard/pkg/slogx"
)

// TwoFAHandler covers enrollment, verification and teardown of the second
// factor for an authenticated principal.
type TwoFAHandler struct {
	TOTPService *service.TOTPService
}

type twoFACodeRequest struct {
	Code string `json:"code"`
}

// HandleGenerate starts enrollment and returns the secret plus provisioning
// URI for the QR code.
func (h *TwoFAHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	p, ok := httpx.PrincipalFromCtx(ctx)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	resp, err := h.TOTPService.BeginEnrollment(ctx, p.ID)
	if err != nil {
		if errors.Is(err, service.ErrTOTPAlreadySetup) {
			httpx.WriteError(w, http.StatusConflict, msgInvalidInput)
			return
		}
		log.Error("totp enrollment failed", slog.Any("error", err))
		httpx.WriteError(w, http.StatusInternalServerError, msgServerError)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleVerifySetup confirms the pending secret with a current code.
func (h *TwoFAHandler) HandleVerifySetup(w http.ResponseWriter, r *http.Request) {
	h.verifyWith(w, r, h.TOTPService.ConfirmEnrollment)
}

// HandleVerify checks a code against the committed secret, for flows that
// re-confirm the second factor on sensitive actions.
func (h *TwoFAHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	h.verifyWith(w, r, h.TOTPService.Verify)
}

// HandleDisable turns the second factor off after a valid current code.
func (h *TwoFAHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	h.verifyWith(w, r, h.TOTPService.Disable)
}

// HandleCancel abandons a pending enrollment.
func (h *TwoFAHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	p, ok := httpx.PrincipalFromCtx(ctx)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	if err := h.TOTPService.CancelEnrollment(ctx, p.ID); err != nil {
		if errors.Is(err, service.ErrTOTPNotEnrolling) {
			httpx.WriteError(w, http.StatusBadRequest, msgInvalidInput)
			return
		}
		log.Error("totp cancel failed", slog.Any("error", err))
		httpx.WriteError(w, http.StatusInternalServerError, msgServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleStatus reports whether TOTP is enabled for the caller.
func (h *TwoFAHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.PrincipalFromCtx(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{
		"enabled": p.TOTPEnabled,
		"pending": p.TOTPPendingSecret != nil,
	})
}

func (h *TwoFAHandler) verifyWith(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, principalID, code string) error) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	p, ok := httpx.PrincipalFromCtx(ctx)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	var req twoFACodeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}

	if err := op(ctx, p.ID, req.Code); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidTOTPCode):
			httpx.WriteError(w, http.StatusUnauthorized, msgInvalidCode)
		case errors.Is(err, service.ErrTOTPNotEnrolling),
			errors.Is(err, service.ErrTOTPNotEnabled),
			errors.Is(err, service.ErrTOTPSecretMissing):
			httpx.WriteError(w, http.StatusBadRequest, msgInvalidInput)
		default:
			log.Error("totp operation failed", slog.Any("error", err))
			httpx.WriteError(w, http.StatusInternalServerError, msgServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
