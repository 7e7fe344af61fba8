package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/playerdash/dashboard/internal/auth/service"
	"github.com/playerdash/dashboard/internal/auth/store"
	"github.com/playerdash/dashboard/pkg/httpx"
	"github.com/playerdash/dashboard/pkg/slogx"
)

// DeletePrincipalHandler removes an account and kills its sessions.
type DeletePrincipalHandler struct {
	PrincipalService *service.PrincipalService
}

func (h *DeletePrincipalHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	if err := h.PrincipalService.Delete(ctx, actor, id); err != nil {
		switch {
		case errors.Is(err, service.ErrForbidden):
			httpx.WriteError(w, http.StatusForbidden, msgForbidden)
		case errors.Is(err, service.ErrLastPlatformAdmin):
			httpx.WriteError(w, http.StatusConflict, msgLastAdmin)
		case errors.Is(err, store.ErrNotFound):
			httpx.WriteError(w, http.StatusNotFound, msgInvalidInput)
		default:
			log.Error("principal deletion failed", slog.Any("error", err))
			httpx.WriteError(w, http.StatusInternalServerError, msgServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
