package http

import (
	"net/http"

	"github.com/playerdash/dashboard/internal/auth/service"
	"github.com/playerdash/dashboard/pkg/httpx"
)

// SignRequestHandler issues an HMAC signature over a payload for the
// authenticated principal, for sensitive downstream calls to verify.
type SignRequestHandler struct {
	Signer *service.Signer
}

type signRequest struct {
	Payload string `json:"payload"`
}

func (h *SignRequestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.PrincipalFromCtx(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	var req signRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Payload == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, h.Signer.Sign(p.ID, req.Payload))
}
