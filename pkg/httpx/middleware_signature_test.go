package httpx_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/playerdash/dashboard/internal/auth/domain"
	"github.com/playerdash/dashboard/internal/auth/service"
	"github.com/playerdash/dashboard/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func signedTestRequest(t *testing.T, signer *service.Signer, method, path, body string) *http.Request {
	t.Helper()

	var reader io.Reader
	payload := method + " " + path
	if body != "" {
		reader = strings.NewReader(body)
		payload += "\n" + body
	}
	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(context.WithValue(req.Context(),
		httpx.CtxKeyPrincipal, domain.Principal{ID: "p1", Role: domain.RoleTenantAdmin}))

	sig := signer.Sign("p1", payload)
	req.Header.Set(httpx.HeaderRequestSignature, sig.Signature)
	req.Header.Set(httpx.HeaderRequestTimestamp, strconv.FormatInt(sig.Timestamp, 10))
	return req
}

func TestRequireSignedRequest(t *testing.T) {
	signer, err := service.NewSigner([]byte("request-signing-key"), 30*time.Second)
	require.NoError(t, err)

	var seenBody string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seenBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	})
	h := httpx.RequireSignedRequest(signer)(inner)

	t.Run("accepts a fresh valid signature and preserves the body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signedTestRequest(t, signer, http.MethodDelete, "/auth/principals/p2", `{"reason":"offboarded"}`))
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, `{"reason":"offboarded"}`, seenBody)
	})

	t.Run("accepts a bodyless request", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signedTestRequest(t, signer, http.MethodDelete, "/auth/principals/p2", ""))
		require.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("rejects missing headers", func(t *testing.T) {
		req := signedTestRequest(t, signer, http.MethodDelete, "/auth/principals/p2", "")
		req.Header.Del(httpx.HeaderRequestSignature)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("rejects a signature over a different path", func(t *testing.T) {
		good := signedTestRequest(t, signer, http.MethodDelete, "/auth/principals/p2", "")
		req := signedTestRequest(t, signer, http.MethodDelete, "/auth/principals/p3", "")
		req.Header.Set(httpx.HeaderRequestSignature, good.Header.Get(httpx.HeaderRequestSignature))
		req.Header.Set(httpx.HeaderRequestTimestamp, good.Header.Get(httpx.HeaderRequestTimestamp))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("rejects a signature from another principal", func(t *testing.T) {
		req := signedTestRequest(t, signer, http.MethodDelete, "/auth/principals/p2", "")
		req = req.WithContext(context.WithValue(req.Context(),
			httpx.CtxKeyPrincipal, domain.Principal{ID: "p9", Role: domain.RoleTenantAdmin}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("rejects a stale timestamp", func(t *testing.T) {
		req := signedTestRequest(t, signer, http.MethodDelete, "/auth/principals/p2", "")
		stale := time.Now().Add(-31 * time.Second).Unix()
		// Re-sign so only freshness is at fault.
		payload := "DELETE /auth/principals/p2"
		sig := signer.Sign("p1", payload)
		sig.Timestamp = stale
		req.Header.Set(httpx.HeaderRequestSignature, sig.Signature)
		req.Header.Set(httpx.HeaderRequestTimestamp, strconv.FormatInt(stale, 10))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("rejects unauthenticated requests", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/auth/principals/p2", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
