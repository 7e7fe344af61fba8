package push

import (
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/playerdash/dashboard/internal/auth/domain"
	"github.com/playerdash/dashboard/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

// fakeChecker admits any token and serves whatever principal or error it is
// currently holding, so tests can flip a session's fate mid-flight.
type fakeChecker struct {
	mu        sync.Mutex
	principal domain.Principal
	err       error
}

func (f *fakeChecker) CheckAccess(_ context.Context, _ string) (jwtx.Claims, domain.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return jwtx.Claims{}, f.principal, f.err
}

func (f *fakeChecker) set(p domain.Principal, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.principal, f.err = p, err
}

func newPushServer(t *testing.T, checker *fakeChecker, reverify time.Duration) (*Hub, string) {
	t.Helper()
	h := NewHub(slog.Default(), 10*time.Millisecond)
	t.Cleanup(h.coalesce.stop)

	srv := httptest.NewServer(&Handler{Hub: h, Checker: checker, ReverifyPeriod: reverify})
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialPush(t *testing.T, url, token string) (*websocket.Conn, error) {
	t.Helper()
	dialer := websocket.Dialer{
		Subprotocols:     []string{SubprotocolPrefix + token},
		HandshakeTimeout: 2 * time.Second,
	}
	conn, resp, err := dialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err == nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, err
}

func TestPushHandshakeRequiresSubprotocolToken(t *testing.T) {
	checker := &fakeChecker{principal: domain.Principal{ID: "p1", Role: domain.RoleMember, CompanyID: "t1"}}
	_, url := newPushServer(t, checker, time.Minute)

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	_, resp, err := dialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, 401, resp.StatusCode)
}

func TestPushHandshakeRejectsBadToken(t *testing.T) {
	checker := &fakeChecker{err: errors.New("nope")}
	_, url := newPushServer(t, checker, time.Minute)

	_, err := dialPush(t, url, "expired-token")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
}

func TestPushHandshakeEchoesSubprotocol(t *testing.T) {
	checker := &fakeChecker{principal: domain.Principal{ID: "p1", Role: domain.RoleMember, CompanyID: "t1"}}
	hub, url := newPushServer(t, checker, time.Minute)

	conn, err := dialPush(t, url, "valid-token")
	require.NoError(t, err)
	require.Equal(t, SubprotocolPrefix+"valid-token", conn.Subprotocol())
	require.Eventually(t, func() bool { return hub.SessionCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestPushSessionClosedWhenCredentialRevoked(t *testing.T) {
	checker := &fakeChecker{principal: domain.Principal{ID: "p1", Role: domain.RoleMember, CompanyID: "t1"}}
	hub, url := newPushServer(t, checker, 20*time.Millisecond)

	conn, err := dialPush(t, url, "soon-revoked")
	require.NoError(t, err)

	// As after a password change: the next re-check fails.
	checker.set(domain.Principal{}, errors.New("revoked"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, CloseUnauthorized), "expected close %d, got %v", CloseUnauthorized, err)
	require.Eventually(t, func() bool { return hub.SessionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestPushSessionClosedWhenRoleChanges(t *testing.T) {
	admin := domain.Principal{ID: "p1", Role: domain.RolePlatformAdmin}
	checker := &fakeChecker{principal: admin}
	hub, url := newPushServer(t, checker, 20*time.Millisecond)

	conn, err := dialPush(t, url, "demoted")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	// Demoted in the store; the admission snapshot must not outlive it.
	demoted := admin
	demoted.Role = domain.RoleMember
	demoted.CompanyID = "t1"
	checker.set(demoted, nil)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, CloseUnauthorized), "expected close %d, got %v", CloseUnauthorized, err)
}
