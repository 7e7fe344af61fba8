package push

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/playerdash/dashboard/internal/auth/domain"
	"github.com/playerdash/dashboard/pkg/httpx"
	"github.com/playerdash/dashboard/pkg/slogx"
)

const (
	// SubprotocolPrefix carries the access token during the upgrade:
	// the client offers "jwt.<token>" in Sec-WebSocket-Protocol.
	SubprotocolPrefix = "jwt."

	// CloseUnauthorized signals an authentication or revocation failure.
	CloseUnauthorized = 4401

	closeGoingAway = websocket.CloseGoingAway

	pingInterval   = 30 * time.Second
	pongGrace      = 5 * time.Second
	writeWait      = 5 * time.Second
	reverifyPeriod = 60 * time.Second
	sendBuffer     = 32
)

// Session is one authenticated WebSocket connection. All writes funnel
// through a single writer goroutine so broadcasts and control frames never
// interleave on the wire.
type Session struct {
	hub     *Hub
	conn    *websocket.Conn
	checker httpx.AccessChecker

	rawToken  string
	principal domain.Principal

	reverifyEvery time.Duration

	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// Handler upgrades requests into push sessions.
type Handler struct {
	Hub     *Hub
	Checker httpx.AccessChecker

	// AllowedOrigins restricts the Origin header; empty allows same-origin
	// defaults from gorilla.
	AllowedOrigins []string

	// ReverifyPeriod overrides the credential re-check interval when > 0.
	ReverifyPeriod time.Duration
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	raw, ok := tokenFromSubprotocols(r)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Niet geautoriseerd")
		return
	}

	_, principal, err := h.Checker.CheckAccess(r.Context(), raw)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "Niet geautoriseerd")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		Subprotocols:    []string{SubprotocolPrefix + raw},
		CheckOrigin:     h.originChecker(),
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	s := &Session{
		hub:           h.Hub,
		conn:          conn,
		checker:       h.Checker,
		rawToken:      raw,
		principal:     principal,
		reverifyEvery: reverifyPeriod,
		send:          make(chan []byte, sendBuffer),
		done:          make(chan struct{}),
	}
	if h.ReverifyPeriod > 0 {
		s.reverifyEvery = h.ReverifyPeriod
	}
	if !s.hub.register(s) {
		s.Close(closeGoingAway, "server shutting down")
		return
	}

	log.Info("push session opened", slog.String("principal_id", principal.ID))
	go s.writeLoop()
	go s.readLoop()
	go s.reverifyLoop()
}

func (h *Handler) originChecker() func(r *http.Request) bool {
	if len(h.AllowedOrigins) == 0 {
		return nil // gorilla's same-origin default
	}
	allowed := make(map[string]struct{}, len(h.AllowedOrigins))
	for _, o := range h.AllowedOrigins {
		allowed[strings.TrimSuffix(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.TrimSuffix(origin, "/")]
		return ok
	}
}

func tokenFromSubprotocols(r *http.Request) (string, bool) {
	for _, proto := range websocket.Subprotocols(r) {
		if strings.HasPrefix(proto, SubprotocolPrefix) {
			token := strings.TrimPrefix(proto, SubprotocolPrefix)
			return token, token != ""
		}
	}
	return "", false
}

// enqueue offers data to the writer without blocking; a full buffer reports
// failure so the hub can evict the session.
func (s *Session) enqueue(data []byte) bool {
	select {
	case s.send <- data:
		return true
	case <-s.done:
		return true // closing anyway, not the hub's problem
	default:
		return false
	}
}

// writeLoop is the only goroutine touching the write side of the connection.
func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
			// The pong has pongGrace to arrive; the pong handler pushes
			// the deadline back out to the next ping.
			_ = s.conn.SetReadDeadline(time.Now().Add(pongGrace))
		case <-s.done:
			return
		}
	}
}

// readLoop drains client frames (nothing meaningful is expected) and keeps
// the pong deadline fresh. A missed pong surfaces as a read error.
func (s *Session) readLoop() {
	s.conn.SetReadLimit(1024)
	_ = s.conn.SetReadDeadline(time.Now().Add(pingInterval + pongGrace))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pingInterval + pongGrace))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.Close(websocket.CloseNormalClosure, "")
			return
		}
	}
}

// reverifyLoop re-runs the admission chain on an interval so a revoked or
// expired credential terminates the session instead of riding it out.
func (s *Session) reverifyLoop() {
	ticker := time.NewTicker(s.reverifyEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, p, err := s.checker.CheckAccess(ctx, s.rawToken)
			cancel()
			if err != nil {
				s.Close(CloseUnauthorized, "credential no longer valid")
				return
			}
			// The admission snapshot drives tenant scoping; a role change
			// invalidates it rather than riding out the token.
			if p.Role != s.principal.Role {
				s.Close(CloseUnauthorized, "credential no longer valid")
				return
			}
		case <-s.done:
			return
		}
	}
}

// Close tears the session down exactly once: a best-effort close frame, then
// the connection, then deregistration.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = s.conn.Close()
		s.hub.unregister(s)
	})
}
