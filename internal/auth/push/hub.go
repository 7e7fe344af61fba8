package push

import (
	"log/slog"
	"sync"
	"time"

	"github.com/playerdash/dashboard/internal/auth/domain"
)

// Hub tracks live sessions and fans coalesced events out to the ones allowed
// to see them: a session scoped to a tenant only receives that tenant's
// events, platform admins receive everything.
type Hub struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[*Session]struct{}
	closed   bool

	coalesce *coalescer

	// SessionCount changes are reported here when set (metrics gauge).
	OnSessionCount func(n int)
}

func NewHub(logger *slog.Logger, coalesceWindow time.Duration) *Hub {
	h := &Hub{
		logger:   logger,
		sessions: make(map[*Session]struct{}),
	}
	h.coalesce = newCoalescer(coalesceWindow, h.broadcast)
	return h
}

// Publish enqueues an event. Delivery happens after the entity's coalescing
// window closes.
func (h *Hub) Publish(ev Event) {
	h.coalesce.publish(ev)
}

// broadcast delivers a released event to every admitted session. Slow
// sessions are dropped rather than allowed to stall the rest.
func (h *Hub) broadcast(ev Event) {
	data := ev.encode()
	if data == nil {
		return
	}

	h.mu.RLock()
	var evict []*Session
	for s := range h.sessions {
		if !s.allowed(ev) {
			continue
		}
		if !s.enqueue(data) {
			evict = append(evict, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range evict {
		h.logger.Warn("dropping slow push session", slog.String("principal_id", s.principal.ID))
		s.Close(closeGoingAway, "send buffer full")
	}
}

func (h *Hub) register(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	h.notifyCount(len(h.sessions))
	return true
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; ok {
		delete(h.sessions, s)
		h.notifyCount(len(h.sessions))
	}
}

func (h *Hub) notifyCount(n int) {
	if h.OnSessionCount != nil {
		h.OnSessionCount(n)
	}
}

// SessionCount reports the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown closes every session and stops accepting new ones.
func (h *Hub) Shutdown() {
	h.coalesce.stop()

	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close(closeGoingAway, "server shutting down")
	}
}

// allowed implements tenant scoping.
func (s *Session) allowed(ev Event) bool {
	if s.principal.Role.Can(domain.CapViewAllEvents) {
		return true
	}
	return ev.CompanyID != "" && ev.CompanyID == s.principal.CompanyID
}
