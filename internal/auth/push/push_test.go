package push

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/playerdash/dashboard/internal/auth/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalescerMergesWithinWindow(t *testing.T) {
	var mu sync.Mutex
	var flushed []Event
	c := newCoalescer(50*time.Millisecond, func(ev Event) {
		mu.Lock()
		flushed = append(flushed, ev)
		mu.Unlock()
	})
	defer c.stop()

	c.publish(Event{Type: "player.updated", EntityID: "p1", Payload: map[string]any{"name": "old", "score": 10}})
	c.publish(Event{Type: "player.updated", EntityID: "p1", Payload: map[string]any{"name": "new"}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(flushed) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// Newer field wins, older-only field survives.
	assert.Equal(t, "new", flushed[0].Payload["name"])
	assert.Equal(t, 10, flushed[0].Payload["score"])
}

func TestCoalescerSeparateEntities(t *testing.T) {
	var mu sync.Mutex
	flushed := map[string]int{}
	c := newCoalescer(30*time.Millisecond, func(ev Event) {
		mu.Lock()
		flushed[ev.EntityID]++
		mu.Unlock()
	})
	defer c.stop()

	c.publish(Event{Type: "player.updated", EntityID: "a"})
	c.publish(Event{Type: "player.updated", EntityID: "b"})
	c.publish(Event{Type: "player.updated", EntityID: "a"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return flushed["a"] == 1 && flushed["b"] == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCoalescerPassesNonEntityEventsThrough(t *testing.T) {
	var mu sync.Mutex
	var flushed []Event
	c := newCoalescer(50*time.Millisecond, func(ev Event) {
		mu.Lock()
		flushed = append(flushed, ev)
		mu.Unlock()
	})
	defer c.stop()

	// Neither is an entity update; both must come out unmerged, at once.
	c.publish(Event{Type: "player.online", CompanyID: "t1", Payload: map[string]any{"id": "p1"}})
	c.publish(Event{Type: "company.created", CompanyID: "t2", Payload: map[string]any{"name": "acme"}})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushed, 2)
	assert.Equal(t, "player.online", flushed[0].Type)
	assert.Equal(t, map[string]any{"id": "p1"}, flushed[0].Payload)
	assert.Equal(t, "company.created", flushed[1].Type)
	assert.Equal(t, map[string]any{"name": "acme"}, flushed[1].Payload)
}

func TestCoalescerKeepsDistinctKindsApart(t *testing.T) {
	var mu sync.Mutex
	var flushed []Event
	c := newCoalescer(30*time.Millisecond, func(ev Event) {
		mu.Lock()
		flushed = append(flushed, ev)
		mu.Unlock()
	})
	defer c.stop()

	c.publish(Event{Type: "player.updated", EntityID: "e1", Payload: map[string]any{"score": 1}})
	c.publish(Event{Type: "device.updated", EntityID: "e1", Payload: map[string]any{"online": true}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(flushed) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, ev := range flushed {
		require.Len(t, ev.Payload, 1, "cross-kind payloads must not merge")
	}
}

func TestCoalescerEventAfterReleaseStartsNewWindow(t *testing.T) {
	var mu sync.Mutex
	var count int
	c := newCoalescer(20*time.Millisecond, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	defer c.stop()

	c.publish(Event{Type: "player.updated", EntityID: "a"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 5*time.Millisecond)

	c.publish(Event{Type: "player.updated", EntityID: "a"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	}, time.Second, 5*time.Millisecond)
}

func newTestSession(h *Hub, p domain.Principal) *Session {
	return &Session{
		hub:       h,
		principal: p,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
}

func drain(s *Session) []Event {
	var events []Event
	for {
		select {
		case data := <-s.send:
			var ev Event
			if err := json.Unmarshal(data, &ev); err == nil {
				events = append(events, ev)
			}
		default:
			return events
		}
	}
}

func TestHubTenantFiltering(t *testing.T) {
	h := NewHub(slog.Default(), 10*time.Millisecond)
	defer h.coalesce.stop()

	member := newTestSession(h, domain.Principal{ID: "m", Role: domain.RoleMember, CompanyID: "t1"})
	otherTenant := newTestSession(h, domain.Principal{ID: "o", Role: domain.RoleTenantAdmin, CompanyID: "t2"})
	admin := newTestSession(h, domain.Principal{ID: "a", Role: domain.RolePlatformAdmin})
	for _, s := range []*Session{member, otherTenant, admin} {
		require.True(t, h.register(s))
	}
	require.Equal(t, 3, h.SessionCount())

	h.broadcast(Event{Type: "player.updated", EntityID: "p1", CompanyID: "t1"})

	assert.Len(t, drain(member), 1, "same tenant receives")
	assert.Empty(t, drain(otherTenant), "other tenant filtered out")
	assert.Len(t, drain(admin), 1, "platform admin sees all tenants")
}

func TestHubPublishGoesThroughCoalescer(t *testing.T) {
	h := NewHub(slog.Default(), 20*time.Millisecond)
	defer h.coalesce.stop()

	admin := newTestSession(h, domain.Principal{ID: "a", Role: domain.RolePlatformAdmin})
	require.True(t, h.register(admin))

	h.Publish(Event{Type: "device.updated", EntityID: "d1", CompanyID: "t1", Payload: map[string]any{"online": false}})
	h.Publish(Event{Type: "device.updated", EntityID: "d1", CompanyID: "t1", Payload: map[string]any{"online": true}})

	require.Eventually(t, func() bool {
		return len(admin.send) == 1
	}, time.Second, 10*time.Millisecond)

	events := drain(admin)
	require.Len(t, events, 1)
	assert.Equal(t, true, events[0].Payload["online"])
}

func TestHubSessionCountCallback(t *testing.T) {
	h := NewHub(slog.Default(), 10*time.Millisecond)
	var last int
	h.OnSessionCount = func(n int) { last = n }

	s := newTestSession(h, domain.Principal{ID: "x", Role: domain.RoleMember, CompanyID: "t1"})
	require.True(t, h.register(s))
	assert.Equal(t, 1, last)
	h.unregister(s)
	assert.Equal(t, 0, last)
}
