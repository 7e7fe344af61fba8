package push

import (
	"strings"
	"sync"
	"time"
)

// coalescer batches rapid-fire events for the same entity into one merged
// event per window. The first event for an entity arms a timer; everything
// that lands on the same entity before it fires is folded in.
type coalescer struct {
	window time.Duration
	flush  func(Event)

	mu      sync.Mutex
	pending map[string]*pendingEvent
	stopped bool
}

type pendingEvent struct {
	event Event
	timer *time.Timer
}

const defaultCoalesceWindow = time.Second

func newCoalescer(window time.Duration, flush func(Event)) *coalescer {
	if window <= 0 || window > time.Second {
		window = defaultCoalesceWindow
	}
	return &coalescer{
		window:  window,
		flush:   flush,
		pending: make(map[string]*pendingEvent),
	}
}

// coalescable reports whether an event is an entity update that may be
// folded into a pending one. Anything else goes out immediately so distinct
// kinds never smear into each other.
func coalescable(ev Event) bool {
	return ev.EntityID != "" && strings.HasSuffix(ev.Type, ".updated")
}

func coalesceKey(ev Event) string {
	return ev.Type + "|" + ev.EntityID
}

func (c *coalescer) publish(ev Event) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	if !coalescable(ev) {
		c.mu.Unlock()
		c.flush(ev)
		return
	}

	key := coalesceKey(ev)
	if p, ok := c.pending[key]; ok {
		p.event = merge(p.event, ev)
		c.mu.Unlock()
		return
	}

	p := &pendingEvent{event: ev}
	p.timer = time.AfterFunc(c.window, func() { c.release(key) })
	c.pending[key] = p
	c.mu.Unlock()
}

func (c *coalescer) release(key string) {
	c.mu.Lock()
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	stopped := c.stopped
	c.mu.Unlock()

	if ok && !stopped {
		c.flush(p.event)
	}
}

// stop cancels outstanding timers and flushes nothing further.
func (c *coalescer) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for id, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, id)
	}
}
