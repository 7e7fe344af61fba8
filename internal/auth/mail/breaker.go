package mail

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/playerdash/dashboard/pkg/slogx"
)

var ErrMailUnavailable = errors.New("mail delivery temporarily unavailable")

// Breaker wraps a Mailer with a circuit breaker and a bounded retry queue.
// After Threshold consecutive failures the circuit opens: sends are queued
// instead of attempted, and a background loop retries the queue every
// RetryInterval until the relay answers again.
type Breaker struct {
	next          Mailer
	threshold     int
	retryInterval time.Duration
	queueCap      int

	mu       sync.Mutex
	failures int
	openedAt time.Time
	queue    []queuedMessage

	stop chan struct{}
	done chan struct{}
}

type queuedMessage struct {
	to, subject, body string
}

const (
	DefaultBreakerThreshold = 3
	DefaultRetryInterval    = 5 * time.Minute
	defaultQueueCap         = 256
)

func NewBreaker(next Mailer, threshold int, retryInterval time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	return &Breaker{
		next:          next,
		threshold:     threshold,
		retryInterval: retryInterval,
		queueCap:      defaultQueueCap,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the retry loop. Call Stop on shutdown.
func (b *Breaker) Start(ctx context.Context) {
	go b.retryLoop(ctx)
}

func (b *Breaker) Stop() {
	close(b.stop)
	<-b.done
}

// Send attempts delivery, or queues the message when the circuit is open.
// Queueing is reported as success: the message will go out, just later.
func (b *Breaker) Send(ctx context.Context, to, subject, body string) error {
	b.mu.Lock()
	open := b.failures >= b.threshold
	b.mu.Unlock()

	if open {
		return b.enqueue(ctx, to, subject, body)
	}

	if err := b.next.Send(ctx, to, subject, body); err != nil {
		b.mu.Lock()
		b.failures++
		tripped := b.failures == b.threshold
		if tripped {
			b.openedAt = time.Now()
		}
		b.mu.Unlock()
		if tripped {
			slogx.FromContext(ctx).Warn("mail circuit opened", slog.Any("error", err))
		}
		return b.enqueue(ctx, to, subject, body)
	}

	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
	return nil
}

func (b *Breaker) enqueue(ctx context.Context, to, subject, body string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) >= b.queueCap {
		return ErrMailUnavailable
	}
	b.queue = append(b.queue, queuedMessage{to: to, subject: subject, body: body})
	slogx.FromContext(ctx).Info("mail queued for retry",
		slog.String("to", to), slog.Int("queue_depth", len(b.queue)))
	return nil
}

func (b *Breaker) retryLoop(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.drain(ctx)
		}
	}
}

// drain retries queued messages in order, stopping at the first failure so a
// still-dead relay costs one attempt per interval.
func (b *Breaker) drain(ctx context.Context) {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		msg := b.queue[0]
		b.mu.Unlock()

		if err := b.next.Send(ctx, msg.to, msg.subject, msg.body); err != nil {
			return
		}

		b.mu.Lock()
		b.queue = b.queue[1:]
		b.failures = 0
		b.mu.Unlock()
		slogx.FromContext(ctx).Info("queued mail delivered", slog.String("to", msg.to))
	}
}
