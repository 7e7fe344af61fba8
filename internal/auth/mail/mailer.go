// Package mail delivers transactional email (invitations, reset links,
// reminders) over SMTP, with a circuit breaker in front so a dead relay
// degrades the dashboard instead of hanging it.
package mail

import (
	"context"
	"log/slog"

	"github.com/playerdash/dashboard/pkg/slogx"
)

// Mailer sends a single plain-text message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes messages to the log instead of a relay. Development only.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, to, subject, body string) error {
	slogx.FromContext(ctx).Info("mail (not sent, log mailer)",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.Int("body_bytes", len(body)))
	return nil
}
