package store

import (
	"context"
	"errors"
	"time"

	"github.com/playerdash/dashboard/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite) implement
// this. It exposes sub-repositories to keep concerns tidy and testable.
type Store interface {
	Principals() Principals
	RefreshTokens() RefreshTokens

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, rolling back when fn errors
	// and committing otherwise. Prefer this over Tx directly.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Principals interface {
	// GetByID returns a principal by id.
	GetByID(ctx context.Context, id string) (domain.Principal, error)

	// GetActiveByEmail returns the active principal for a normalized email.
	// At most one active principal per email exists.
	GetActiveByEmail(ctx context.Context, email string) (domain.Principal, error)

	// GetPendingByEmail returns a pending (invited, not yet registered)
	// principal for a normalized email.
	GetPendingByEmail(ctx context.Context, email string) (domain.Principal, error)

	// GetByInviteHash looks a principal up by invitation token fingerprint.
	GetByInviteHash(ctx context.Context, hash string) (domain.Principal, error)

	// GetByResetHash looks a principal up by reset token fingerprint.
	GetByResetHash(ctx context.Context, hash string) (domain.Principal, error)

	// Create inserts a new principal (id provided by the app via ULID).
	Create(ctx context.Context, p domain.Principal) error

	// Activate completes registration: sets the password hash, flips the
	// principal to active and clears the invitation fields, in one statement.
	Activate(ctx context.Context, id, passwordHash, email string) error

	// UpdatePasswordHash replaces the stored hash and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, id, newHash string) error

	// SetInvite stores a fresh invitation token fingerprint, its expiry and
	// the reminder timestamp.
	SetInvite(ctx context.Context, id, tokenHash string, expiresAt, remindedAt time.Time) error

	// SetResetToken stores a reset token fingerprint and expiry.
	SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error

	// ClearResetToken removes the reset token fields.
	ClearResetToken(ctx context.Context, id string) error

	// IncrementFailedLogins atomically bumps the consecutive-failure counter
	// and returns the new value.
	IncrementFailedLogins(ctx context.Context, id string) (int, error)

	// SetLockout sets locked_until and zeroes the failure counter.
	SetLockout(ctx context.Context, id string, until time.Time) error

	// RecordLogin resets the failure counter, clears any lockout and stamps
	// last_login.
	RecordLogin(ctx context.Context, id string, at time.Time) error

	// SetPendingTOTP stores a pending (unconfirmed) TOTP secret.
	SetPendingTOTP(ctx context.Context, id, secret string) error

	// CommitTOTP promotes the pending secret to committed, enables TOTP and
	// clears the pending slot, atomically.
	CommitTOTP(ctx context.Context, id string) error

	// ClearPendingTOTP abandons an unconfirmed enrollment.
	ClearPendingTOTP(ctx context.Context, id string) error

	// DisableTOTP clears the committed secret and the enabled flag.
	DisableTOTP(ctx context.Context, id string) error

	// CountActiveByRole counts active principals holding a role.
	CountActiveByRole(ctx context.Context, role domain.Role) (int, error)

	// CountByCompany counts principals (pending included) in a tenant.
	CountByCompany(ctx context.Context, companyID string) (int, error)

	// ListReminderCandidates returns pending principals whose invitation has
	// expired and whose last reminder is older than the cutoff.
	ListReminderCandidates(ctx context.Context, now, reminderBefore time.Time) ([]domain.Principal, error)

	// Delete removes a principal. Role invariants are enforced by the service.
	Delete(ctx context.Context, id string) error
}

type RefreshTokens interface {
	// Create stores a new refresh token record.
	Create(ctx context.Context, t domain.RefreshToken) error

	// GetByHash returns the token record by its fingerprint.
	GetByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// MarkRotated performs the rotation compare-and-set: it sets revoked_at
	// and replaced_by only when revoked_at is still null. Returns whether the
	// update won; a concurrent presentation of the same token loses.
	MarkRotated(ctx context.Context, hash, replacedBy string, at time.Time) (bool, error)

	// Revoke sets revoked_at when still null. Idempotent; reports whether the
	// state transitioned.
	Revoke(ctx context.Context, hash string, at time.Time) (bool, error)

	// RevokeAllForPrincipal bulk-revokes every active token of a principal.
	RevokeAllForPrincipal(ctx context.Context, principalID string, at time.Time) error

	// PurgeExpired deletes rows that are expired or revoked (housekeeping).
	PurgeExpired(ctx context.Context, now time.Time) error
}
