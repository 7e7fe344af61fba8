package domain

import "time"

// Status tracks where a principal is in its onboarding lifecycle.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
)

// Principal is a user that can authenticate against the dashboard. Pending
// principals carry an invitation token but no password hash; active ones the
// reverse. One-shot token values are stored as SHA-256 fingerprints only.
type Principal struct {
	ID           string
	Email        string // normalized lowercase
	PasswordHash string // bcrypt; empty while pending
	Role         Role
	CompanyID    string // tenant; empty only for platform admins
	Active       bool
	Status       Status

	FailedLogins int
	LockedUntil  *time.Time
	LastLogin    *time.Time

	InviteTokenHash *string
	InviteExpiresAt *time.Time
	ResetTokenHash  *string
	ResetExpiresAt  *time.Time
	LastReminderAt  *time.Time

	TOTPSecret        *string // committed secret, base32
	TOTPPendingSecret *string
	TOTPEnabled       bool
	TOTPPendingSetup  bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLocked reports whether the lockout window is still active. Locked
// principals fail password verification without doing any hashing work.
func (p *Principal) IsLocked(now time.Time) bool {
	return p.LockedUntil != nil && now.Before(*p.LockedUntil)
}

// InviteValid reports whether the invitation token is present and unexpired.
func (p *Principal) InviteValid(now time.Time) bool {
	return p.InviteTokenHash != nil && p.InviteExpiresAt != nil && now.Before(*p.InviteExpiresAt)
}

// ResetValid reports whether the reset token is present and unexpired.
func (p *Principal) ResetValid(now time.Time) bool {
	return p.ResetTokenHash != nil && p.ResetExpiresAt != nil && now.Before(*p.ResetExpiresAt)
}

// Info returns the public snapshot sent to clients and bound to push sessions.
func (p *Principal) Info() PrincipalInfo {
	return PrincipalInfo{
		ID:        p.ID,
		Email:     p.Email,
		Role:      p.Role,
		CompanyID: p.CompanyID,
	}
}

// PrincipalInfo is the identity snapshot exposed over the API.
type PrincipalInfo struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	CompanyID string `json:"company_id,omitempty"`
}
