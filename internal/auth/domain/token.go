package domain

import "time"

// TokenPair is what a completed authentication returns: a short-lived JWT
// access token and a long-lived opaque refresh token.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"` // seconds until access expiry
}

// RefreshToken models the stored refresh token record. The opaque value never
// touches the database; only its SHA-256 fingerprint is stored.
type RefreshToken struct {
	ID          string
	PrincipalID string
	TokenHash   string
	IssuedAt    time.Time
	ExpiresAt   time.Time // issued_at + 7 days
	RevokedAt   *time.Time
	ReplacedBy  *string // fingerprint of the successor token after rotation
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsActive reports whether the token can still be exchanged: not revoked and
// not past its natural expiry.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// WasRotated reports whether the token has been replaced by a successor.
// Presenting a rotated token is treated as replay of a stolen credential.
func (t *RefreshToken) WasRotated() bool {
	return t.RevokedAt != nil && t.ReplacedBy != nil
}
