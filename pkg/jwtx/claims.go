package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token TTL and verification defaults for the dashboard's credential lifecycle.
const (
	// DefaultAccessTokenTTL is the lifetime of access tokens. Short-lived so
	// the revocation index only has to remember entries briefly.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultHandoffTTL is the lifetime of the partially-authenticated 2FA
	// handoff artifact. Long enough to type a code, nothing more.
	DefaultHandoffTTL = 5 * time.Minute

	// DefaultLeeway tolerates clock skew between issuer and verifier.
	DefaultLeeway = 30 * time.Second
)

// Fixed audience/issuer values. They are part of the verification oracle so
// tokens minted for other services never validate here.
const (
	Issuer          = "player-dashboard"
	AccessAudience  = "player-dashboard-api"
	HandoffAudience = "player-dashboard-2fa"
)

// Claims are the access-token claims carried on the wire. The claim names are
// part of the public API contract and must stay stable.
type Claims struct {
	jwt.RegisteredClaims

	// Email of the authenticated principal.
	Email string `json:"email,omitempty"`

	// Role is the principal's role at issuance time. The stored record stays
	// authoritative: verifiers re-check the role against the identity store.
	Role string `json:"role,omitempty"`

	// CompanyID is the tenant the principal belongs to. Empty for platform admins.
	CompanyID string `json:"company_id,omitempty"`

	// Requires2FA marks a handoff artifact: the password was verified but the
	// second factor is still pending. Never set on an access token.
	Requires2FA bool `json:"requires_2fa,omitempty"`
}

// JTI returns the token's unique identifier.
func (c *Claims) JTI() string { return c.RegisteredClaims.ID }

// IssuedTime returns the iat claim, or the zero time when absent.
func (c *Claims) IssuedTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// ExpiryTime returns the exp claim, or the zero time when absent.
func (c *Claims) ExpiryTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
