package jwtx

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func init() {
	// iat needs sub-second resolution so the revocation index can order a
	// token against a principal-wide marker written in the same second.
	jwt.TimePrecision = time.Millisecond
}

var (
	ErrMalformed    = errors.New("jwtx: malformed token")
	ErrInvalidSig   = errors.New("jwtx: invalid signature")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrAudience     = errors.New("jwtx: audience mismatch")
	ErrMissingClaim = errors.New("jwtx: required claim missing")
)

// Codec signs and verifies HS256 tokens against a process-wide symmetric key.
// It is pure: no store lookups, no revocation checks. Construct one per
// audience (access tokens, 2FA handoff artifacts).
type Codec struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	leeway   time.Duration
}

// NewCodec builds a Codec. The key must be non-empty; issuer and audience are
// enforced on both sides.
func NewCodec(key []byte, issuer, audience string, ttl, leeway time.Duration) (*Codec, error) {
	if len(key) == 0 {
		return nil, errors.New("jwtx: signing key is required")
	}
	if issuer == "" || audience == "" {
		return nil, errors.New("jwtx: issuer and audience are required")
	}
	if ttl <= 0 {
		return nil, errors.New("jwtx: token ttl must be positive")
	}
	if leeway < 0 {
		leeway = 0
	}
	return &Codec{key: key, issuer: issuer, audience: audience, ttl: ttl, leeway: leeway}, nil
}

// TTL returns the configured token lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue signs claims for subject with a fresh random jti and returns the
// compact token plus the jti. Extra fields on the passed claims (email, role,
// company_id, requires_2fa) are preserved; registered claims are overwritten.
func (c *Codec) Issue(subject string, extra Claims, now time.Time) (token string, jti string, err error) {
	jti = uuid.NewString()

	claims := extra
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        jti,
		Subject:   subject,
		Issuer:    c.issuer,
		Audience:  jwt.ClaimStrings{c.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	token, err = t.SignedString(c.key)
	if err != nil {
		return "", "", err
	}
	return token, jti, nil
}

// Verify parses and validates a compact token. Expiry is reported as a
// distinct error so callers can trigger silent refresh; every other decode
// failure collapses into a handful of stable sentinels.
func (c *Codec) Verify(token string) (Claims, error) {
	var claims Claims

	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSig
		}
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(c.leeway),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claims{}, ErrInvalidSig
		case errors.Is(err, jwt.ErrTokenMalformed):
			return Claims{}, ErrMalformed
		default:
			return Claims{}, ErrMalformed
		}
	}

	if claims.Issuer != c.issuer {
		return Claims{}, ErrIssuer
	}
	if !audienceContains(claims.Audience, c.audience) {
		return Claims{}, ErrAudience
	}
	if claims.ID == "" || claims.Subject == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return Claims{}, ErrMissingClaim
	}

	return claims, nil
}

func audienceContains(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
