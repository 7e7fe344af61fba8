// Package revocation maintains the denylist of access-token identifiers that
// were invalidated before their natural expiry, plus principal-wide markers
// that cover every token issued before a password change or security sweep.
//
// The contract is fail-closed: when the backing store cannot answer, tokens
// are treated as revoked. A denied valid request is recoverable; an approved
// revoked one is not.
package revocation

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Reason records why an entry was added, for audit.
type Reason string

const (
	ReasonLogout         Reason = "logout"
	ReasonPasswordChange Reason = "password-change"
	ReasonSecurity       Reason = "security"
	ReasonAdmin          Reason = "admin"
)

const (
	jtiKeyPrefix       = "rvk:jti:"
	principalKeyPrefix = "rvk:sub:"

	// principalMarkerTTL outlives the longest-lived credential (the 7-day
	// refresh token), so every access token minted before the marker ages
	// out before the marker does.
	principalMarkerTTL = 7 * 24 * time.Hour

	// minEntryTTL keeps entries for already-expired tokens around briefly
	// instead of dropping them on the floor.
	minEntryTTL = time.Minute
)

// ErrUnavailable wraps store failures. Callers still see IsRevoked=true.
var ErrUnavailable = errors.New("revocation: index unavailable")

type Index struct {
	client redis.UniversalClient

	// Circuit breaker: after breakerThreshold consecutive failures the index
	// stops hitting Redis for breakerCooldown and answers revoked directly.
	// The breaker sheds load; it never flips the fail-closed contract.
	mu           sync.Mutex
	failures     int
	openUntil    time.Time
	breakerLimit int
	cooldown     time.Duration
}

func New(client redis.UniversalClient) *Index {
	return &Index{
		client:       client,
		breakerLimit: 3,
		cooldown:     10 * time.Second,
	}
}

// Add denylists a single access-token identifier until the token's natural
// expiry. The token hash is stored alongside for audit.
func (i *Index) Add(ctx context.Context, jti string, expiresAt time.Time, principalID, tokenHash string, reason Reason) error {
	ttl := time.Until(expiresAt)
	if ttl < minEntryTTL {
		ttl = minEntryTTL
	}

	key := jtiKeyPrefix + jti
	pipe := i.client.TxPipeline()
	pipe.HSet(ctx, key,
		"principal", principalID,
		"token_hash", tokenHash,
		"reason", string(reason),
		"blacklisted_at", time.Now().UTC().Format(time.RFC3339),
	)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	i.observe(err)
	if err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

// MarkPrincipal writes a principal-wide marker at nanosecond precision.
// Every access token of the principal issued before the marker instant
// fails verification.
func (i *Index) MarkPrincipal(ctx context.Context, principalID string, reason Reason) error {
	now := time.Now().UTC()
	key := principalKeyPrefix + principalID
	err := i.client.Set(ctx, key, strconv.FormatInt(now.UnixNano(), 10), principalMarkerTTL).Err()
	i.observe(err)
	if err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether the token is denylisted, either individually or
// via a principal marker. Store failures report revoked together with
// ErrUnavailable: a positive hit is authoritative, a negative one only while
// the index is online.
func (i *Index) IsRevoked(ctx context.Context, jti, principalID string, issuedAt time.Time) (bool, error) {
	if i.breakerOpen() {
		return true, ErrUnavailable
	}

	pipe := i.client.Pipeline()
	existsCmd := pipe.Exists(ctx, jtiKeyPrefix+jti)
	markerCmd := pipe.Get(ctx, principalKeyPrefix+principalID)
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		i.observe(err)
		return true, errors.Join(ErrUnavailable, err)
	}
	i.observe(nil)

	if existsCmd.Val() > 0 {
		return true, nil
	}

	marker, err := markerCmd.Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return true, errors.Join(ErrUnavailable, err)
	}

	markedAt, convErr := strconv.ParseInt(marker, 10, 64)
	if convErr != nil {
		// A corrupt marker still means a revocation happened.
		return true, nil
	}
	// Both sides carry sub-second resolution, so a login completing in the
	// same second as a password reset keeps its fresh token.
	return issuedAt.UnixNano() <= markedAt, nil
}

// Ping probes the backing store, for readiness checks.
func (i *Index) Ping(ctx context.Context) error {
	return i.client.Ping(ctx).Err()
}

// Purge exists to satisfy the maintenance schedule; Redis expires entries by
// TTL so there is nothing to delete here.
func (i *Index) Purge(ctx context.Context) error {
	return i.Ping(ctx)
}

func (i *Index) breakerOpen() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return time.Now().Before(i.openUntil)
}

func (i *Index) observe(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err == nil || errors.Is(err, redis.Nil) {
		i.failures = 0
		return
	}
	i.failures++
	if i.failures >= i.breakerLimit {
		i.openUntil = time.Now().Add(i.cooldown)
		i.failures = 0
	}
}
