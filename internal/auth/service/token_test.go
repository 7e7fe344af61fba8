package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/playerdash/dashboard/internal/auth/domain"
	"github.com/playerdash/dashboard/pkg/cryptox"
	"github.com/playerdash/dashboard/pkg/idx"
	"github.com/playerdash/dashboard/pkg/jwtx"
)

func TestRefreshReusesYoungCredential(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.seedActive(t, "member@example.com", domain.RoleMember, "acme", "Sterk1Wachtwoord")

	pair, err := env.tokens.IssuePair(ctx, p)
	require.NoError(t, err)

	// Young credentials survive the exchange untouched, so concurrent tabs
	// refreshing at once do not invalidate each other.
	renewed, err := env.tokens.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, pair.RefreshToken, renewed.RefreshToken)
	require.NotEmpty(t, renewed.AccessToken)

	// And the exchange is repeatable.
	_, err = env.tokens.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
}

// seedAgedRefresh stores a refresh credential as if it had been issued in the
// past, returning its raw opaque value.
func seedAgedRefresh(t *testing.T, env *testEnv, principalID string, age time.Duration) string {
	t.Helper()
	raw, err := cryptox.GenerateOpaqueToken()
	require.NoError(t, err)
	issued := time.Now().Add(-age)
	require.NoError(t, env.store.RefreshTokens().Create(context.Background(), domain.RefreshToken{
		ID:          idx.New().String(),
		PrincipalID: principalID,
		TokenHash:   cryptox.FingerprintToken(raw),
		IssuedAt:    issued,
		ExpiresAt:   issued.Add(DefaultRefreshTTL),
	}))
	return raw
}

func TestRefreshRotatesAgedCredential(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.seedActive(t, "member@example.com", domain.RoleMember, "acme", "Sterk1Wachtwoord")

	raw := seedAgedRefresh(t, env, p.ID, 25*time.Hour)

	renewed, err := env.tokens.Refresh(ctx, raw)
	require.NoError(t, err)
	require.NotEqual(t, raw, renewed.RefreshToken)

	// The predecessor is consumed and points at its successor.
	rec, err := env.store.RefreshTokens().GetByHash(ctx, cryptox.FingerprintToken(raw))
	require.NoError(t, err)
	require.True(t, rec.WasRotated())
	require.Equal(t, cryptox.FingerprintToken(renewed.RefreshToken), *rec.ReplacedBy)

	// The successor works.
	_, err = env.tokens.Refresh(ctx, renewed.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshReplayRevokesChain(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.seedActive(t, "member@example.com", domain.RoleMember, "acme", "Sterk1Wachtwoord")

	raw := seedAgedRefresh(t, env, p.ID, 25*time.Hour)

	renewed, err := env.tokens.Refresh(ctx, raw)
	require.NoError(t, err)

	// Presenting the consumed credential again is theft evidence: the whole
	// chain dies, successor included.
	_, err = env.tokens.Refresh(ctx, raw)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = env.tokens.Refresh(ctx, renewed.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefreshRejectsGarbageAndExpired(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.seedActive(t, "member@example.com", domain.RoleMember, "acme", "Sterk1Wachtwoord")

	_, err := env.tokens.Refresh(ctx, "not-a-refresh-token")
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	unknown, err := cryptox.GenerateOpaqueToken()
	require.NoError(t, err)
	_, err = env.tokens.Refresh(ctx, unknown)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	expired := seedAgedRefresh(t, env, p.ID, DefaultRefreshTTL+time.Hour)
	_, err = env.tokens.Refresh(ctx, expired)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestLogoutKillsBothCredentials(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.seedActive(t, "member@example.com", domain.RoleMember, "acme", "Sterk1Wachtwoord")

	pair, err := env.tokens.IssuePair(ctx, p)
	require.NoError(t, err)
	claims, _, err := env.tokens.CheckAccess(ctx, pair.AccessToken)
	require.NoError(t, err)

	require.NoError(t, env.tokens.Logout(ctx, claims, pair.AccessToken, pair.RefreshToken))

	_, _, err = env.tokens.CheckAccess(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidAccessToken)
	_, err = env.tokens.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	// Double logout is not an error.
	require.NoError(t, env.tokens.Logout(ctx, claims, pair.AccessToken, pair.RefreshToken))
}

func TestCheckAccessFailsClosedWithoutRevocationIndex(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.seedActive(t, "member@example.com", domain.RoleMember, "acme", "Sterk1Wachtwoord")

	pair, err := env.tokens.IssuePair(ctx, p)
	require.NoError(t, err)
	_, _, err = env.tokens.CheckAccess(ctx, pair.AccessToken)
	require.NoError(t, err)

	// With the index unreachable a structurally valid token is denied; an
	// over-eager 401 beats honoring a revoked credential.
	env.redis.Close()
	_, _, err = env.tokens.CheckAccess(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidAccessToken)
}

func TestCheckAccessRejectsDeactivatedPrincipal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.seedActive(t, "member@example.com", domain.RoleMember, "acme", "Sterk1Wachtwoord")

	pair, err := env.tokens.IssuePair(ctx, p)
	require.NoError(t, err)

	// The stored record is authoritative: deleting the principal invalidates
	// a token that is otherwise still within its TTL.
	require.NoError(t, env.store.Principals().Delete(ctx, p.ID))
	_, _, err = env.tokens.CheckAccess(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidAccessToken)
}

func TestCheckAccessRejectsStaleRoleClaim(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.seedActive(t, "member@example.com", domain.RoleMember, "acme", "Sterk1Wachtwoord")

	// A token claiming more than the stored record grants carries no weight:
	// the record decides, the claim only has to agree with it.
	token, _, err := env.tokens.Access.Issue(p.ID, jwtx.Claims{
		Email:     p.Email,
		Role:      string(domain.RolePlatformAdmin),
		CompanyID: p.CompanyID,
	}, time.Now())
	require.NoError(t, err)

	_, _, err = env.tokens.CheckAccess(ctx, token)
	require.ErrorIs(t, err, ErrInvalidAccessToken)
}

func TestVerifyHandoffRejectsAccessTokens(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.seedActive(t, "member@example.com", domain.RoleMember, "acme", "Sterk1Wachtwoord")

	pair, err := env.tokens.IssuePair(ctx, p)
	require.NoError(t, err)

	// Audiences are disjoint: an access token can never stand in for the
	// 2FA handoff artifact.
	_, err = env.tokens.VerifyHandoff(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidAccessToken)

	handoff, err := env.tokens.IssueHandoff(p)
	require.NoError(t, err)
	got, err := env.tokens.VerifyHandoff(ctx, handoff)
	require.NoError(t, err)
	require.Equal(t, p.ID, got.ID)
}
