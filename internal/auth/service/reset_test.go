package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/playerdash/dashboard/internal/auth/domain"
	"github.com/playerdash/dashboard/pkg/cryptox"
)

func newResetService(env *testEnv, mailer *captureMailer) *ResetService {
	return &ResetService{
		Store:       env.store,
		Revocations: env.rvk,
		Mailer:      mailer,
		BaseURL:     "https://dashboard.example.com",
		ResetTTL:    DefaultResetTTL,
		Cooldown:    DefaultResetCooldown,
	}
}

func TestRequestResetMailsTokenWithoutLeakingExistence(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mailer := &captureMailer{}
	svc := newResetService(env, mailer)
	p := env.seedActive(t, "member@example.com", domain.RoleMember, "acme", "Sterk1Wachtwoord")

	// Unknown addresses succeed silently; the endpoint is not an oracle.
	require.NoError(t, svc.RequestReset(ctx, "onbekend@example.com"))
	require.Zero(t, mailer.count())

	require.NoError(t, svc.RequestReset(ctx, p.Email))
	sent := mailer.last(t)
	require.Equal(t, p.Email, sent.To)
	require.Equal(t, "Wachtwoord herstellen", sent.Subject)
	require.Contains(t, sent.Body, "https://dashboard.example.com/reset-password?token=")

	raw := tokenFromMail(t, sent)
	stored := env.reload(t, p.ID)
	require.Equal(t, cryptox.FingerprintToken(raw), *stored.ResetTokenHash)
}

func TestRequestResetCooldown(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mailer := &captureMailer{}
	svc := newResetService(env, mailer)
	p := env.seedActive(t, "member@example.com", domain.RoleMember, "acme", "Sterk1Wachtwoord")

	require.NoError(t, svc.RequestReset(ctx, p.Email))
	require.ErrorIs(t, svc.RequestReset(ctx, p.Email), ErrResetCooldown)
	require.Equal(t, 1, mailer.count())

	setNow(t, time.Now().Add(DefaultResetCooldown+time.Minute))
	require.NoError(t, svc.RequestReset(ctx, p.Email))
	require.Equal(t, 2, mailer.count())
}

func TestResetPasswordReplacesHashAndKillsSessions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mailer := &captureMailer{}
	svc := newResetService(env, mailer)
	p := env.seedActive(t, "member@example.com", domain.RoleMember, "acme", "Sterk1Wachtwoord")

	// An existing session from before the reset.
	pair, err := env.tokens.IssuePair(ctx, p)
	require.NoError(t, err)

	require.NoError(t, svc.RequestReset(ctx, p.Email))
	raw := tokenFromMail(t, mailer.last(t))

	require.ErrorIs(t, svc.ResetPassword(ctx, raw, "zwak"), cryptox.ErrPasswordPolicy)
	require.NoError(t, svc.ResetPassword(ctx, raw, "Nieuw1Wachtwoord"))

	stored := env.reload(t, p.ID)
	require.NoError(t, cryptox.VerifyPassword("Nieuw1Wachtwoord", stored.PasswordHash))
	require.Nil(t, stored.ResetTokenHash)

	// The reset is a security event: old refresh credentials are dead and
	// outstanding access tokens fail verification.
	_, err = env.tokens.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
	_, _, err = env.tokens.CheckAccess(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidAccessToken)

	// The token is one-shot.
	require.ErrorIs(t, svc.ResetPassword(ctx, raw, "Ander1Wachtwoord"), ErrInvalidToken)

	// A login right after the reset, inside the same wall-clock second,
	// yields a live session.
	fresh, err := env.tokens.IssuePair(ctx, stored)
	require.NoError(t, err)
	_, _, err = env.tokens.CheckAccess(ctx, fresh.AccessToken)
	require.NoError(t, err)
}

func TestResetPasswordRejectsExpiredToken(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mailer := &captureMailer{}
	svc := newResetService(env, mailer)
	p := env.seedActive(t, "member@example.com", domain.RoleMember, "acme", "Sterk1Wachtwoord")

	require.NoError(t, svc.RequestReset(ctx, p.Email))
	raw := tokenFromMail(t, mailer.last(t))

	setNow(t, time.Now().Add(DefaultResetTTL+time.Minute))
	require.ErrorIs(t, svc.ResetPassword(ctx, raw, "Nieuw1Wachtwoord"), ErrInvalidToken)
	require.ErrorIs(t, svc.ResetPassword(ctx, "no-hex-token", "Nieuw1Wachtwoord"), ErrInvalidToken)
}
