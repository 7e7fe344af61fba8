package service

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/playerdash/dashboard/internal/auth/domain"
	"github.com/playerdash/dashboard/pkg/cryptox"
)

var tokenLinkPattern = regexp.MustCompile(`token=([0-9a-f]{40})`)

func newInviteService(env *testEnv, mailer *captureMailer) *InviteService {
	return &InviteService{
		Store:          env.store,
		Mailer:         mailer,
		BaseURL:        "https://dashboard.example.com",
		InviteTTL:      DefaultInviteTTL,
		ResendCooldown: DefaultResendCooldown,
		MemberCap:      DefaultMemberCap,
	}
}

// tokenFromMail pulls the raw opaque token out of the emailed link; it never
// appears anywhere else.
func tokenFromMail(t *testing.T, m capturedMail) string {
	t.Helper()
	match := tokenLinkPattern.FindStringSubmatch(m.Body)
	require.Len(t, match, 2)
	return match[1]
}

func TestInviteCreatesPendingPrincipalAndMailsToken(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mailer := &captureMailer{}
	svc := newInviteService(env, mailer)
	admin := env.seedActive(t, "admin@example.com", domain.RolePlatformAdmin, "", "Sterk1Wachtwoord")

	p, err := svc.Invite(ctx, admin, "Nieuw@Example.com", domain.RoleMember, "acme")
	require.NoError(t, err)
	require.Equal(t, "nieuw@example.com", p.Email)
	require.Equal(t, domain.StatusPending, p.Status)
	require.False(t, p.Active)

	sent := mailer.last(t)
	require.Equal(t, "nieuw@example.com", sent.To)
	require.Equal(t, "Uitnodiging Player Dashboard", sent.Subject)
	require.Contains(t, sent.Body, "https://dashboard.example.com/register?token=")

	// Only the fingerprint reaches the store.
	raw := tokenFromMail(t, sent)
	stored := env.reload(t, p.ID)
	require.Equal(t, cryptox.FingerprintToken(raw), *stored.InviteTokenHash)

	intent, err := svc.VerifyToken(ctx, raw)
	require.NoError(t, err)
	require.Equal(t, "registration", intent)
}

func TestInviteAuthorization(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newInviteService(env, &captureMailer{})
	tenantAdmin := env.seedActive(t, "beheer@acme.com", domain.RoleTenantAdmin, "acme", "Sterk1Wachtwoord")
	member := env.seedActive(t, "lid@acme.com", domain.RoleMember, "acme", "Sterk1Wachtwoord")

	// Members cannot invite at all.
	_, err := svc.Invite(ctx, member, "x@example.com", domain.RoleMember, "acme")
	require.ErrorIs(t, err, ErrForbidden)

	// Tenant admins stay inside their own tenant.
	_, err = svc.Invite(ctx, tenantAdmin, "x@example.com", domain.RoleMember, "globex")
	require.ErrorIs(t, err, ErrForbidden)

	// And may not mint platform admins.
	_, err = svc.Invite(ctx, tenantAdmin, "x@example.com", domain.RolePlatformAdmin, "acme")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Invite(ctx, tenantAdmin, "x@example.com", domain.Role("superuser"), "acme")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Invite(ctx, tenantAdmin, "x@example.com", domain.RoleMember, "acme")
	require.NoError(t, err)
}

func TestInviteRejectsActiveEmailAndFullTenant(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newInviteService(env, &captureMailer{})
	admin := env.seedActive(t, "admin@example.com", domain.RolePlatformAdmin, "", "Sterk1Wachtwoord")
	env.seedActive(t, "bestaand@acme.com", domain.RoleMember, "acme", "Sterk1Wachtwoord")

	_, err := svc.Invite(ctx, admin, "Bestaand@acme.com", domain.RoleMember, "acme")
	require.ErrorIs(t, err, ErrEmailTaken)

	// One active member exists; the cap admits four more.
	for i := range 4 {
		_, err := svc.Invite(ctx, admin, fmt.Sprintf("lid%d@acme.com", i), domain.RoleMember, "acme")
		require.NoError(t, err)
	}
	_, err = svc.Invite(ctx, admin, "teveel@acme.com", domain.RoleMember, "acme")
	require.ErrorIs(t, err, ErrTenantFull)
}

func TestResendCooldown(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mailer := &captureMailer{}
	svc := newInviteService(env, mailer)
	admin := env.seedActive(t, "admin@example.com", domain.RolePlatformAdmin, "", "Sterk1Wachtwoord")

	p, err := svc.Invite(ctx, admin, "nieuw@acme.com", domain.RoleMember, "acme")
	require.NoError(t, err)
	require.Equal(t, 1, mailer.count())

	require.ErrorIs(t, svc.Resend(ctx, admin, p.ID), ErrResendCooldown)
	require.Equal(t, 1, mailer.count())

	setNow(t, time.Now().Add(DefaultResendCooldown+time.Minute))
	require.NoError(t, svc.Resend(ctx, admin, p.ID))
	require.Equal(t, 2, mailer.count())

	// Re-sending rotates the token: the first link is dead.
	first := tokenFromMail(t, mailer.sent[0])
	_, err = svc.VerifyToken(ctx, first)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestCompleteRegistration(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mailer := &captureMailer{}
	svc := newInviteService(env, mailer)
	admin := env.seedActive(t, "admin@example.com", domain.RolePlatformAdmin, "", "Sterk1Wachtwoord")

	invited, err := svc.Invite(ctx, admin, "nieuw@acme.com", domain.RoleMember, "acme")
	require.NoError(t, err)
	raw := tokenFromMail(t, mailer.last(t))

	// Weak passwords are refused before anything is touched.
	_, err = svc.CompleteRegistration(ctx, raw, "zwak", "")
	require.ErrorIs(t, err, cryptox.ErrPasswordPolicy)

	p, err := svc.CompleteRegistration(ctx, raw, "Sterk1Wachtwoord", "")
	require.NoError(t, err)
	require.Equal(t, invited.ID, p.ID)
	require.True(t, p.Active)
	require.Equal(t, domain.StatusActive, p.Status)
	require.Nil(t, p.InviteTokenHash)
	require.NoError(t, cryptox.VerifyPassword("Sterk1Wachtwoord", p.PasswordHash))

	// The token is one-shot.
	_, err = svc.CompleteRegistration(ctx, raw, "Ander1Wachtwoord", "")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestCompleteRegistrationWithEmailCorrection(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mailer := &captureMailer{}
	svc := newInviteService(env, mailer)
	admin := env.seedActive(t, "admin@example.com", domain.RolePlatformAdmin, "", "Sterk1Wachtwoord")
	env.seedActive(t, "bezet@acme.com", domain.RoleMember, "acme", "Sterk1Wachtwoord")

	_, err := svc.Invite(ctx, admin, "typfout@acme.com", domain.RoleMember, "acme")
	require.NoError(t, err)
	raw := tokenFromMail(t, mailer.last(t))

	// The corrected address must not collide with an active account.
	_, err = svc.CompleteRegistration(ctx, raw, "Sterk1Wachtwoord", "bezet@acme.com")
	require.ErrorIs(t, err, ErrEmailTaken)

	p, err := svc.CompleteRegistration(ctx, raw, "Sterk1Wachtwoord", "Correct@acme.com")
	require.NoError(t, err)
	require.Equal(t, "correct@acme.com", p.Email)
}

func TestExpiredInvitationIsUnusable(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mailer := &captureMailer{}
	svc := newInviteService(env, mailer)
	admin := env.seedActive(t, "admin@example.com", domain.RolePlatformAdmin, "", "Sterk1Wachtwoord")

	_, err := svc.Invite(ctx, admin, "nieuw@acme.com", domain.RoleMember, "acme")
	require.NoError(t, err)
	raw := tokenFromMail(t, mailer.last(t))

	setNow(t, time.Now().Add(DefaultInviteTTL+time.Hour))

	_, err = svc.VerifyToken(ctx, raw)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.CompleteRegistration(ctx, raw, "Sterk1Wachtwoord", "")
	require.ErrorIs(t, err, ErrInvalidToken)
}
