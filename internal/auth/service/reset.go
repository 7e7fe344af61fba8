package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playerdash/dashboard/internal/auth/mail"
	"github.com/playerdash/dashboard/internal/auth/revocation"
	"github.com/playerdash/dashboard/internal/auth/store"
	"github.com/playerdash/dashboard/pkg/cryptox"
	"github.com/playerdash/dashboard/pkg/slogx"
)

var ErrResetCooldown = errors.New("reset requested too recently")

// ResetService owns the forgot-password flow. Completing a reset is a
// security event: it burns every outstanding refresh credential and marks all
// previously issued access tokens revoked, so a stolen session dies the
// moment the owner reclaims the account.
type ResetService struct {
	Store       store.Store
	Revocations *revocation.Index
	Mailer      mail.Mailer

	BaseURL  string
	ResetTTL time.Duration
	Cooldown time.Duration
}

const (
	DefaultResetTTL      = time.Hour
	DefaultResetCooldown = 5 * time.Minute
)

// RequestReset mints a one-shot reset token and emails it. Whether the email
// exists is never revealed to the caller; only the rate-limit cooldown is
// surfaced, and it applies per existing account.
func (s *ResetService) RequestReset(ctx context.Context, email string) error {
	log := slogx.FromContext(ctx)
	email = NormalizeEmail(email)
	now := timeNow()

	p, err := s.Store.Principals().GetActiveByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Info("reset requested for unknown email")
			return nil
		}
		return err
	}

	if p.ResetExpiresAt != nil {
		issuedAt := p.ResetExpiresAt.Add(-s.ResetTTL)
		if now.Sub(issuedAt) < s.Cooldown {
			return ErrResetCooldown
		}
	}

	raw, err := cryptox.GenerateOpaqueToken()
	if err != nil {
		return fmt.Errorf("failed to generate reset token: %w", err)
	}
	if err := s.Store.Principals().SetResetToken(ctx, p.ID, cryptox.FingerprintToken(raw), now.Add(s.ResetTTL)); err != nil {
		return err
	}

	link := fmt.Sprintf("%s/reset-password?token=%s", s.BaseURL, raw)
	body := fmt.Sprintf(
		"Er is een wachtwoordherstel aangevraagd voor je Player Dashboard account.\n\nStel een nieuw wachtwoord in via:\n%s\n\nDeze link is 1 uur geldig. Heb je dit niet aangevraagd, dan kun je deze e-mail negeren.",
		link,
	)
	if err := s.Mailer.Send(ctx, p.Email, "Wachtwoord herstellen", body); err != nil {
		log.Error("failed to send reset email",
			slog.String("principal_id", p.ID), slog.Any("error", err))
	}
	return nil
}

// ResetPassword consumes a reset token: validates the new password, replaces
// the hash, clears the token, then revokes every refresh credential and marks
// the principal so outstanding access tokens fail verification.
func (s *ResetService) ResetPassword(ctx context.Context, rawToken, password string) error {
	log := slogx.FromContext(ctx)
	if !cryptox.ValidOpaqueToken(rawToken) {
		return ErrInvalidToken
	}
	now := timeNow()

	p, err := s.Store.Principals().GetByResetHash(ctx, cryptox.FingerprintToken(rawToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	if !p.ResetValid(now) {
		return ErrInvalidToken
	}

	if err := cryptox.ValidatePasswordPolicy(password); err != nil {
		return err
	}
	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Principals().UpdatePasswordHash(ctx, p.ID, hash); err != nil {
			return err
		}
		if err := tx.Principals().ClearResetToken(ctx, p.ID); err != nil {
			return err
		}
		return tx.RefreshTokens().RevokeAllForPrincipal(ctx, p.ID, now)
	})
	if err != nil {
		return err
	}

	if err := s.Revocations.MarkPrincipal(ctx, p.ID, revocation.ReasonPasswordChange); err != nil {
		// The password is already changed; the access-token kill switch is
		// degraded but refresh revocation already caps the exposure at the
		// access TTL. Log loudly and move on.
		log.Error("failed to mark principal in revocation index",
			slog.String("principal_id", p.ID), slog.Any("error", err))
	}

	log.Info("password reset completed", slog.String("principal_id", p.ID))
	return nil
}
