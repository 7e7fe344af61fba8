package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playerdash/dashboard/internal/auth/domain"
	"github.com/playerdash/dashboard/internal/auth/mail"
	"github.com/playerdash/dashboard/internal/auth/store"
	"github.com/playerdash/dashboard/pkg/cryptox"
	"github.com/playerdash/dashboard/pkg/idx"
	"github.com/playerdash/dashboard/pkg/slogx"
)

var (
	ErrForbidden      = errors.New("actor may not perform this operation")
	ErrEmailTaken     = errors.New("an active account already exists for this email")
	ErrTenantFull     = errors.New("tenant member limit reached")
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrResendCooldown = errors.New("invitation was re-sent too recently")
)

// InviteService owns the invitation lifecycle: creating pending principals,
// minting one-shot registration tokens, re-sending them and completing
// registration.
type InviteService struct {
	Store  store.Store
	Mailer mail.Mailer

	BaseURL        string // dashboard origin used in email links
	InviteTTL      time.Duration
	ResendCooldown time.Duration
	MemberCap      int // max principals per tenant, 0 disables the cap
}

const (
	DefaultInviteTTL      = 7 * 24 * time.Hour
	DefaultResendCooldown = time.Hour
	DefaultMemberCap      = 5
)

// Invite creates (or refreshes) a pending principal and emails the
// registration link. The raw token only ever lives in the email; the store
// keeps its fingerprint.
func (s *InviteService) Invite(ctx context.Context, actor domain.Principal, email string, role domain.Role, companyID string) (domain.Principal, error) {
	log := slogx.FromContext(ctx)
	email = NormalizeEmail(email)
	now := timeNow()

	if !role.Valid() {
		return domain.Principal{}, fmt.Errorf("%w: unknown role %q", ErrForbidden, role)
	}
	if err := s.authorizeInvite(actor, role, companyID); err != nil {
		return domain.Principal{}, err
	}

	if _, err := s.Store.Principals().GetActiveByEmail(ctx, email); err == nil {
		return domain.Principal{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Principal{}, err
	}

	// Re-inviting an email with a pending registration refreshes the token
	// instead of creating a second record.
	p, err := s.Store.Principals().GetPendingByEmail(ctx, email)
	switch {
	case err == nil:
		if p.LastReminderAt != nil && now.Sub(*p.LastReminderAt) < s.ResendCooldown {
			return domain.Principal{}, ErrResendCooldown
		}
	case errors.Is(err, store.ErrNotFound):
		if s.MemberCap > 0 && companyID != "" {
			n, err := s.Store.Principals().CountByCompany(ctx, companyID)
			if err != nil {
				return domain.Principal{}, err
			}
			if n >= s.MemberCap {
				return domain.Principal{}, ErrTenantFull
			}
		}
		p = domain.Principal{
			ID:        idx.New().String(),
			Email:     email,
			Role:      role,
			CompanyID: companyID,
			Status:    domain.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.Store.Principals().Create(ctx, p); err != nil {
			return domain.Principal{}, err
		}
	default:
		return domain.Principal{}, err
	}

	if err := s.issueInvite(ctx, &p, now); err != nil {
		return domain.Principal{}, err
	}

	log.Info("invitation sent",
		slog.String("principal_id", p.ID),
		slog.String("role", string(p.Role)),
		slog.String("company_id", p.CompanyID))
	return p, nil
}

// Resend refreshes the invitation token of an existing pending principal and
// emails it again, subject to the re-send cooldown.
func (s *InviteService) Resend(ctx context.Context, actor domain.Principal, principalID string) error {
	now := timeNow()

	p, err := s.Store.Principals().GetByID(ctx, principalID)
	if err != nil {
		return err
	}
	if p.Status != domain.StatusPending {
		return ErrInvalidToken
	}
	if err := s.authorizeInvite(actor, p.Role, p.CompanyID); err != nil {
		return err
	}
	if p.LastReminderAt != nil && now.Sub(*p.LastReminderAt) < s.ResendCooldown {
		return ErrResendCooldown
	}

	return s.issueInvite(ctx, &p, now)
}

// VerifyToken reports whether an invitation or reset token is currently
// usable, without consuming it. The registration and reset forms call this
// before showing the password fields.
func (s *InviteService) VerifyToken(ctx context.Context, raw string) (intent string, err error) {
	if !cryptox.ValidOpaqueToken(raw) {
		return "", ErrInvalidToken
	}
	hash := cryptox.FingerprintToken(raw)
	now := timeNow()

	if p, err := s.Store.Principals().GetByInviteHash(ctx, hash); err == nil {
		if !p.InviteValid(now) {
			return "", ErrInvalidToken
		}
		return "registration", nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	if p, err := s.Store.Principals().GetByResetHash(ctx, hash); err == nil {
		if !p.ResetValid(now) {
			return "", ErrInvalidToken
		}
		return "reset", nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	return "", ErrInvalidToken
}

// CompleteRegistration consumes an invitation token: validates the password
// against policy, stores its hash, activates the principal and clears the
// invitation fields so the token can never be replayed.
//
// The email may be corrected during registration as long as no active account
// already holds the new address.
func (s *InviteService) CompleteRegistration(ctx context.Context, rawToken, password, newEmail string) (domain.Principal, error) {
	if !cryptox.ValidOpaqueToken(rawToken) {
		return domain.Principal{}, ErrInvalidToken
	}
	now := timeNow()

	p, err := s.Store.Principals().GetByInviteHash(ctx, cryptox.FingerprintToken(rawToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Principal{}, ErrInvalidToken
		}
		return domain.Principal{}, err
	}
	if !p.InviteValid(now) {
		return domain.Principal{}, ErrInvalidToken
	}

	if err := cryptox.ValidatePasswordPolicy(password); err != nil {
		return domain.Principal{}, err
	}

	email := p.Email
	if newEmail != "" && NormalizeEmail(newEmail) != p.Email {
		email = NormalizeEmail(newEmail)
		if _, err := s.Store.Principals().GetActiveByEmail(ctx, email); err == nil {
			return domain.Principal{}, ErrEmailTaken
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.Principal{}, err
		}
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return domain.Principal{}, err
	}
	if err := s.Store.Principals().Activate(ctx, p.ID, hash, email); err != nil {
		return domain.Principal{}, err
	}

	return s.Store.Principals().GetByID(ctx, p.ID)
}

// authorizeInvite enforces who may invite whom. Tenant admins stay inside
// their own tenant and may not mint platform admins.
func (s *InviteService) authorizeInvite(actor domain.Principal, role domain.Role, companyID string) error {
	if !actor.Role.Can(domain.CapInvite) {
		return ErrForbidden
	}
	if !role.AssignableBy(actor.Role) {
		return ErrForbidden
	}
	if actor.Role == domain.RoleTenantAdmin && companyID != actor.CompanyID {
		return ErrForbidden
	}
	return nil
}

func (s *InviteService) issueInvite(ctx context.Context, p *domain.Principal, now time.Time) error {
	raw, err := cryptox.GenerateOpaqueToken()
	if err != nil {
		return fmt.Errorf("failed to generate invitation token: %w", err)
	}
	expires := now.Add(s.InviteTTL)
	if err := s.Store.Principals().SetInvite(ctx, p.ID, cryptox.FingerprintToken(raw), expires, now); err != nil {
		return err
	}
	hash := cryptox.FingerprintToken(raw)
	p.InviteTokenHash = &hash
	p.InviteExpiresAt = &expires
	p.LastReminderAt = &now

	link := fmt.Sprintf("%s/register?token=%s", s.BaseURL, raw)
	body := fmt.Sprintf(
		"Je bent uitgenodigd voor het Player Dashboard.\n\nRond je registratie af via:\n%s\n\nDeze link is 7 dagen geldig.",
		link,
	)
	if err := s.Mailer.Send(ctx, p.Email, "Uitnodiging Player Dashboard", body); err != nil {
		slogx.FromContext(ctx).Error("failed to send invitation email",
			slog.String("principal_id", p.ID), slog.Any("error", err))
		// The token is stored; the admin can hit re-send once mail recovers.
	}
	return nil
}
