package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/playerdash/dashboard/internal/auth/domain"
	"github.com/playerdash/dashboard/internal/auth/store"
	"github.com/playerdash/dashboard/pkg/cryptox"
	"github.com/playerdash/dashboard/pkg/slogx"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrCaptchaRequired    = errors.New("captcha required")
)

// CaptchaVerifier validates a client-solved challenge against the provider.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token string) error
}

// InsecureCaptcha accepts any non-empty token. Development only.
type InsecureCaptcha struct{}

func (InsecureCaptcha) Verify(_ context.Context, token string) error {
	if token == "" {
		return ErrCaptchaRequired
	}
	return nil
}

// LoginService orchestrates password login with progressive friction: a
// captcha after repeated failures, a temporary lockout after more, and a
// TOTP handoff when the account has a second factor.
//
// Lookups that miss, wrong passwords and locked accounts all surface the same
// ErrInvalidCredentials so the endpoint cannot be used to probe which emails
// exist or which accounts are locked.
type LoginService struct {
	Store   store.Store
	Tokens  *TokenService
	TOTP    *TOTPService
	Captcha CaptchaVerifier

	CaptchaThreshold int           // failed logins before captcha is required
	LockoutThreshold int           // failed logins before lockout
	LockoutDuration  time.Duration // how long a lockout lasts
}

const (
	DefaultCaptchaThreshold = 3
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 30 * time.Minute
)

// LoginResult is either a completed session (Pair set) or a pending second
// factor (Requires2FA with the handoff token).
type LoginResult struct {
	Pair         *domain.TokenPair
	Principal    domain.Principal
	Requires2FA  bool
	HandoffToken string
}

// Login runs the orchestration for a password attempt.
func (s *LoginService) Login(ctx context.Context, email, password, captchaToken string) (LoginResult, error) {
	log := slogx.FromContext(ctx)
	now := timeNow()
	email = NormalizeEmail(email)

	p, err := s.Store.Principals().GetActiveByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn a hash comparison so an unknown email costs the same wall
			// time as a known one.
			cryptox.BurnVerification(password)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if p.IsLocked(now) {
		log.Warn("login attempt on locked account", slog.String("principal_id", p.ID))
		cryptox.BurnVerification(password)
		return LoginResult{}, ErrInvalidCredentials
	}

	if p.FailedLogins >= s.CaptchaThreshold {
		if captchaToken == "" {
			return LoginResult{}, ErrCaptchaRequired
		}
		if err := s.Captcha.Verify(ctx, captchaToken); err != nil {
			return LoginResult{}, ErrCaptchaRequired
		}
	}

	if err := cryptox.VerifyPassword(password, p.PasswordHash); err != nil {
		return LoginResult{}, s.recordFailure(ctx, p.ID, now)
	}

	if p.TOTPEnabled {
		handoff, err := s.Tokens.IssueHandoff(p)
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{
			Principal:    p,
			Requires2FA:  true,
			HandoffToken: handoff,
		}, nil
	}

	return s.completeLogin(ctx, p, now)
}

// Complete2FA finishes a login that stalled on the second factor. The code is
// checked against the committed secret with the steady-state drift window.
func (s *LoginService) Complete2FA(ctx context.Context, handoffToken, code string) (LoginResult, error) {
	p, err := s.Tokens.VerifyHandoff(ctx, handoffToken)
	if err != nil {
		return LoginResult{}, err
	}

	if err := s.TOTP.VerifyPrincipal(&p, code); err != nil {
		if errors.Is(err, ErrInvalidTOTPCode) || errors.Is(err, ErrTOTPNotEnabled) || errors.Is(err, ErrTOTPSecretMissing) {
			return LoginResult{}, ErrInvalidTOTPCode
		}
		return LoginResult{}, err
	}

	return s.completeLogin(ctx, p, timeNow())
}

func (s *LoginService) completeLogin(ctx context.Context, p domain.Principal, now time.Time) (LoginResult, error) {
	if err := s.Store.Principals().RecordLogin(ctx, p.ID, now); err != nil {
		return LoginResult{}, err
	}
	pair, err := s.Tokens.IssuePair(ctx, p)
	if err != nil {
		return LoginResult{}, err
	}
	slogx.FromContext(ctx).Info("login succeeded",
		slog.String("principal_id", p.ID),
		slog.String("role", string(p.Role)))
	return LoginResult{Pair: &pair, Principal: p}, nil
}

// recordFailure bumps the failure counter atomically and applies the lockout
// once the threshold is crossed. Always returns ErrInvalidCredentials.
func (s *LoginService) recordFailure(ctx context.Context, principalID string, now time.Time) error {
	log := slogx.FromContext(ctx)

	count, err := s.Store.Principals().IncrementFailedLogins(ctx, principalID)
	if err != nil {
		log.Error("failed to record login failure", slog.Any("error", err))
		return ErrInvalidCredentials
	}
	if count >= s.LockoutThreshold {
		until := now.Add(s.LockoutDuration)
		if err := s.Store.Principals().SetLockout(ctx, principalID, until); err != nil {
			log.Error("failed to set lockout", slog.Any("error", err))
		} else {
			log.Warn("account locked after repeated failures",
				slog.String("principal_id", principalID),
				slog.Time("locked_until", until))
		}
	}
	return ErrInvalidCredentials
}

// NormalizeEmail lowercases and trims an address so lookups and uniqueness
// checks agree with each other.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
