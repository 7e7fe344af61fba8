package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/playerdash/dashboard/internal/auth/domain"
	"github.com/playerdash/dashboard/internal/auth/store"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var (
	ErrInvalidTOTPCode   = errors.New("invalid TOTP code")
	ErrTOTPNotEnabled    = errors.New("TOTP not enabled for this principal")
	ErrTOTPAlreadySetup  = errors.New("TOTP already enabled for this principal")
	ErrTOTPNotEnrolling  = errors.New("no pending TOTP enrollment")
	ErrTOTPSecretMissing = errors.New("TOTP secret unavailable")
)

// TOTPService implements RFC 6238 second-factor enrollment and verification.
//
// Enrollment verifies against the pending secret with a tight ±1 step window:
// the user is looking at their authenticator at that moment. Steady-state
// verification uses ±2 steps to absorb real-world device clock drift.
type TOTPService struct {
	Store      store.Store
	IssuerName string // e.g. "Player Dashboard", shown in authenticator apps
}

const (
	totpPeriod     = 30
	enrollmentSkew = 1 // ±30s
	verifySkew     = 2 // ±60s
)

// EnrollmentResponse carries what the client needs to show a QR code.
type EnrollmentResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioningUri"`
}

// BeginEnrollment generates a fresh Base32 secret into the pending slot and
// returns the otpauth:// provisioning URI. TOTP is not enabled until the
// principal confirms a code.
func (s *TOTPService) BeginEnrollment(ctx context.Context, principalID string) (EnrollmentResponse, error) {
	p, err := s.Store.Principals().GetByID(ctx, principalID)
	if err != nil {
		return EnrollmentResponse{}, err
	}
	if p.TOTPEnabled {
		return EnrollmentResponse{}, ErrTOTPAlreadySetup
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.IssuerName,
		AccountName: p.Email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return EnrollmentResponse{}, fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	if err := s.Store.Principals().SetPendingTOTP(ctx, principalID, key.Secret()); err != nil {
		return EnrollmentResponse{}, fmt.Errorf("failed to store pending TOTP secret: %w", err)
	}

	return EnrollmentResponse{
		Secret:          key.Secret(),
		ProvisioningURI: s.provisioningURI(p.Email, key.Secret()),
	}, nil
}

// ConfirmEnrollment verifies a code against the pending secret and, on
// success, promotes it to the committed slot and enables TOTP. Nothing is
// committed on failure.
func (s *TOTPService) ConfirmEnrollment(ctx context.Context, principalID, code string) error {
	p, err := s.Store.Principals().GetByID(ctx, principalID)
	if err != nil {
		return err
	}
	if p.TOTPPendingSecret == nil || *p.TOTPPendingSecret == "" {
		return ErrTOTPNotEnrolling
	}

	ok, err := validateCode(code, *p.TOTPPendingSecret, enrollmentSkew)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTOTPCode
	}

	return s.Store.Principals().CommitTOTP(ctx, principalID)
}

// CancelEnrollment abandons a pending enrollment so a half-finished setup
// does not linger on the account. The committed slot is untouched.
func (s *TOTPService) CancelEnrollment(ctx context.Context, principalID string) error {
	p, err := s.Store.Principals().GetByID(ctx, principalID)
	if err != nil {
		return err
	}
	if p.TOTPPendingSecret == nil || *p.TOTPPendingSecret == "" {
		return ErrTOTPNotEnrolling
	}
	return s.Store.Principals().ClearPendingTOTP(ctx, principalID)
}

// Verify checks a code against the committed secret.
func (s *TOTPService) Verify(ctx context.Context, principalID, code string) error {
	p, err := s.Store.Principals().GetByID(ctx, principalID)
	if err != nil {
		return err
	}
	return s.verifyAgainstCommitted(&p, code)
}

// VerifyPrincipal is Verify for an already-loaded record, used by the login
// orchestrator to avoid a second store read.
func (s *TOTPService) VerifyPrincipal(p *domain.Principal, code string) error {
	return s.verifyAgainstCommitted(p, code)
}

// Disable turns the second factor off. A valid current code is required so a
// hijacked session cannot silently weaken the account.
func (s *TOTPService) Disable(ctx context.Context, principalID, code string) error {
	p, err := s.Store.Principals().GetByID(ctx, principalID)
	if err != nil {
		return err
	}
	if err := s.verifyAgainstCommitted(&p, code); err != nil {
		return err
	}
	return s.Store.Principals().DisableTOTP(ctx, principalID)
}

func (s *TOTPService) verifyAgainstCommitted(p *domain.Principal, code string) error {
	if !p.TOTPEnabled {
		return ErrTOTPNotEnabled
	}
	if p.TOTPSecret == nil || *p.TOTPSecret == "" {
		// Enabled without a secret means a partially-committed enrollment,
		// which CommitTOTP is supposed to make impossible. Deny.
		return ErrTOTPSecretMissing
	}

	ok, err := validateCode(code, *p.TOTPSecret, verifySkew)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTOTPCode
	}
	return nil
}

func validateCode(code, secret string, skew uint) (bool, error) {
	code = cleanCode(code)
	if len(code) != 6 {
		return false, nil
	}
	return totp.ValidateCustom(code, secret, timeNow().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// cleanCode strips everything that is not a digit; users paste codes with
// spaces in them all the time.
func cleanCode(code string) string {
	var b strings.Builder
	for _, r := range code {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// provisioningURI renders the otpauth URL in the label format the dashboard
// has always used: "Issuer (email)".
func (s *TOTPService) provisioningURI(email, secret string) string {
	label := url.PathEscape(fmt.Sprintf("%s (%s)", s.IssuerName, email))
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", s.IssuerName)
	return fmt.Sprintf("otpauth://totp/%s?%s", label, q.Encode())
}
