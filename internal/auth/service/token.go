package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playerdash/dashboard/internal/auth/domain"
	"github.com/playerdash/dashboard/internal/auth/obs"
	"github.com/playerdash/dashboard/internal/auth/revocation"
	"github.com/playerdash/dashboard/internal/auth/store"
	"github.com/playerdash/dashboard/pkg/cryptox"
	"github.com/playerdash/dashboard/pkg/idx"
	"github.com/playerdash/dashboard/pkg/jwtx"
	"github.com/playerdash/dashboard/pkg/slogx"
)

var (
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrInvalidAccessToken  = errors.New("invalid or revoked access token")
	ErrPrincipalInactive   = errors.New("principal is not active")
)

// TokenService mints access tokens, manages refresh credential lifecycle and
// answers the "is this bearer token still good" question for middleware.
type TokenService struct {
	Store       store.Store
	Revocations *revocation.Index
	Access      *jwtx.Codec
	Handoff     *jwtx.Codec

	RefreshTTL  time.Duration // lifetime of a refresh credential
	RotateAfter time.Duration // refresh older than this is rotated on use
}

const (
	DefaultRefreshTTL  = 7 * 24 * time.Hour
	DefaultRotateAfter = 24 * time.Hour
)

// IssuePair mints a fresh access token and a fresh refresh credential for an
// active principal. Used at login, 2FA completion and registration completion.
func (s *TokenService) IssuePair(ctx context.Context, p domain.Principal) (domain.TokenPair, error) {
	access, _, err := s.issueAccess(p)
	if err != nil {
		return domain.TokenPair{}, err
	}

	refresh, err := s.issueRefresh(ctx, p.ID)
	if err != nil {
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.Access.TTL().Seconds()),
	}, nil
}

// IssueHandoff mints the short-lived artifact bridging the password check and
// the TOTP check. It carries its own audience so it can never pass as an
// access token.
func (s *TokenService) IssueHandoff(p domain.Principal) (string, error) {
	token, _, err := s.Handoff.Issue(p.ID, jwtx.Claims{
		Email:       p.Email,
		Role:        string(p.Role),
		CompanyID:   p.CompanyID,
		Requires2FA: true,
	}, timeNow())
	if err != nil {
		return "", fmt.Errorf("failed to issue handoff token: %w", err)
	}
	return token, nil
}

// VerifyHandoff validates a handoff artifact and returns the principal it
// names. The record is re-read so a principal deactivated between the two
// login steps cannot finish.
func (s *TokenService) VerifyHandoff(ctx context.Context, raw string) (domain.Principal, error) {
	claims, err := s.Handoff.Verify(raw)
	if err != nil {
		return domain.Principal{}, ErrInvalidAccessToken
	}
	if !claims.Requires2FA {
		return domain.Principal{}, ErrInvalidAccessToken
	}

	p, err := s.Store.Principals().GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Principal{}, ErrInvalidAccessToken
		}
		return domain.Principal{}, err
	}
	if !p.Active {
		return domain.Principal{}, ErrPrincipalInactive
	}
	return p, nil
}

// Refresh exchanges a refresh credential for a new access token.
//
// Credentials younger than RotateAfter are reused as-is, so a burst of tabs
// refreshing at once does not race each other into invalidation. Older
// credentials are rotated: the winner of the conditional update gets the new
// credential, every loser gets ErrInvalidRefreshToken. Presenting an
// already-rotated credential is treated as theft evidence and revokes the
// principal's entire refresh chain.
func (s *TokenService) Refresh(ctx context.Context, rawRefresh string) (domain.TokenPair, error) {
	log := slogx.FromContext(ctx)

	if !cryptox.ValidOpaqueToken(rawRefresh) {
		return domain.TokenPair{}, ErrInvalidRefreshToken
	}

	now := timeNow()
	rec, err := s.Store.RefreshTokens().GetByHash(ctx, cryptox.FingerprintToken(rawRefresh))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, ErrInvalidRefreshToken
		}
		return domain.TokenPair{}, err
	}

	if rec.WasRotated() {
		// Replay of a consumed credential: either the legitimate holder or a
		// thief has the successor, and we cannot tell which. Burn the chain.
		log.Warn("rotated refresh token replayed, revoking principal chain",
			slog.String("principal_id", rec.PrincipalID))
		if err := s.Store.RefreshTokens().RevokeAllForPrincipal(ctx, rec.PrincipalID, now); err != nil {
			log.Error("failed to revoke refresh chain", slog.Any("error", err))
		}
		return domain.TokenPair{}, ErrInvalidRefreshToken
	}
	if !rec.IsActive(now) {
		return domain.TokenPair{}, ErrInvalidRefreshToken
	}

	p, err := s.Store.Principals().GetByID(ctx, rec.PrincipalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, ErrInvalidRefreshToken
		}
		return domain.TokenPair{}, err
	}
	if !p.Active {
		return domain.TokenPair{}, ErrInvalidRefreshToken
	}

	access, _, err := s.issueAccess(p)
	if err != nil {
		return domain.TokenPair{}, err
	}

	refresh := rawRefresh
	if now.Sub(rec.IssuedAt) >= s.RotateAfter {
		rotated, err := s.rotate(ctx, rec)
		if err != nil {
			return domain.TokenPair{}, err
		}
		refresh = rotated
	}

	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.Access.TTL().Seconds()),
	}, nil
}

// rotate creates the successor credential and consumes the old one in a
// single transaction. The conditional mark fails for everyone but the first
// concurrent caller, in which case the successor is rolled back too.
func (s *TokenService) rotate(ctx context.Context, rec domain.RefreshToken) (string, error) {
	raw, err := cryptox.GenerateOpaqueToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	hash := cryptox.FingerprintToken(raw)
	now := timeNow()

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().Create(ctx, domain.RefreshToken{
			ID:          idx.New().String(),
			TokenHash:   hash,
			PrincipalID: rec.PrincipalID,
			IssuedAt:    now,
			ExpiresAt:   now.Add(s.RefreshTTL),
		}); err != nil {
			return err
		}
		won, err := tx.RefreshTokens().MarkRotated(ctx, rec.TokenHash, hash, now)
		if err != nil {
			return err
		}
		if !won {
			return ErrInvalidRefreshToken
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return raw, nil
}

// Logout denylists the presented access token until its natural expiry and
// revokes the presented refresh credential. Refresh revocation is idempotent,
// double logout is not an error.
func (s *TokenService) Logout(ctx context.Context, claims jwtx.Claims, rawAccess, rawRefresh string) error {
	log := slogx.FromContext(ctx)

	if err := s.Revocations.Add(ctx, claims.JTI(), claims.ExpiryTime(), claims.Subject, cryptox.FingerprintToken(rawAccess), revocation.ReasonLogout); err != nil {
		// Fail-closed semantics live on the read path; a failed write here
		// must surface so the client does not believe the token is dead.
		return fmt.Errorf("failed to revoke access token: %w", err)
	}

	if rawRefresh != "" && cryptox.ValidOpaqueToken(rawRefresh) {
		if _, err := s.Store.RefreshTokens().Revoke(ctx, cryptox.FingerprintToken(rawRefresh), timeNow()); err != nil {
			log.Error("failed to revoke refresh token on logout", slog.Any("error", err))
		}
	}
	return nil
}

// CheckAccess runs the full bearer-token chain: signature and claims, then
// the revocation index (fail closed), then the live principal record. The
// stored record is authoritative, a token minted before a role change does
// not keep its old powers.
func (s *TokenService) CheckAccess(ctx context.Context, raw string) (jwtx.Claims, domain.Principal, error) {
	claims, err := s.Access.Verify(raw)
	if err != nil {
		return jwtx.Claims{}, domain.Principal{}, ErrInvalidAccessToken
	}

	revoked, err := s.Revocations.IsRevoked(ctx, claims.JTI(), claims.Subject, claims.IssuedTime())
	switch {
	case err != nil:
		slogx.FromContext(ctx).Error("revocation check degraded", slog.Any("error", err))
		obs.ObserveRevocationCheck("degraded")
	case revoked:
		obs.ObserveRevocationCheck("revoked")
	default:
		obs.ObserveRevocationCheck("allowed")
	}
	if revoked {
		return jwtx.Claims{}, domain.Principal{}, ErrInvalidAccessToken
	}

	p, err := s.Store.Principals().GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return jwtx.Claims{}, domain.Principal{}, ErrInvalidAccessToken
		}
		return jwtx.Claims{}, domain.Principal{}, err
	}
	if !p.Active {
		return jwtx.Claims{}, domain.Principal{}, ErrInvalidAccessToken
	}
	if claims.Role != string(p.Role) {
		return jwtx.Claims{}, domain.Principal{}, ErrInvalidAccessToken
	}
	return claims, p, nil
}

func (s *TokenService) issueAccess(p domain.Principal) (string, string, error) {
	token, jti, err := s.Access.Issue(p.ID, jwtx.Claims{
		Email:     p.Email,
		Role:      string(p.Role),
		CompanyID: p.CompanyID,
	}, timeNow())
	if err != nil {
		return "", "", fmt.Errorf("failed to issue access token: %w", err)
	}
	return token, jti, nil
}

func (s *TokenService) issueRefresh(ctx context.Context, principalID string) (string, error) {
	raw, err := cryptox.GenerateOpaqueToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	now := timeNow()
	if err := s.Store.RefreshTokens().Create(ctx, domain.RefreshToken{
		ID:          idx.New().String(),
		TokenHash:   cryptox.FingerprintToken(raw),
		PrincipalID: principalID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.RefreshTTL),
	}); err != nil {
		return "", fmt.Errorf("failed to persist refresh token: %w", err)
	}
	return raw, nil
}
