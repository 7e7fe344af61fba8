package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/playerdash/dashboard/internal/auth/domain"
	"github.com/playerdash/dashboard/internal/auth/revocation"
	"github.com/playerdash/dashboard/internal/auth/store"
	"github.com/playerdash/dashboard/pkg/slogx"
)

var ErrLastPlatformAdmin = errors.New("cannot remove the last platform admin")

// PrincipalService covers administrative account operations that sit outside
// the login and invitation flows.
type PrincipalService struct {
	Store       store.Store
	Revocations *revocation.Index
}

// Delete removes a principal and kills its sessions. The last platform admin
// cannot be deleted, otherwise the dashboard would be unmanageable.
func (s *PrincipalService) Delete(ctx context.Context, actor domain.Principal, principalID string) error {
	log := slogx.FromContext(ctx)

	p, err := s.Store.Principals().GetByID(ctx, principalID)
	if err != nil {
		return err
	}

	switch {
	case actor.Role.Can(domain.CapManagePlatform):
	case actor.Role.Can(domain.CapManageTenant):
		if p.CompanyID != actor.CompanyID || p.Role == domain.RolePlatformAdmin {
			return ErrForbidden
		}
	default:
		return ErrForbidden
	}

	if p.Role == domain.RolePlatformAdmin && p.Active {
		n, err := s.Store.Principals().CountActiveByRole(ctx, domain.RolePlatformAdmin)
		if err != nil {
			return err
		}
		if n <= 1 {
			return ErrLastPlatformAdmin
		}
	}

	now := timeNow()
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().RevokeAllForPrincipal(ctx, p.ID, now); err != nil {
			return err
		}
		return tx.Principals().Delete(ctx, p.ID)
	})
	if err != nil {
		return err
	}

	if err := s.Revocations.MarkPrincipal(ctx, p.ID, revocation.ReasonAdmin); err != nil {
		log.Error("failed to mark deleted principal in revocation index",
			slog.String("principal_id", p.ID), slog.Any("error", err))
	}

	log.Info("principal deleted",
		slog.String("principal_id", p.ID),
		slog.String("actor_id", actor.ID))
	return nil
}
