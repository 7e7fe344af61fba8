package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/playerdash/dashboard/internal/auth/domain"
)

type refreshTokensRepo struct {
	q querier
}

const refreshColumns = `id, principal_id, token_hash, issued_at, expires_at,
	revoked_at, replaced_by, created_at, updated_at`

func (r *refreshTokensRepo) Create(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, principal_id, token_hash, issued_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.PrincipalID, t.TokenHash, t.IssuedAt, t.ExpiresAt)
	return err
}

func (r *refreshTokensRepo) GetByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+refreshColumns+` FROM refresh_tokens WHERE token_hash = ?`, hash)

	var (
		t          domain.RefreshToken
		revokedAt  sql.NullTime
		replacedBy sql.NullString
	)
	err := row.Scan(&t.ID, &t.PrincipalID, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt,
		&revokedAt, &replacedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	t.RevokedAt = mapNullTimePtr(revokedAt)
	t.ReplacedBy = mapNullStringPtr(replacedBy)
	return t, nil
}

// MarkRotated is the rotation compare-and-set. The WHERE clause on
// revoked_at IS NULL makes two concurrent presentations of the same token
// linearize: exactly one update reports a row affected.
func (r *refreshTokensRepo) MarkRotated(ctx context.Context, hash, replacedBy string, at time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ?, replaced_by = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE token_hash = ? AND revoked_at IS NULL`,
		at, replacedBy, hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *refreshTokensRepo) Revoke(ctx context.Context, hash string, at time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE token_hash = ? AND revoked_at IS NULL`,
		at, hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *refreshTokensRepo) RevokeAllForPrincipal(ctx context.Context, principalID string, at time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE principal_id = ? AND revoked_at IS NULL`,
		at, principalID)
	return err
}

func (r *refreshTokensRepo) PurgeExpired(ctx context.Context, now time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < ? OR revoked_at IS NOT NULL`, now)
	return err
}
