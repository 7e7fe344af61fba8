package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/playerdash/dashboard/internal/auth/domain"
)

type principalsRepo struct {
	q querier
}

const principalColumns = `id, email, password_hash, role, company_id, active, status,
	failed_logins, locked_until, last_login,
	invite_token_hash, invite_expires_at, reset_token_hash, reset_expires_at, last_reminder_at,
	totp_secret, totp_pending_secret, totp_enabled, totp_pending_setup,
	created_at, updated_at`

func (r *principalsRepo) GetByID(ctx context.Context, id string) (domain.Principal, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE id = ?`, id)
	return scanPrincipal(row)
}

func (r *principalsRepo) GetActiveByEmail(ctx context.Context, email string) (domain.Principal, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE email = ? AND active = 1`, email)
	return scanPrincipal(row)
}

func (r *principalsRepo) GetPendingByEmail(ctx context.Context, email string) (domain.Principal, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE email = ? AND status = 'pending'
		 ORDER BY created_at DESC LIMIT 1`, email)
	return scanPrincipal(row)
}

func (r *principalsRepo) GetByInviteHash(ctx context.Context, hash string) (domain.Principal, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE invite_token_hash = ?`, hash)
	return scanPrincipal(row)
}

func (r *principalsRepo) GetByResetHash(ctx context.Context, hash string) (domain.Principal, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE reset_token_hash = ?`, hash)
	return scanPrincipal(row)
}

func (r *principalsRepo) Create(ctx context.Context, p domain.Principal) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO principals (
			id, email, password_hash, role, company_id, active, status,
			invite_token_hash, invite_expires_at, last_reminder_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Email, p.PasswordHash, string(p.Role), p.CompanyID, p.Active, string(p.Status),
		mapOptionalString(p.InviteTokenHash), mapOptionalTime(p.InviteExpiresAt),
		mapOptionalTime(p.LastReminderAt),
	)
	return err
}

func (r *principalsRepo) Activate(ctx context.Context, id, passwordHash, email string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE principals SET
			password_hash = ?, email = ?, active = 1, status = 'active',
			invite_token_hash = NULL, invite_expires_at = NULL,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		passwordHash, email, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *principalsRepo) UpdatePasswordHash(ctx context.Context, id, newHash string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE principals SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		newHash, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *principalsRepo) SetInvite(ctx context.Context, id, tokenHash string, expiresAt, remindedAt time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE principals SET
			invite_token_hash = ?, invite_expires_at = ?, last_reminder_at = ?,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		tokenHash, expiresAt, remindedAt, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *principalsRepo) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE principals SET
			reset_token_hash = ?, reset_expires_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		tokenHash, expiresAt, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *principalsRepo) ClearResetToken(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE principals SET
			reset_token_hash = NULL, reset_expires_at = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, id)
	return err
}

func (r *principalsRepo) IncrementFailedLogins(ctx context.Context, id string) (int, error) {
	// Single-statement increment keeps N concurrent failures summing to N.
	row := r.q.QueryRowContext(ctx,
		`UPDATE principals SET failed_logins = failed_logins + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? RETURNING failed_logins`, id)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, mapNotFound(err)
	}
	return count, nil
}

func (r *principalsRepo) SetLockout(ctx context.Context, id string, until time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE principals SET locked_until = ?, failed_logins = 0, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, until, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *principalsRepo) RecordLogin(ctx context.Context, id string, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE principals SET
			failed_logins = 0, locked_until = NULL, last_login = ?,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, at, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *principalsRepo) SetPendingTOTP(ctx context.Context, id, secret string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE principals SET
			totp_pending_secret = ?, totp_pending_setup = 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, secret, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *principalsRepo) CommitTOTP(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE principals SET
			totp_secret = totp_pending_secret, totp_pending_secret = NULL,
			totp_enabled = 1, totp_pending_setup = 0, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND totp_pending_secret IS NOT NULL`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *principalsRepo) ClearPendingTOTP(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE principals SET
			totp_pending_secret = NULL, totp_pending_setup = 0, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, id)
	return err
}

func (r *principalsRepo) DisableTOTP(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE principals SET
			totp_secret = NULL, totp_pending_secret = NULL,
			totp_enabled = 0, totp_pending_setup = 0, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, id)
	return err
}

func (r *principalsRepo) CountActiveByRole(ctx context.Context, role domain.Role) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM principals WHERE role = ? AND active = 1`, string(role)).Scan(&count)
	return count, err
}

func (r *principalsRepo) CountByCompany(ctx context.Context, companyID string) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM principals WHERE company_id = ?`, companyID).Scan(&count)
	return count, err
}

func (r *principalsRepo) ListReminderCandidates(ctx context.Context, now, reminderBefore time.Time) ([]domain.Principal, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+principalColumns+` FROM principals
		 WHERE status = 'pending'
		   AND invite_expires_at IS NOT NULL AND invite_expires_at < ?
		   AND (last_reminder_at IS NULL OR last_reminder_at < ?)`,
		now, reminderBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *principalsRepo) Delete(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM principals WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(s scanner) (domain.Principal, error) {
	var (
		p                 domain.Principal
		role, status      string
		lockedUntil       sql.NullTime
		lastLogin         sql.NullTime
		inviteHash        sql.NullString
		inviteExpires     sql.NullTime
		resetHash         sql.NullString
		resetExpires      sql.NullTime
		lastReminder      sql.NullTime
		totpSecret        sql.NullString
		totpPendingSecret sql.NullString
	)

	err := s.Scan(
		&p.ID, &p.Email, &p.PasswordHash, &role, &p.CompanyID, &p.Active, &status,
		&p.FailedLogins, &lockedUntil, &lastLogin,
		&inviteHash, &inviteExpires, &resetHash, &resetExpires, &lastReminder,
		&totpSecret, &totpPendingSecret, &p.TOTPEnabled, &p.TOTPPendingSetup,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Principal{}, mapNotFound(err)
	}

	p.Role = domain.Role(role)
	p.Status = domain.Status(status)
	p.LockedUntil = mapNullTimePtr(lockedUntil)
	p.LastLogin = mapNullTimePtr(lastLogin)
	p.InviteTokenHash = mapNullStringPtr(inviteHash)
	p.InviteExpiresAt = mapNullTimePtr(inviteExpires)
	p.ResetTokenHash = mapNullStringPtr(resetHash)
	p.ResetExpiresAt = mapNullTimePtr(resetExpires)
	p.LastReminderAt = mapNullTimePtr(lastReminder)
	p.TOTPSecret = mapNullStringPtr(totpSecret)
	p.TOTPPendingSecret = mapNullStringPtr(totpPendingSecret)

	return p, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return mapNotFound(sql.ErrNoRows)
	}
	return nil
}
