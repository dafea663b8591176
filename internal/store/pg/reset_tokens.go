package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"edgauth.org/internal/auth"
)

func (s *Store) CreateResetToken(ctx context.Context, t *auth.ResetToken) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into reset_tokens (id, account_id, token, expires_at, used, ip_address, user_agent, created_at)
		values ($1, $2, $3, $4, false, $5, $6, $7)
	`, t.ID, t.AccountID, t.Token, t.ExpiresAt, nullIfEmpty(t.IPAddress), nullIfEmpty(t.UserAgent), t.CreatedAt)
	return mapWriteError(err)
}

// FindUnusedResetToken joins the owning account in the same round trip.
func (s *Store) FindUnusedResetToken(ctx context.Context, token string) (*auth.ResetToken, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		select rt.id, rt.account_id, rt.token, rt.expires_at, rt.used, rt.ip_address, rt.user_agent, rt.created_at,
			a.id, a.uuid, a.email, a.account_type, a.entity_id, a.password_hash, a.role_id,
			a.is_active, a.is_verified, a.last_login, a.created_at, a.updated_at
		from reset_tokens rt
		join accounts a on a.id = rt.account_id
		where rt.token = $1 and rt.used = false
	`, token)

	var (
		rt        auth.ResetToken
		a         auth.Account
		ip, ua    sql.NullString
		accType   string
		hash      sql.NullString
		lastLogin sql.NullTime
	)
	err := row.Scan(&rt.ID, &rt.AccountID, &rt.Token, &rt.ExpiresAt, &rt.Used, &ip, &ua, &rt.CreatedAt,
		&a.ID, &a.UUID, &a.Email, &accType, &a.EntityID, &hash, &a.RoleID,
		&a.Active, &a.Verified, &lastLogin, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rt.IPAddress = ip.String
	rt.UserAgent = ua.String
	a.AccountType = auth.AccountType(accType)
	a.PasswordHash = hash.String
	if lastLogin.Valid {
		ts := lastLogin.Time
		a.LastLogin = &ts
	}
	rt.Account = &a
	return &rt, nil
}

// MarkResetTokenUsed only claims tokens that are still unused.
func (s *Store) MarkResetTokenUsed(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `update reset_tokens set used = true where id = $1 and used = false`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteResetTokensExpiredBefore(ctx context.Context, ts time.Time) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from reset_tokens where expires_at < $1`, ts)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
