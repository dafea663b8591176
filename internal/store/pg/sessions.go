package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"edgauth.org/internal/auth"
)

func (s *Store) CreateSession(ctx context.Context, sess *auth.Session) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, account_id, refresh_token, expires_at, is_revoked, ip_address, user_agent, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sess.ID, sess.AccountID, sess.RefreshToken, sess.ExpiresAt, sess.Revoked,
		nullIfEmpty(sess.IPAddress), nullIfEmpty(sess.UserAgent), sess.CreatedAt)
	return mapWriteError(err)
}

func (s *Store) FindSessionByRefreshToken(ctx context.Context, token string) (*auth.Session, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var (
		sess   auth.Session
		ip, ua sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, account_id, refresh_token, expires_at, is_revoked, ip_address, user_agent, created_at
		from sessions
		where refresh_token = $1
	`, token).Scan(&sess.ID, &sess.AccountID, &sess.RefreshToken, &sess.ExpiresAt, &sess.Revoked, &ip, &ua, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.IPAddress = ip.String
	sess.UserAgent = ua.String
	return &sess, nil
}

// UpdateSession writes client metadata and the revoked flag. A revoked row never flips back.
func (s *Store) UpdateSession(ctx context.Context, sess *auth.Session) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update sessions
		set is_revoked = is_revoked or $2, ip_address = $3, user_agent = $4
		where id = $1
	`, sess.ID, sess.Revoked, nullIfEmpty(sess.IPAddress), nullIfEmpty(sess.UserAgent))
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

func (s *Store) RevokeSessionsForAccount(ctx context.Context, accountID int64) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update sessions
		set is_revoked = true
		where account_id = $1 and is_revoked = false
	`, accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteSessionsExpiredBefore(ctx context.Context, ts time.Time) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires_at < $1`, ts)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
