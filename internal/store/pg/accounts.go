package pg

import (
	"context"
	"database/sql"
	"errors"

	"edgauth.org/internal/auth"
)

const accountColumns = `id, uuid, email, account_type, entity_id, password_hash, role_id,
		is_active, is_verified, last_login, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*auth.Account, error) {
	var (
		a         auth.Account
		accType   string
		hash      sql.NullString
		lastLogin sql.NullTime
	)
	err := row.Scan(&a.ID, &a.UUID, &a.Email, &accType, &a.EntityID, &hash, &a.RoleID,
		&a.Active, &a.Verified, &lastLogin, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.AccountType = auth.AccountType(accType)
	a.PasswordHash = hash.String
	if lastLogin.Valid {
		ts := lastLogin.Time
		a.LastLogin = &ts
	}
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *auth.Account) error {
	if s.db == nil {
		return errNoDB
	}
	err := s.db.QueryRowContext(ctx, `
		insert into accounts (uuid, email, account_type, entity_id, password_hash, role_id,
			is_active, is_verified, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning id
	`, a.UUID, a.Email, string(a.AccountType), a.EntityID, nullIfEmpty(a.PasswordHash), a.RoleID,
		a.Active, a.Verified, a.CreatedAt, a.UpdatedAt).Scan(&a.ID)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *Store) FindAccountByEmailAndType(ctx context.Context, email string, typ auth.AccountType) (*auth.Account, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		select `+accountColumns+`
		from accounts
		where email = $1 and account_type = $2
	`, email, string(typ))
	return scanAccount(row)
}

func (s *Store) FindAccountByID(ctx context.Context, id int64) (*auth.Account, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		select `+accountColumns+`
		from accounts
		where id = $1
	`, id)
	return scanAccount(row)
}

func (s *Store) UpdateAccount(ctx context.Context, a *auth.Account) error {
	if s.db == nil {
		return errNoDB
	}
	var lastLogin sql.NullTime
	if a.LastLogin != nil {
		lastLogin = sql.NullTime{Time: *a.LastLogin, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		update accounts
		set email = $2, password_hash = $3, role_id = $4, is_active = $5, is_verified = $6,
			last_login = $7, updated_at = $8
		where id = $1
	`, a.ID, a.Email, nullIfEmpty(a.PasswordHash), a.RoleID, a.Active, a.Verified, lastLogin, a.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
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
