package pg

import (
	"context"
	"database/sql"
	"errors"

	"edgauth.org/internal/auth"
)

const roleColumns = `id, uuid, name, description, is_system, created_at, updated_at`

func scanRole(row rowScanner) (*auth.Role, error) {
	var (
		r    auth.Role
		desc sql.NullString
	)
	err := row.Scan(&r.ID, &r.UUID, &r.Name, &desc, &r.System, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Description = desc.String
	return &r, nil
}

func (s *Store) FindRole(ctx context.Context, id int64) (*auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id))
}

func (s *Store) FindRoleByName(ctx context.Context, name string) (*auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where name = $1`, name))
}

// RolePermissions returns the role's permission strings in insertion order.
func (s *Store) RolePermissions(ctx context.Context, roleID int64) ([]string, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select permission
		from role_permissions
		where role_id = $1
		order by id
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func (s *Store) CreateRole(ctx context.Context, r *auth.Role) error {
	if s.db == nil {
		return errNoDB
	}
	err := s.db.QueryRowContext(ctx, `
		insert into roles (uuid, name, description, is_system, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
		returning id
	`, r.UUID, r.Name, nullIfEmpty(r.Description), r.System, r.CreatedAt, r.UpdatedAt).Scan(&r.ID)
	return mapWriteError(err)
}

func (s *Store) UpdateRole(ctx context.Context, r *auth.Role) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update roles
		set name = $2, description = $3, is_system = $4, updated_at = $5
		where id = $1
	`, r.ID, r.Name, nullIfEmpty(r.Description), r.System, r.UpdatedAt)
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

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SetRolePermissions replaces the grant in one transaction.
func (s *Store) SetRolePermissions(ctx context.Context, roleID int64, perms []string) error {
	if s.db == nil {
		return errNoDB
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, p := range perms {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission)
			values ($1, $2)
		`, roleID, p); err != nil {
			return mapWriteError(err)
		}
	}
	return tx.Commit()
}

func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
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
