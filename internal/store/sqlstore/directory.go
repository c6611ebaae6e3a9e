package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tenantauth.org/internal/auth"
)

var _ auth.Directory = (*Store)(nil)

func (s *Store) GetUser(ctx context.Context, username string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select username, hashed_password, role, org_id, created_at
		from users
		where username = $1
	`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %q", auth.ErrNotFound, username)
	}
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users (username, hashed_password, role, org_id, created_at)
		values ($1, $2, $3, $4, $5)
	`, u.Username, u.PasswordHash, u.Role.String(), nullIfEmpty(u.OrgID), u.CreatedAt)
	return mapError(err, fmt.Sprintf("user %q", u.Username))
}

func (s *Store) DeleteUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where username = $1`, username)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: user %q", auth.ErrNotFound, username)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context, orgID string) ([]*auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select username, hashed_password, role, org_id, created_at
		from users
		where org_id = $1
		order by username
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*auth.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetOrganization(ctx context.Context, orgID string) (*auth.Organization, error) {
	row := s.db.QueryRowContext(ctx, `
		select org_id, name, created_at
		from organizations
		where org_id = $1
	`, orgID)
	org, err := scanOrganization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: organization %q", auth.ErrNotFound, orgID)
	}
	return org, err
}

func (s *Store) CreateOrganization(ctx context.Context, org *auth.Organization) error {
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into organizations (org_id, name, created_at)
		values ($1, $2, $3)
	`, org.ID, nullIfEmpty(org.Name), org.CreatedAt)
	return mapError(err, fmt.Sprintf("organization %q", org.ID))
}

func (s *Store) ListOrganizations(ctx context.Context, filter auth.OrgFilter) ([]*auth.Organization, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if filter.ID != "" {
		rows, err = s.db.QueryContext(ctx, `
			select org_id, name, created_at
			from organizations
			where org_id = $1
		`, filter.ID)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			select org_id, name, created_at
			from organizations
			order by org_id
		`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*auth.Organization, 0)
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, org)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*auth.User, error) {
	var (
		u    auth.User
		role string
		org  sql.NullString
	)
	if err := row.Scan(&u.Username, &u.PasswordHash, &role, &org, &u.CreatedAt); err != nil {
		return nil, err
	}
	r, err := auth.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", u.Username, err)
	}
	u.Role = r
	u.OrgID = org.String
	return &u, nil
}

func scanOrganization(row scanner) (*auth.Organization, error) {
	var (
		org  auth.Organization
		name sql.NullString
	)
	if err := row.Scan(&org.ID, &name, &org.CreatedAt); err != nil {
		return nil, err
	}
	org.Name = name.String
	return &org, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
