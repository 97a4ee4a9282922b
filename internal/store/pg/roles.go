package pg

import (
	"context"
	"database/sql"
	"errors"

	"adgate.org/internal/access"
	"adgate.org/internal/roles"
)

var _ roles.Store = (*Store)(nil)

// Role implements roles.Store.
func (s *Store) Role(ctx context.Context, userID access.UserID) (access.Role, error) {
	var raw string
	err := s.q.QueryRowContext(ctx, `
		select role from users where telegram_id = $1
	`, int64(userID)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", access.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return access.ParseRole(raw)
}

// SetRole implements roles.Store. The previous role is read and updated in
// one transaction so concurrent role changes serialize.
func (s *Store) SetRole(ctx context.Context, userID access.UserID, role access.Role) (access.Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `
		select role from users where telegram_id = $1 for update
	`, int64(userID)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", access.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	old, err := access.ParseRole(raw)
	if err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx, `
		update users set role = $1, updated_at = now() where telegram_id = $2
	`, string(role), int64(userID)); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return old, nil
}

// EnsureUser implements roles.Store.
func (s *Store) EnsureUser(ctx context.Context, userID access.UserID, role access.Role) error {
	_, err := s.q.ExecContext(ctx, `
		insert into users (telegram_id, role)
		values ($1, $2)
		on conflict (telegram_id) do nothing
	`, int64(userID), string(role))
	return err
}
