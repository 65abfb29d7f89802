package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/archivist/engine/pkg/domain"
	"github.com/archivist/engine/pkg/errors"
)

// CreateUser inserts a new user.
func (s *Store) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	const q = `INSERT INTO users (id, display_name, role) VALUES ($1, $2, $3)
	           RETURNING id, display_name, role, created_at`
	row := s.pool.QueryRow(ctx, q, u.ID, u.DisplayName, u.Role)
	return scanUser(row)
}

// GetUser fetches a user by ID.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	const q = `SELECT id, display_name, role, created_at FROM users WHERE id = $1`
	row := s.pool.QueryRow(ctx, q, id)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, translateNotFound(err, "user")
	}
	return u, nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.DisplayName, &u.Role, &u.CreatedAt); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func translateNotFound(err error, what string) error {
	if err == pgx.ErrNoRows {
		return errors.Wrap(errors.KindNotFound, err, what+" not found")
	}
	return errors.Wrap(errors.KindInternal, err, "query "+what)
}
