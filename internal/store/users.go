package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/storybook-agent/internal/types"
)

// CreateUser inserts a studio account row.
func (s *PostgresStore) CreateUser(ctx context.Context, user *types.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, email, account_id, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Name, user.Email, user.AccountID, user.PasswordHash, user.CreatedAt,
	)
	if err != nil {
		return &StorageError{Op: "create user", Cause: err}
	}
	return nil
}

// GetUserByEmail returns the account with the given email, or nil.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	return s.getUser(ctx, `SELECT id, name, email, account_id, password_hash, created_at
		 FROM users WHERE lower(email) = lower($1)`, email)
}

// GetUserByID returns the account with the given ID, or nil.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*types.User, error) {
	return s.getUser(ctx, `SELECT id, name, email, account_id, password_hash, created_at
		 FROM users WHERE id = $1`, id)
}

func (s *PostgresStore) getUser(ctx context.Context, query string, arg any) (*types.User, error) {
	var u types.User
	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&u.ID, &u.Name, &u.Email, &u.AccountID, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &StorageError{Op: "get user", Cause: err}
	}
	return &u, nil
}

// UpdatePasswordHash replaces the stored password hash.
func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, hash, id)
	if err != nil {
		return &StorageError{Op: "update password", Cause: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
