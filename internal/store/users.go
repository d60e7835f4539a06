/*
Copyright 2025 Kunpeto.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
)

// CreateUser inserts an account. Duplicate usernames map to ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, department, created_at, updated_at)
		VALUES (:id, :username, :password_hash, :role, :department, :created_at, :updated_at)`, u)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: username %s", ErrConflict, u.Username)
	}
	return err
}

// GetUserByUsername fetches one account for login.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE username = $1`, username)
	if err != nil {
		return nil, mapRowErr(err)
	}
	return &u, nil
}

// GetUser fetches by id.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, mapRowErr(err)
	}
	return &u, nil
}

// ListUsers returns all accounts, username order.
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	var out []domain.User
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM users ORDER BY username`)
	return out, err
}

// UpdatePasswordHash rewrites the stored hash.
func (s *Store) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`, hash, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
