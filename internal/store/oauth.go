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
	"time"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
)

// UpsertOAuthToken writes the single token row for a department. Columns
// hold ciphertext only.
func (s *Store) UpsertOAuthToken(ctx context.Context, t *domain.OAuthTokenRecord) error {
	t.UpdatedAt = time.Now().UTC()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO oauth_tokens (department, refresh_token_cipher, access_token_cipher, access_expires_at, authorized_email, updated_at)
		VALUES (:department, :refresh_token_cipher, :access_token_cipher, :access_expires_at, :authorized_email, :updated_at)
		ON CONFLICT (department) DO UPDATE
		SET refresh_token_cipher = EXCLUDED.refresh_token_cipher,
		    access_token_cipher = EXCLUDED.access_token_cipher,
		    access_expires_at = EXCLUDED.access_expires_at,
		    authorized_email = EXCLUDED.authorized_email,
		    updated_at = EXCLUDED.updated_at`, t)
	return err
}

// GetOAuthToken loads the token row for a department.
func (s *Store) GetOAuthToken(ctx context.Context, dept domain.Department) (*domain.OAuthTokenRecord, error) {
	var t domain.OAuthTokenRecord
	err := s.db.GetContext(ctx, &t, `SELECT * FROM oauth_tokens WHERE department = $1`, dept)
	if err != nil {
		return nil, mapRowErr(err)
	}
	return &t, nil
}

// UpdateOAuthAccessToken caches the encrypted access token and expiry.
func (s *Store) UpdateOAuthAccessToken(ctx context.Context, dept domain.Department, cipher string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE oauth_tokens
		SET access_token_cipher = $1, access_expires_at = $2, updated_at = now()
		WHERE department = $3`, cipher, expiresAt, dept)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteOAuthToken revokes the department grant.
func (s *Store) DeleteOAuthToken(ctx context.Context, dept domain.Department) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE department = $1`, dept)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
