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

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
)

// GetSetting reads one per-department setting value. Backs the frozen
// settings endpoint consumed by the desktop helper.
func (s *Store) GetSetting(ctx context.Context, dept domain.Department, key string) (*domain.Setting, error) {
	var v domain.Setting
	err := s.db.GetContext(ctx, &v, `
		SELECT * FROM settings WHERE department = $1 AND key = $2`, dept, key)
	if err != nil {
		return nil, mapRowErr(err)
	}
	return &v, nil
}

// PutSetting upserts one setting value.
func (s *Store) PutSetting(ctx context.Context, v *domain.Setting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (department, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (department, key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = now()`,
		v.Department, v.Key, v.Value)
	return err
}

// ListSettings returns every setting for a department.
func (s *Store) ListSettings(ctx context.Context, dept domain.Department) ([]domain.Setting, error) {
	var out []domain.Setting
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM settings WHERE department = $1 ORDER BY key`, dept)
	return out, err
}
