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

	"github.com/google/uuid"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
)

// UpsertScheduleCell writes one roster cell. Identical payloads are a no-op;
// a changed raw text takes the new sync batch. Last write wins within a batch.
func (s *Store) UpsertScheduleCell(ctx context.Context, c *domain.ScheduleCell) error {
	c.SyncedAt = time.Now().UTC()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO schedule_cells (department, employee_id, work_date, raw_text, sync_batch_id, synced_at)
		VALUES (:department, :employee_id, :work_date, :raw_text, :sync_batch_id, :synced_at)
		ON CONFLICT (department, employee_id, work_date) DO UPDATE
		SET raw_text = EXCLUDED.raw_text,
		    sync_batch_id = EXCLUDED.sync_batch_id,
		    synced_at = EXCLUDED.synced_at
		WHERE schedule_cells.raw_text IS DISTINCT FROM EXCLUDED.raw_text`, c)
	return err
}

// GetScheduleCell reads one cell.
func (s *Store) GetScheduleCell(ctx context.Context, dept domain.Department, employeeID uuid.UUID, date time.Time) (*domain.ScheduleCell, error) {
	var c domain.ScheduleCell
	err := s.db.GetContext(ctx, &c, `
		SELECT * FROM schedule_cells
		WHERE department = $1 AND employee_id = $2 AND work_date = $3`, dept, employeeID, date)
	if err != nil {
		return nil, mapRowErr(err)
	}
	return &c, nil
}

// ListEmployeeMonth returns one employee's cells for a month, date order.
func (s *Store) ListEmployeeMonth(ctx context.Context, dept domain.Department, employeeID uuid.UUID, year, month int) ([]domain.ScheduleCell, error) {
	from, to := monthBounds(year, month)
	var out []domain.ScheduleCell
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM schedule_cells
		WHERE department = $1 AND employee_id = $2 AND work_date >= $3 AND work_date < $4
		ORDER BY work_date`, dept, employeeID, from, to)
	return out, err
}

// ListDepartmentMonth returns every cell for a department month, grouped by
// employee then date.
func (s *Store) ListDepartmentMonth(ctx context.Context, dept domain.Department, year, month int) ([]domain.ScheduleCell, error) {
	from, to := monthBounds(year, month)
	var out []domain.ScheduleCell
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM schedule_cells
		WHERE department = $1 AND work_date >= $2 AND work_date < $3
		ORDER BY employee_id, work_date`, dept, from, to)
	return out, err
}

func monthBounds(year, month int) (time.Time, time.Time) {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}
