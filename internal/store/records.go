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
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
)

// GetStandard resolves one catalog row by code.
func (s *Store) GetStandard(ctx context.Context, code string) (*domain.Standard, error) {
	var std domain.Standard
	err := s.db.GetContext(ctx, &std, `SELECT * FROM assessment_standards WHERE code = $1`, code)
	if err != nil {
		return nil, mapRowErr(err)
	}
	return &std, nil
}

// ListStandards returns the whole catalog in code order.
func (s *Store) ListStandards(ctx context.Context) ([]domain.Standard, error) {
	var out []domain.Standard
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM assessment_standards ORDER BY code`)
	return out, err
}

// RecordFilter narrows assessment record listings. Soft-deleted rows are
// excluded unless IncludeDeleted is set.
type RecordFilter struct {
	Department     *domain.Department
	EmployeeID     *uuid.UUID
	Year           int
	Month          int // 0 = whole year
	IncludeDeleted bool
}

// ListRecords returns records matching the filter, event-date order.
func (s *Store) ListRecords(ctx context.Context, f RecordFilter) ([]domain.AssessmentRecord, error) {
	q := `SELECT id, department, employee_id, standard_code, category_code, event_date,
	             base_points, fault_coefficient, cumulative_multiplier, final_points,
	             profile_id, idempotency_key, formula_version, created_by, created_at, deleted_at
	      FROM assessment_records WHERE 1=1`
	args := []any{}
	if f.Department != nil {
		args = append(args, *f.Department)
		q += fmt.Sprintf(" AND department = $%d", len(args))
	}
	if f.EmployeeID != nil {
		args = append(args, *f.EmployeeID)
		q += fmt.Sprintf(" AND employee_id = $%d", len(args))
	}
	if f.Year > 0 {
		var from, to time.Time
		if f.Month > 0 {
			from, to = monthBounds(f.Year, f.Month)
		} else {
			from = time.Date(f.Year, 1, 1, 0, 0, 0, 0, time.UTC)
			to = from.AddDate(1, 0, 0)
		}
		args = append(args, from)
		q += fmt.Sprintf(" AND event_date >= $%d", len(args))
		args = append(args, to)
		q += fmt.Sprintf(" AND event_date < $%d", len(args))
	}
	if !f.IncludeDeleted {
		q += " AND deleted_at IS NULL"
	}
	q += " ORDER BY event_date, created_at"
	var out []domain.AssessmentRecord
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRecord fetches one record including its checklist payload.
func (s *Store) GetRecord(ctx context.Context, id uuid.UUID) (*domain.AssessmentRecord, error) {
	row := struct {
		domain.AssessmentRecord
		ChecklistJSON []byte `db:"fault_checklist"`
	}{}
	err := s.db.GetContext(ctx, &row, `
		SELECT id, department, employee_id, standard_code, category_code, event_date,
		       base_points, fault_coefficient, cumulative_multiplier, final_points,
		       profile_id, idempotency_key, formula_version, fault_checklist,
		       created_by, created_at, deleted_at
		FROM assessment_records WHERE id = $1`, id)
	if err != nil {
		return nil, mapRowErr(err)
	}
	rec := row.AssessmentRecord
	if len(row.ChecklistJSON) > 0 {
		var cl domain.FaultChecklist
		if err := json.Unmarshal(row.ChecklistJSON, &cl); err != nil {
			return nil, fmt.Errorf("store: checklist payload: %w", err)
		}
		rec.Checklist = &cl
	}
	return &rec, nil
}

// HasIdempotencyKey reports whether a record with the key already exists,
// soft-deleted rows included (a re-run must not resurrect deletions).
func (s *Store) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM assessment_records WHERE idempotency_key = $1`, key)
	return n > 0, err
}

// InsertAssessmentRecord persists a derived (bonus/reward) record outside of
// any counter lock. A duplicate idempotency key maps to ErrConflict so batch
// engines can count it as skipped.
func (s *Store) InsertAssessmentRecord(ctx context.Context, rec *domain.AssessmentRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assessment_records
		    (id, department, employee_id, standard_code, category_code, event_date,
		     base_points, fault_coefficient, cumulative_multiplier, final_points,
		     profile_id, idempotency_key, formula_version, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		rec.ID, rec.Department, rec.EmployeeID, rec.StandardCode, rec.CategoryCode, rec.EventDate,
		rec.BasePoints, rec.FaultCoefficient, rec.CumulativeMultiplier, rec.FinalPoints,
		rec.ProfileID, rec.IdempotencyKey, rec.FormulaVersion, rec.CreatedBy, rec.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: idempotency key", ErrConflict)
	}
	return err
}

// CounterTx is the serialized view over one (employee, category, year)
// counter row and its records. All methods run inside the transaction that
// holds the row lock; WithCounterLocked is the only way to obtain one.
type CounterTx interface {
	// Count returns the current occurrence count.
	Count() int
	// SetCount overwrites the occurrence count.
	SetCount(n int) error
	// InsertRecord persists a scored record in the locked scope.
	InsertRecord(rec *domain.AssessmentRecord) error
	// SoftDelete marks a record deleted.
	SoftDelete(id uuid.UUID, at time.Time) error
	// ListLive returns the non-deleted V2 records of the triple in
	// event-date order (creation order breaks ties).
	ListLive() ([]domain.AssessmentRecord, error)
	// UpdateScore rewrites a record's multiplier and final points after a
	// rank recomputation.
	UpdateScore(id uuid.UUID, multiplier, finalPoints decimal.Decimal) error
	// Detach moves a record out of this triple (profile date moved across a
	// year or category boundary); the caller rescores it under the new key.
	Detach(id uuid.UUID, newEventDate time.Time) error
}

type counterTx struct {
	ctx   context.Context
	tx    *sqlx.Tx
	emp   uuid.UUID
	cat   domain.CategoryCode
	year  int
	count int
}

// WithCounterLocked upserts the counter row for (employee, category, year),
// locks it with SELECT ... FOR UPDATE, and runs fn. The row is the
// serialization point for all scoring on the triple: concurrent calls for
// the same triple queue on the row lock, different triples run in parallel.
func (s *Store) WithCounterLocked(ctx context.Context, emp uuid.UUID, cat domain.CategoryCode, year int, fn func(c CounterTx) error) error {
	return s.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cumulative_counters (employee_id, category_code, year, occurrence_count)
			VALUES ($1, $2, $3, 0)
			ON CONFLICT (employee_id, category_code, year) DO NOTHING`, emp, cat, year); err != nil {
			return err
		}
		var count int
		if err := tx.GetContext(ctx, &count, `
			SELECT occurrence_count FROM cumulative_counters
			WHERE employee_id = $1 AND category_code = $2 AND year = $3
			FOR UPDATE`, emp, cat, year); err != nil {
			return mapRowErr(err)
		}
		return fn(&counterTx{ctx: ctx, tx: tx, emp: emp, cat: cat, year: year, count: count})
	})
}

func (c *counterTx) Count() int { return c.count }

func (c *counterTx) SetCount(n int) error {
	_, err := c.tx.ExecContext(c.ctx, `
		UPDATE cumulative_counters SET occurrence_count = $1
		WHERE employee_id = $2 AND category_code = $3 AND year = $4`, n, c.emp, c.cat, c.year)
	if err == nil {
		c.count = n
	}
	return err
}

func (c *counterTx) InsertRecord(rec *domain.AssessmentRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now().UTC()
	var checklistJSON any
	if rec.Checklist != nil {
		b, err := json.Marshal(rec.Checklist)
		if err != nil {
			return fmt.Errorf("store: checklist payload: %w", err)
		}
		checklistJSON = b
	}
	_, err := c.tx.ExecContext(c.ctx, `
		INSERT INTO assessment_records
		    (id, department, employee_id, standard_code, category_code, event_date,
		     base_points, fault_coefficient, cumulative_multiplier, final_points,
		     profile_id, idempotency_key, formula_version, fault_checklist, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		rec.ID, rec.Department, rec.EmployeeID, rec.StandardCode, rec.CategoryCode, rec.EventDate,
		rec.BasePoints, rec.FaultCoefficient, rec.CumulativeMultiplier, rec.FinalPoints,
		rec.ProfileID, rec.IdempotencyKey, rec.FormulaVersion, checklistJSON, rec.CreatedBy, rec.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: idempotency key", ErrConflict)
	}
	return err
}

func (c *counterTx) SoftDelete(id uuid.UUID, at time.Time) error {
	res, err := c.tx.ExecContext(c.ctx, `
		UPDATE assessment_records SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *counterTx) ListLive() ([]domain.AssessmentRecord, error) {
	var out []domain.AssessmentRecord
	err := c.tx.SelectContext(c.ctx, &out, `
		SELECT id, department, employee_id, standard_code, category_code, event_date,
		       base_points, fault_coefficient, cumulative_multiplier, final_points,
		       profile_id, idempotency_key, formula_version, created_by, created_at, deleted_at
		FROM assessment_records
		WHERE employee_id = $1 AND category_code = $2
		  AND event_date >= $3 AND event_date < $4
		  AND deleted_at IS NULL AND formula_version = $5
		ORDER BY event_date, created_at`,
		c.emp, c.cat,
		time.Date(c.year, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(c.year+1, 1, 1, 0, 0, 0, 0, time.UTC),
		domain.FormulaV2)
	return out, err
}

func (c *counterTx) UpdateScore(id uuid.UUID, multiplier, finalPoints decimal.Decimal) error {
	_, err := c.tx.ExecContext(c.ctx, `
		UPDATE assessment_records SET cumulative_multiplier = $1, final_points = $2 WHERE id = $3`,
		multiplier, finalPoints, id)
	return err
}

func (c *counterTx) Detach(id uuid.UUID, newEventDate time.Time) error {
	_, err := c.tx.ExecContext(c.ctx, `
		UPDATE assessment_records SET event_date = $1 WHERE id = $2`, newEventDate, id)
	return err
}

// CloseYearCounters archives every counter of the given year. Rows stay in
// place for audit; the engine starts fresh rows for the new year on demand.
func (s *Store) CloseYearCounters(ctx context.Context, year int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cumulative_counters SET closed = TRUE WHERE year = $1 AND closed = FALSE`, year)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetCounter reads one counter row without locking (reporting only).
func (s *Store) GetCounter(ctx context.Context, emp uuid.UUID, cat domain.CategoryCode, year int) (*domain.CumulativeCounter, error) {
	var c domain.CumulativeCounter
	err := s.db.GetContext(ctx, &c, `
		SELECT * FROM cumulative_counters
		WHERE employee_id = $1 AND category_code = $2 AND year = $3`, emp, cat, year)
	if err != nil {
		return nil, mapRowErr(err)
	}
	return &c, nil
}
