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
	"github.com/jmoiron/sqlx"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
)

// EmployeeFilter narrows employee listings.
type EmployeeFilter struct {
	Department     *domain.Department
	IncludeResigned bool
	Search          string // matches code or name prefix
}

// CreateEmployee inserts a new driver. Duplicate codes map to ErrConflict.
func (s *Store) CreateEmployee(ctx context.Context, e *domain.Employee) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO employees (id, employee_code, name, department, is_resigned, phone, email, created_at, updated_at)
		VALUES (:id, :employee_code, :name, :department, :is_resigned, :phone, :email, :created_at, :updated_at)`, e)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: employee code %s", ErrConflict, e.EmployeeCode)
	}
	return err
}

// GetEmployee fetches by id.
func (s *Store) GetEmployee(ctx context.Context, id uuid.UUID) (*domain.Employee, error) {
	var e domain.Employee
	err := s.db.GetContext(ctx, &e, `SELECT * FROM employees WHERE id = $1`, id)
	if err != nil {
		return nil, mapRowErr(err)
	}
	return &e, nil
}

// GetEmployeeByCode fetches by the external employee code.
func (s *Store) GetEmployeeByCode(ctx context.Context, code string) (*domain.Employee, error) {
	var e domain.Employee
	err := s.db.GetContext(ctx, &e, `SELECT * FROM employees WHERE employee_code = $1`, code)
	if err != nil {
		return nil, mapRowErr(err)
	}
	return &e, nil
}

// ListEmployees returns drivers matching the filter, code order.
func (s *Store) ListEmployees(ctx context.Context, f EmployeeFilter) ([]domain.Employee, error) {
	q := `SELECT * FROM employees WHERE 1=1`
	args := []any{}
	if f.Department != nil {
		args = append(args, *f.Department)
		q += fmt.Sprintf(" AND department = $%d", len(args))
	}
	if !f.IncludeResigned {
		q += " AND is_resigned = FALSE"
	}
	if f.Search != "" {
		args = append(args, f.Search+"%")
		q += fmt.Sprintf(" AND (employee_code LIKE $%d OR name LIKE $%d)", len(args), len(args))
	}
	q += " ORDER BY employee_code"
	var out []domain.Employee
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateEmployee patches mutable fields (name, contact, resignation).
// Department changes go through TransferEmployee only.
func (s *Store) UpdateEmployee(ctx context.Context, e *domain.Employee) error {
	e.UpdatedAt = time.Now().UTC()
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE employees
		SET name = :name, is_resigned = :is_resigned, phone = :phone, email = :email, updated_at = :updated_at
		WHERE id = :id`, e)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TransferEmployee writes the immutable transfer log entry and advances the
// employee's current department in one transaction.
func (s *Store) TransferEmployee(ctx context.Context, t *domain.Transfer) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = time.Now().UTC()
	return s.InTx(ctx, func(tx *sqlx.Tx) error {
		var current domain.Department
		if err := tx.GetContext(ctx, &current, `SELECT department FROM employees WHERE id = $1 FOR UPDATE`, t.EmployeeID); err != nil {
			return mapRowErr(err)
		}
		if current != t.FromDept {
			return fmt.Errorf("%w: employee is in %s, not %s", ErrConflict, current, t.FromDept)
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO transfers (id, employee_id, from_dept, to_dept, effective_date, reason, created_at)
			VALUES (:id, :employee_id, :from_dept, :to_dept, :effective_date, :reason, :created_at)`, t); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE employees SET department = $1, updated_at = now() WHERE id = $2`, t.ToDept, t.EmployeeID)
		return err
	})
}

// ListTransfers returns the transfer log for one employee, newest first.
func (s *Store) ListTransfers(ctx context.Context, employeeID uuid.UUID) ([]domain.Transfer, error) {
	var out []domain.Transfer
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM transfers WHERE employee_id = $1 ORDER BY effective_date DESC, created_at DESC`, employeeID)
	return out, err
}
