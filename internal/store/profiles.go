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

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
)

// CreateProfile inserts a Basic profile.
func (s *Store) CreateProfile(ctx context.Context, p *domain.Profile) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.ProfileType = domain.ProfileBasic
	p.ConversionStatus = domain.ConversionPending
	p.Version = 1
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO profiles
		    (id, department, employee_id, event_date, event_time, event_location, train_number,
		     event_title, event_description, profile_type, conversion_status, version,
		     drive_link, assessment_record_id, created_by, created_at, updated_at)
		VALUES
		    (:id, :department, :employee_id, :event_date, :event_time, :event_location, :train_number,
		     :event_title, :event_description, :profile_type, :conversion_status, :version,
		     :drive_link, :assessment_record_id, :created_by, :created_at, :updated_at)`, p)
	return err
}

// GetProfile fetches by id.
func (s *Store) GetProfile(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	var p domain.Profile
	err := s.db.GetContext(ctx, &p, `SELECT * FROM profiles WHERE id = $1`, id)
	if err != nil {
		return nil, mapRowErr(err)
	}
	return &p, nil
}

// ProfileFilter narrows profile listings.
type ProfileFilter struct {
	Department *domain.Department
	EmployeeID *uuid.UUID
	Status     *domain.ConversionStatus
	Type       *domain.ProfileType
}

// ListProfiles returns profiles matching the filter, newest event first.
func (s *Store) ListProfiles(ctx context.Context, f ProfileFilter) ([]domain.Profile, error) {
	q := `SELECT * FROM profiles WHERE 1=1`
	args := []any{}
	if f.Department != nil {
		args = append(args, *f.Department)
		q += fmt.Sprintf(" AND department = $%d", len(args))
	}
	if f.EmployeeID != nil {
		args = append(args, *f.EmployeeID)
		q += fmt.Sprintf(" AND employee_id = $%d", len(args))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		q += fmt.Sprintf(" AND conversion_status = $%d", len(args))
	}
	if f.Type != nil {
		args = append(args, *f.Type)
		q += fmt.Sprintf(" AND profile_type = $%d", len(args))
	}
	q += " ORDER BY event_date DESC, created_at DESC"
	var out []domain.Profile
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateProfileCAS rewrites mutable profile fields iff the stored version
// still equals expectedVersion, bumping the version. Mismatch → ErrConflict.
func (s *Store) UpdateProfileCAS(ctx context.Context, p *domain.Profile, expectedVersion int) error {
	p.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET event_date = $1, event_time = $2, event_location = $3, train_number = $4,
		    event_title = $5, event_description = $6, profile_type = $7,
		    conversion_status = $8, drive_link = $9, assessment_record_id = $10,
		    version = version + 1, updated_at = $11
		WHERE id = $12 AND version = $13`,
		p.EventDate, p.EventTime, p.EventLocation, p.TrainNumber,
		p.EventTitle, p.EventDescription, p.ProfileType,
		p.ConversionStatus, p.DriveLink, p.AssessmentRecordID,
		p.UpdatedAt, p.ID, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish a missing profile from a lost race.
		if _, gerr := s.GetProfile(ctx, p.ID); gerr != nil {
			return gerr
		}
		return fmt.Errorf("%w: profile version %d is stale", ErrConflict, expectedVersion)
	}
	p.Version = expectedVersion + 1
	return nil
}

// ConvertProfile performs the one-way Basic → Converted transition in one
// transaction: CAS on the profile row, the typed sub-record insert, and the
// pending-case open.
func (s *Store) ConvertProfile(ctx context.Context, p *domain.Profile, details domain.ProfileDetails, expectedVersion int) error {
	target := details.Type()
	if target == domain.ProfileBasic {
		return fmt.Errorf("%w: conversion requires a typed sub-form", ErrConflict)
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("store: sub-form payload: %w", err)
	}
	return s.InTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE profiles
			SET profile_type = $1, conversion_status = $2, version = version + 1, updated_at = now()
			WHERE id = $3 AND version = $4 AND conversion_status = $5`,
			target, domain.ConversionConverted, p.ID, expectedVersion, domain.ConversionPending)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: profile is not Basic at version %d", ErrConflict, expectedVersion)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO profile_details (profile_id, profile_type, payload) VALUES ($1, $2, $3)`,
			p.ID, target, payload); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: profile already has a sub-form", ErrConflict)
			}
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pending_cases (id, profile_id, department, profile_type, status)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), p.ID, p.Department, target, domain.PendingCaseOpen)
		if err != nil && isUniqueViolation(err) {
			return fmt.Errorf("%w: pending case already open", ErrConflict)
		}
		if err == nil {
			p.ProfileType = target
			p.ConversionStatus = domain.ConversionConverted
			p.Version = expectedVersion + 1
		}
		return err
	})
}

// GetProfileDetails loads the typed sub-record for a converted profile.
func (s *Store) GetProfileDetails(ctx context.Context, profileID uuid.UUID) (*domain.ProfileDetails, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload, `SELECT payload FROM profile_details WHERE profile_id = $1`, profileID)
	if err != nil {
		return nil, mapRowErr(err)
	}
	var d domain.ProfileDetails
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("store: sub-form payload: %w", err)
	}
	return &d, nil
}

// CompleteProfile closes the pending case and marks the profile Completed in
// one transaction.
func (s *Store) CompleteProfile(ctx context.Context, profileID uuid.UUID, driveLink string) error {
	return s.InTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE pending_cases SET status = $1, drive_link = $2, closed_at = now()
			WHERE profile_id = $3 AND status = $4`,
			domain.PendingCaseUploaded, driveLink, profileID, domain.PendingCaseOpen)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: no open pending case", ErrNotFound)
		}
		res, err = tx.ExecContext(ctx, `
			UPDATE profiles SET conversion_status = $1, drive_link = $2, version = version + 1, updated_at = now()
			WHERE id = $3 AND conversion_status = $4`,
			domain.ConversionCompleted, driveLink, profileID, domain.ConversionConverted)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: profile is not Converted", ErrConflict)
		}
		return nil
	})
}

// ResetProfile is the explicit admin action reverting a profile to Basic:
// sub-form and pending case are removed, version bumps.
func (s *Store) ResetProfile(ctx context.Context, profileID uuid.UUID) error {
	return s.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_cases WHERE profile_id = $1`, profileID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM profile_details WHERE profile_id = $1`, profileID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE profiles
			SET profile_type = $1, conversion_status = $2, drive_link = NULL,
			    version = version + 1, updated_at = now()
			WHERE id = $3`,
			domain.ProfileBasic, domain.ConversionPending, profileID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// PendingCaseFilter narrows ledger listings.
type PendingCaseFilter struct {
	Department *domain.Department
	Type       *domain.ProfileType
	Status     *domain.PendingCaseStatus
}

// ListPendingCases returns ledger entries, oldest first.
func (s *Store) ListPendingCases(ctx context.Context, f PendingCaseFilter) ([]domain.PendingCase, error) {
	q := `SELECT * FROM pending_cases WHERE 1=1`
	args := []any{}
	if f.Department != nil {
		args = append(args, *f.Department)
		q += fmt.Sprintf(" AND department = $%d", len(args))
	}
	if f.Type != nil {
		args = append(args, *f.Type)
		q += fmt.Sprintf(" AND profile_type = $%d", len(args))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	q += " ORDER BY created_at"
	var out []domain.PendingCase
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPendingCaseByProfile fetches the ledger entry for one profile.
func (s *Store) GetPendingCaseByProfile(ctx context.Context, profileID uuid.UUID) (*domain.PendingCase, error) {
	var pc domain.PendingCase
	err := s.db.GetContext(ctx, &pc, `SELECT * FROM pending_cases WHERE profile_id = $1`, profileID)
	if err != nil {
		return nil, mapRowErr(err)
	}
	return &pc, nil
}

// PendingCaseStats is the ledger statistics block.
type PendingCaseStats struct {
	Total               int                        `json:"total"`
	ByType              map[domain.ProfileType]int `json:"by_type"`
	OldestPendingDate   *time.Time                 `json:"oldest_pending_date,omitempty"`
	MonthCompletionRate float64                    `json:"month_completion_rate"`
}

// PendingCaseStatistics aggregates open cases and this-month completion rate
// for one department.
func (s *Store) PendingCaseStatistics(ctx context.Context, dept domain.Department, now time.Time) (*PendingCaseStats, error) {
	stats := &PendingCaseStats{ByType: map[domain.ProfileType]int{}}
	rows := []struct {
		ProfileType domain.ProfileType `db:"profile_type"`
		N           int                `db:"n"`
	}{}
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT profile_type, count(*) AS n FROM pending_cases
		WHERE department = $1 AND status = $2 GROUP BY profile_type`,
		dept, domain.PendingCaseOpen); err != nil {
		return nil, err
	}
	for _, r := range rows {
		stats.ByType[r.ProfileType] = r.N
		stats.Total += r.N
	}
	var oldest *time.Time
	if err := s.db.GetContext(ctx, &oldest, `
		SELECT min(created_at) FROM pending_cases WHERE department = $1 AND status = $2`,
		dept, domain.PendingCaseOpen); err != nil {
		return nil, err
	}
	stats.OldestPendingDate = oldest

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	var opened, closed int
	if err := s.db.GetContext(ctx, &opened, `
		SELECT count(*) FROM pending_cases WHERE department = $1 AND created_at >= $2`,
		dept, monthStart); err != nil {
		return nil, err
	}
	if err := s.db.GetContext(ctx, &closed, `
		SELECT count(*) FROM pending_cases
		WHERE department = $1 AND created_at >= $2 AND status = $3`,
		dept, monthStart, domain.PendingCaseUploaded); err != nil {
		return nil, err
	}
	if opened > 0 {
		stats.MonthCompletionRate = float64(closed) / float64(opened)
	}
	return stats, nil
}
