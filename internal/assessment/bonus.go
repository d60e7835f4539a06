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

package assessment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/internal/schedule"
	"github.com/kunpeto/driver-management-system-sub001/internal/store"
	"github.com/kunpeto/driver-management-system-sub001/pkg/metrics"
)

// Attendance bonus codes derived from raw roster cells.
const (
	CodeFullMonth        = "+M01"
	CodeRShiftDuty       = "+A01"
	CodeHolidayRShift    = "+A02"
	codeOvertimePrefix   = "+A0" // +A03..+A06 index by overtime hours
)

// overtimeCode maps the (+N) component to its bonus standard.
func overtimeCode(n int) string {
	// +1→+A03 … +4→+A06
	return fmt.Sprintf("%s%d", codeOvertimePrefix, n+2)
}

// BonusStorage is the persistence surface of the attendance bonus engine and
// the monthly reward pass.
type BonusStorage interface {
	GetStandard(ctx context.Context, code string) (*domain.Standard, error)
	ListEmployees(ctx context.Context, f store.EmployeeFilter) ([]domain.Employee, error)
	ListDepartmentMonth(ctx context.Context, dept domain.Department, year, month int) ([]domain.ScheduleCell, error)
	ListRecords(ctx context.Context, f store.RecordFilter) ([]domain.AssessmentRecord, error)
	HasIdempotencyKey(ctx context.Context, key string) (bool, error)
	InsertAssessmentRecord(ctx context.Context, rec *domain.AssessmentRecord) error
}

// BonusEngine derives +M/+A records from a month of parsed schedules.
type BonusEngine struct {
	storage BonusStorage
	log     *zap.Logger
}

// NewBonusEngine builds the attendance bonus engine.
func NewBonusEngine(storage BonusStorage, logger *zap.Logger) *BonusEngine {
	return &BonusEngine{storage: storage, log: logger.Named("bonus")}
}

// BonusResult summarizes one run.
type BonusResult struct {
	Department domain.Department `json:"department"`
	Year       int               `json:"year"`
	Month      int               `json:"month"`
	DryRun     bool              `json:"dry_run"`
	Created    map[string]int    `json:"created"`  // by standard code
	Skipped    []string          `json:"skipped"`  // idempotency keys already present
	Warnings   []string          `json:"warnings"` // per-employee anomalies; run continues
}

// IdempotencyKey derives the stable key for one proposed record. datePart is
// the ISO date for per-day records or "M" for whole-month records.
func IdempotencyKey(dept domain.Department, employeeCode string, year, month int, datePart, code string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%02d|%s|%s", dept, employeeCode, year, month, datePart, code)))
	return hex.EncodeToString(h[:])
}

// Process derives the month's attendance bonuses for one department.
// Proposals whose idempotency key already exists are counted as skipped, so a
// re-run emits nothing new. With dryRun the proposals are returned unwritten.
func (b *BonusEngine) Process(ctx context.Context, dept domain.Department, year, month int, dryRun bool, actor string) (*BonusResult, error) {
	cells, err := b.storage.ListDepartmentMonth(ctx, dept, year, month)
	if err != nil {
		return nil, err
	}
	employees, err := b.storage.ListEmployees(ctx, store.EmployeeFilter{Department: &dept, IncludeResigned: true})
	if err != nil {
		return nil, err
	}
	codeByID := make(map[uuid.UUID]string, len(employees))
	for _, e := range employees {
		codeByID[e.ID] = e.EmployeeCode
	}

	res := &BonusResult{Department: dept, Year: year, Month: month, DryRun: dryRun, Created: map[string]int{}}

	byEmployee := map[uuid.UUID][]domain.ScheduleCell{}
	for _, c := range cells {
		byEmployee[c.EmployeeID] = append(byEmployee[c.EmployeeID], c)
	}

	for empID, empCells := range byEmployee {
		empCode, ok := codeByID[empID]
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("schedule cells for unknown employee %s", empID))
			continue
		}

		type proposal struct {
			code     string
			datePart string
			date     time.Time
		}
		var proposals []proposal

		fullMonth := true
		for _, cell := range empCells {
			tok := schedule.Parse(cell.RawText)
			day := cell.WorkDate.Format("2006-01-02")
			if tok.IsLeave() {
				fullMonth = false
			}
			switch tok.Kind {
			case schedule.RShift:
				proposals = append(proposals, proposal{CodeRShiftDuty, day, cell.WorkDate})
			case schedule.NationalHolidayRShift:
				proposals = append(proposals, proposal{CodeHolidayRShift, day, cell.WorkDate})
			}
			if tok.HasOvertime() {
				proposals = append(proposals, proposal{overtimeCode(tok.Overtime), day, cell.WorkDate})
			}
		}
		if fullMonth && len(empCells) > 0 {
			proposals = append(proposals, proposal{CodeFullMonth, "M", time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)})
		}

		for _, p := range proposals {
			key := IdempotencyKey(dept, empCode, year, month, p.datePart, p.code)
			exists, err := b.storage.HasIdempotencyKey(ctx, key)
			if err != nil {
				return nil, err
			}
			if exists {
				res.Skipped = append(res.Skipped, key)
				continue
			}
			if dryRun {
				res.Created[p.code]++
				continue
			}
			std, err := b.storage.GetStandard(ctx, p.code)
			if err != nil {
				return nil, fmt.Errorf("bonus standard %s: %w", p.code, err)
			}
			rec := &domain.AssessmentRecord{
				Department:           dept,
				EmployeeID:           empID,
				StandardCode:         std.Code,
				CategoryCode:         std.CategoryCode,
				EventDate:            p.date,
				BasePoints:           std.BasePoints,
				CumulativeMultiplier: one(),
				FinalPoints:          domain.RoundPoints(std.BasePoints),
				IdempotencyKey:       &key,
				FormulaVersion:       domain.FormulaV2,
				CreatedBy:            actor,
			}
			if err := b.storage.InsertAssessmentRecord(ctx, rec); err != nil {
				if errors.Is(err, store.ErrConflict) {
					// Lost a race with a concurrent run; same outcome as the
					// pre-check.
					res.Skipped = append(res.Skipped, key)
					continue
				}
				return nil, err
			}
			res.Created[p.code]++
			metrics.BonusRecords.WithLabelValues(p.code).Inc()
		}
	}

	b.log.Info("attendance bonus processed",
		zap.String("department", string(dept)),
		zap.Int("year", year), zap.Int("month", month),
		zap.Bool("dry_run", dryRun),
		zap.Int("skipped", len(res.Skipped)))
	return res, nil
}
