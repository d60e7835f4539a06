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
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/internal/store"
	"github.com/kunpeto/driver-management-system-sub001/pkg/metrics"
)

// Monthly reward codes derived from the month's deduction records. +M01 is
// schedule-based and owned by the bonus engine; it is never emitted here.
const (
	CodeNoSafetyEvents = "+M02"
	CodeNoDeductions   = "+M03"
)

// RewardEngine derives +M02/+M03 for a (department, year, month).
type RewardEngine struct {
	storage BonusStorage
	log     *zap.Logger
}

// NewRewardEngine builds the monthly reward pass.
func NewRewardEngine(storage BonusStorage, logger *zap.Logger) *RewardEngine {
	return &RewardEngine{storage: storage, log: logger.Named("rewards")}
}

// RewardResult summarizes one run.
type RewardResult struct {
	Department domain.Department `json:"department"`
	Year       int               `json:"year"`
	Month      int               `json:"month"`
	Created    map[string]int    `json:"created"`
	Skipped    []string          `json:"skipped"`
}

// Process evaluates every active employee of the department for the month:
// +M02 when no R or S category records exist, +M03 when no deduction-category
// records exist at all. Insertion is idempotent via the month-keyed key.
func (r *RewardEngine) Process(ctx context.Context, dept domain.Department, year, month int, actor string) (*RewardResult, error) {
	employees, err := r.storage.ListEmployees(ctx, store.EmployeeFilter{Department: &dept})
	if err != nil {
		return nil, err
	}
	records, err := r.storage.ListRecords(ctx, store.RecordFilter{Department: &dept, Year: year, Month: month})
	if err != nil {
		return nil, err
	}

	type monthFacts struct {
		hasSafety    bool // R or S
		hasDeduction bool // any of D/W/O/S/R
	}
	facts := map[string]*monthFacts{}
	for _, rec := range records {
		f := facts[rec.EmployeeID.String()]
		if f == nil {
			f = &monthFacts{}
			facts[rec.EmployeeID.String()] = f
		}
		if rec.CategoryCode == domain.CategoryR || rec.CategoryCode == domain.CategoryS {
			f.hasSafety = true
		}
		if rec.CategoryCode.IsDeduction() {
			f.hasDeduction = true
		}
	}

	res := &RewardResult{Department: dept, Year: year, Month: month, Created: map[string]int{}}
	eventDate := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)

	for _, emp := range employees {
		f := facts[emp.ID.String()]
		var codes []string
		if f == nil || !f.hasSafety {
			codes = append(codes, CodeNoSafetyEvents)
		}
		if f == nil || !f.hasDeduction {
			codes = append(codes, CodeNoDeductions)
		}
		for _, code := range codes {
			key := IdempotencyKey(dept, emp.EmployeeCode, year, month, "M", code)
			exists, err := r.storage.HasIdempotencyKey(ctx, key)
			if err != nil {
				return nil, err
			}
			if exists {
				res.Skipped = append(res.Skipped, key)
				continue
			}
			std, err := r.storage.GetStandard(ctx, code)
			if err != nil {
				return nil, fmt.Errorf("reward standard %s: %w", code, err)
			}
			rec := &domain.AssessmentRecord{
				Department:           dept,
				EmployeeID:           emp.ID,
				StandardCode:         std.Code,
				CategoryCode:         std.CategoryCode,
				EventDate:            eventDate,
				BasePoints:           std.BasePoints,
				CumulativeMultiplier: one(),
				FinalPoints:          domain.RoundPoints(std.BasePoints),
				IdempotencyKey:       &key,
				FormulaVersion:       domain.FormulaV2,
				CreatedBy:            actor,
			}
			if err := r.storage.InsertAssessmentRecord(ctx, rec); err != nil {
				if errors.Is(err, store.ErrConflict) {
					res.Skipped = append(res.Skipped, key)
					continue
				}
				return nil, err
			}
			res.Created[code]++
			metrics.BonusRecords.WithLabelValues(code).Inc()
		}
	}

	r.log.Info("monthly rewards processed",
		zap.String("department", string(dept)),
		zap.Int("year", year), zap.Int("month", month))
	return res, nil
}

func one() decimal.Decimal { return decimal.NewFromInt(1) }
