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

// Package assessment implements the scoring core: the rule-driven scoring
// engine with cumulative aggravation, the schedule-driven attendance bonus
// derivation, and the monthly reward pass.
//
// All point arithmetic is decimal; values round half away from zero to one
// decimal place at every persistence boundary. The cumulative counter row
// for (employee, category, year) is the serialization point: everything that
// reads or writes a triple's rank order runs under its row lock.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/internal/store"
	"github.com/kunpeto/driver-management-system-sub001/pkg/metrics"
)

var (
	// ErrUnknownStandard reports a draft referencing no catalog row.
	ErrUnknownStandard = errors.New("assessment: unknown standard code")
	// ErrChecklistRequired reports an r-fault draft without the 9-flag
	// checklist.
	ErrChecklistRequired = errors.New("assessment: r-fault record requires a fault checklist")
	// ErrChecklistEmpty reports a checklist with zero raised flags; such a
	// record is nonsensical and rejected.
	ErrChecklistEmpty = errors.New("assessment: fault checklist has no flags set")
)

// Storage is the persistence surface the engine needs. *store.Store
// satisfies it; tests substitute an in-memory fake.
type Storage interface {
	GetStandard(ctx context.Context, code string) (*domain.Standard, error)
	GetEmployee(ctx context.Context, id uuid.UUID) (*domain.Employee, error)
	GetRecord(ctx context.Context, id uuid.UUID) (*domain.AssessmentRecord, error)
	WithCounterLocked(ctx context.Context, emp uuid.UUID, cat domain.CategoryCode, year int, fn func(c store.CounterTx) error) error
	CloseYearCounters(ctx context.Context, year int) (int64, error)
}

// Engine applies assessment standards to produce scored records.
type Engine struct {
	storage Storage
	log     *zap.Logger
}

// NewEngine builds the scoring engine.
func NewEngine(storage Storage, logger *zap.Logger) *Engine {
	return &Engine{storage: storage, log: logger.Named("scoring")}
}

// Draft is the input to ApplyRecord.
type Draft struct {
	Department   domain.Department
	EmployeeID   uuid.UUID
	StandardCode string
	EventDate    time.Time
	Checklist    *domain.FaultChecklist
	ProfileID    *uuid.UUID
	Actor        string
}

// FaultCoefficient maps the number of raised checklist flags to the
// responsibility coefficient: 1–3 minor (0.3), 4–6 major (0.7), 7–9 full
// (1.0). Zero flags is rejected upstream.
func FaultCoefficient(setFlags int) decimal.Decimal {
	switch {
	case setFlags >= 7:
		return decimal.NewFromFloat(1.0)
	case setFlags >= 4:
		return decimal.NewFromFloat(0.7)
	default:
		return decimal.NewFromFloat(0.3)
	}
}

// CumulativeMultiplier returns 1 + 0.5 × (n − 1) for the n-th occurrence.
func CumulativeMultiplier(n int) decimal.Decimal {
	return decimal.NewFromInt(1).Add(decimal.NewFromFloat(0.5).Mul(decimal.NewFromInt(int64(n - 1))))
}

// ApplyRecord scores and persists one draft. The insert and the counter
// bump commit in one transaction under the counter row lock.
func (e *Engine) ApplyRecord(ctx context.Context, draft Draft) (*domain.AssessmentRecord, error) {
	std, err := e.storage.GetStandard(ctx, draft.StandardCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStandard, draft.StandardCode)
		}
		return nil, err
	}
	if _, err := e.storage.GetEmployee(ctx, draft.EmployeeID); err != nil {
		return nil, err
	}

	var coef *decimal.Decimal
	if std.IsRFaultType {
		if draft.Checklist == nil {
			return nil, ErrChecklistRequired
		}
		k := draft.Checklist.SetCount()
		if k == 0 {
			return nil, ErrChecklistEmpty
		}
		c := FaultCoefficient(k)
		coef = &c
	}

	rec := &domain.AssessmentRecord{
		Department:     draft.Department,
		EmployeeID:     draft.EmployeeID,
		StandardCode:   std.Code,
		CategoryCode:   std.CategoryCode,
		EventDate:      draft.EventDate,
		BasePoints:     std.BasePoints,
		FaultCoefficient: coef,
		ProfileID:      draft.ProfileID,
		FormulaVersion: domain.FormulaV2,
		Checklist:      draft.Checklist,
		CreatedBy:      draft.Actor,
	}

	year := draft.EventDate.Year()
	err = e.storage.WithCounterLocked(ctx, draft.EmployeeID, std.CategoryCode, year, func(c store.CounterTx) error {
		mult := decimal.NewFromInt(1)
		if std.HasCumulative {
			mult = CumulativeMultiplier(c.Count() + 1)
		}
		rec.CumulativeMultiplier = mult
		rec.FinalPoints = finalPoints(std.BasePoints, coef, mult)
		if err := c.InsertRecord(rec); err != nil {
			return err
		}
		if std.HasCumulative {
			return c.SetCount(c.Count() + 1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ScoringOps.WithLabelValues("apply").Inc()
	e.log.Info("record scored",
		zap.String("standard", std.Code),
		zap.String("employee", draft.EmployeeID.String()),
		zap.String("final_points", rec.FinalPoints.String()))
	return rec, nil
}

// DeleteRecord soft-deletes a record and recomputes the multipliers of every
// later live record in its (employee, category, year) triple so that rank
// order stays consistent.
func (e *Engine) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	rec, err := e.storage.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if rec.DeletedAt != nil {
		return nil // already deleted; idempotent
	}
	year := rec.EventDate.Year()
	err = e.storage.WithCounterLocked(ctx, rec.EmployeeID, rec.CategoryCode, year, func(c store.CounterTx) error {
		if err := c.SoftDelete(id, time.Now().UTC()); err != nil {
			return err
		}
		return e.recomputeTriple(ctx, c)
	})
	if err != nil {
		return err
	}
	metrics.ScoringOps.WithLabelValues("delete").Inc()
	return nil
}

// ReplaceChecklist swaps the fault-responsibility checklist on an r-fault
// record and rescores it in place. Rank and multiplier are unchanged; only
// the coefficient and final points move.
func (e *Engine) ReplaceChecklist(ctx context.Context, id uuid.UUID, checklist domain.FaultChecklist) (*domain.AssessmentRecord, error) {
	rec, err := e.storage.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	std, err := e.storage.GetStandard(ctx, rec.StandardCode)
	if err != nil {
		return nil, err
	}
	if !std.IsRFaultType {
		return nil, fmt.Errorf("%w: %s is not an r-fault standard", ErrChecklistRequired, std.Code)
	}
	k := checklist.SetCount()
	if k == 0 {
		return nil, ErrChecklistEmpty
	}
	coef := FaultCoefficient(k)
	year := rec.EventDate.Year()
	err = e.storage.WithCounterLocked(ctx, rec.EmployeeID, rec.CategoryCode, year, func(c store.CounterTx) error {
		final := finalPoints(rec.BasePoints, &coef, rec.CumulativeMultiplier)
		rec.FaultCoefficient = &coef
		rec.FinalPoints = final
		rec.Checklist = &checklist
		return c.UpdateScore(rec.ID, rec.CumulativeMultiplier, final)
	})
	if err != nil {
		return nil, err
	}
	metrics.ScoringOps.WithLabelValues("replace_checklist").Inc()
	return rec, nil
}

// MoveRecordDate handles a profile event-date change on a linked record.
// Within one year the record is re-ranked in place; across a year boundary
// it leaves the old year's counter (later records recompute) and joins the
// new year's at its date rank.
func (e *Engine) MoveRecordDate(ctx context.Context, id uuid.UUID, newDate time.Time) error {
	rec, err := e.storage.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	oldYear, newYear := rec.EventDate.Year(), newDate.Year()

	if oldYear == newYear {
		return e.storage.WithCounterLocked(ctx, rec.EmployeeID, rec.CategoryCode, oldYear, func(c store.CounterTx) error {
			if err := c.Detach(id, newDate); err != nil {
				return err
			}
			return e.recomputeTriple(ctx, c)
		})
	}

	// Old year first: the record's date moves out of the old range, then the
	// remaining records re-rank. The new year recomputes in a second
	// transaction; cell order is always old-then-new to keep lock acquisition
	// consistent.
	err = e.storage.WithCounterLocked(ctx, rec.EmployeeID, rec.CategoryCode, oldYear, func(c store.CounterTx) error {
		if err := c.Detach(id, newDate); err != nil {
			return err
		}
		return e.recomputeTriple(ctx, c)
	})
	if err != nil {
		return err
	}
	return e.storage.WithCounterLocked(ctx, rec.EmployeeID, rec.CategoryCode, newYear, func(c store.CounterTx) error {
		return e.recomputeTriple(ctx, c)
	})
}

// CloseYear archives the prior year's counters. New-year counters start at
// zero lazily on first use.
func (e *Engine) CloseYear(ctx context.Context, priorYear int) error {
	n, err := e.storage.CloseYearCounters(ctx, priorYear)
	if err != nil {
		return err
	}
	e.log.Info("yearly counters closed", zap.Int("year", priorYear), zap.Int64("rows", n))
	return nil
}

// recomputeTriple re-ranks the live cumulative records of the locked triple
// in event-date order and rewrites multiplier, final points, and the counter.
// Records of non-cumulative standards keep multiplier 1.0 and do not occupy
// a rank. Legacy V1 rows are excluded by ListLive.
func (e *Engine) recomputeTriple(ctx context.Context, c store.CounterTx) error {
	live, err := c.ListLive()
	if err != nil {
		return err
	}
	rank := 0
	for _, rec := range live {
		std, err := e.storage.GetStandard(ctx, rec.StandardCode)
		if err != nil {
			return err
		}
		if !std.HasCumulative {
			continue
		}
		rank++
		mult := CumulativeMultiplier(rank)
		if mult.Equal(rec.CumulativeMultiplier) {
			continue
		}
		final := finalPoints(rec.BasePoints, rec.FaultCoefficient, mult)
		if err := c.UpdateScore(rec.ID, mult, final); err != nil {
			return err
		}
	}
	return c.SetCount(rank)
}

// finalPoints computes base × coef × multiplier rounded half away from zero
// to one decimal place. A nil coefficient multiplies as 1.0.
func finalPoints(base decimal.Decimal, coef *decimal.Decimal, mult decimal.Decimal) decimal.Decimal {
	v := base
	if coef != nil {
		v = v.Mul(*coef)
	}
	return domain.RoundPoints(v.Mul(mult))
}
