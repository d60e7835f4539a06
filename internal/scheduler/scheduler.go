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

// Package scheduler owns the recurring background jobs: the daily schedule
// pull, the monthly reward derivation, and the yearly counter close. Jobs
// run through the same services the HTTP surface uses, so a cron firing
// while an operator triggers the same work joins the running task instead
// of duplicating it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kunpeto/driver-management-system-sub001/internal/assessment"
	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	schedsync "github.com/kunpeto/driver-management-system-sub001/internal/sync"
)

// Fixed specs for the month- and year-boundary jobs. The daily sync spec is
// operator-configurable; these two are tied to the scoring calendar.
const (
	monthlyRewardsSpec = "0 1 1 * *"
	yearlyCloseSpec    = "0 0 1 1 *"
)

// jobTimeout bounds one background run end to end.
const jobTimeout = 10 * time.Minute

// actorSystem marks records and tasks created by the scheduler.
const actorSystem = "system"

// SyncStarter enqueues schedule pulls for every configured department.
// *schedsync.Orchestrator satisfies it.
type SyncStarter interface {
	StartAll(kind schedsync.Kind, year, month int, actor string) ([]uuid.UUID, error)
}

// RewardRunner derives the monthly reward records.
// *assessment.RewardEngine satisfies it.
type RewardRunner interface {
	Process(ctx context.Context, dept domain.Department, year, month int, actor string) (*assessment.RewardResult, error)
}

// YearCloser archives a year's cumulative counters. *assessment.Engine
// satisfies it.
type YearCloser interface {
	CloseYear(ctx context.Context, priorYear int) error
}

// Scheduler wires the cron entries.
type Scheduler struct {
	cron    *cron.Cron
	syncs   SyncStarter
	rewards RewardRunner
	closer  YearCloser
	log     *zap.Logger
	now     func() time.Time
}

// New builds the scheduler. Call Register before Start.
func New(syncs SyncStarter, rewards RewardRunner, closer YearCloser, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		syncs:   syncs,
		rewards: rewards,
		closer:  closer,
		log:     logger.Named("scheduler"),
		now:     time.Now,
	}
}

// Register adds the three entries. dailySyncSpec comes from configuration;
// a malformed spec fails startup rather than silently never firing.
func (s *Scheduler) Register(dailySyncSpec string) error {
	if _, err := s.cron.AddFunc(dailySyncSpec, s.RunDailySync); err != nil {
		return fmt.Errorf("scheduler: daily sync spec %q: %w", dailySyncSpec, err)
	}
	if _, err := s.cron.AddFunc(monthlyRewardsSpec, s.RunMonthlyRewards); err != nil {
		return fmt.Errorf("scheduler: monthly rewards spec: %w", err)
	}
	if _, err := s.cron.AddFunc(yearlyCloseSpec, s.RunYearlyClose); err != nil {
		return fmt.Errorf("scheduler: yearly close spec: %w", err)
	}
	return nil
}

// Start begins firing entries.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunDailySync pulls the current month's attendance tab for every
// department. A queue-full response is expected pressure, not a fault.
func (s *Scheduler) RunDailySync() {
	now := s.now()
	ids, err := s.syncs.StartAll(schedsync.KindAttendance, now.Year(), int(now.Month()), actorSystem)
	if err != nil {
		if errors.Is(err, schedsync.ErrBusy) {
			s.log.Warn("daily sync skipped, queue full")
			return
		}
		s.log.Error("daily sync failed to start", zap.Error(err))
		return
	}
	s.log.Info("daily sync started",
		zap.Int("tasks", len(ids)),
		zap.Int("year", now.Year()), zap.Int("month", int(now.Month())))
}

// RunMonthlyRewards derives +M02/+M03 for the month that just closed, for
// every department. One department's failure does not block the other.
func (s *Scheduler) RunMonthlyRewards() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	year, month := priorMonth(s.now())
	for _, dept := range domain.Departments() {
		res, err := s.rewards.Process(ctx, dept, year, month, actorSystem)
		if err != nil {
			s.log.Error("monthly rewards failed",
				zap.String("department", string(dept)),
				zap.Int("year", year), zap.Int("month", month),
				zap.Error(err))
			continue
		}
		s.log.Info("monthly rewards done",
			zap.String("department", string(dept)),
			zap.Any("created", res.Created))
	}
}

// RunYearlyClose archives the counters of the year that just ended.
func (s *Scheduler) RunYearlyClose() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	prior := s.now().Year() - 1
	if err := s.closer.CloseYear(ctx, prior); err != nil {
		s.log.Error("yearly counter close failed", zap.Int("year", prior), zap.Error(err))
		return
	}
	s.log.Info("yearly counters closed", zap.Int("year", prior))
}

// priorMonth returns the calendar month before now's, handling the January
// wrap.
func priorMonth(now time.Time) (year, month int) {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	prev := first.AddDate(0, -1, 0)
	return prev.Year(), int(prev.Month())
}
