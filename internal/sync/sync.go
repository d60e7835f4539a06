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

// Package sync pulls monthly schedule tabs from Google Sheets into the
// schedule store. Tasks run on a fixed worker pool; concurrent requests for
// the same (department, kind, year, month) tuple coalesce onto one task.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/internal/store"
	"github.com/kunpeto/driver-management-system-sub001/pkg/metrics"
	"github.com/kunpeto/driver-management-system-sub001/pkg/sheets"
)

// Kind names the sync variety. Both read the monthly roster tab; the kind
// distinguishes the scheduled attendance pull from on-demand duty pulls in
// task listings and coalescing.
type Kind string

const (
	KindAttendance Kind = "attendance"
	KindDuty       Kind = "duty"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == KindAttendance || k == KindDuty }

// Status is the task lifecycle state.
type Status string

const (
	StatusPending             Status = "pending"
	StatusRunning             Status = "running"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
	StatusCancelled           Status = "cancelled"
)

// Terminal reports whether the task has finished.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// maxErrors bounds the per-task error list.
const maxErrors = 50

var (
	// ErrBusy reports a saturated worker queue.
	ErrBusy = errors.New("sync: worker queue full")
	// ErrUnknownTask reports a task id the registry has never seen.
	ErrUnknownTask = errors.New("sync: unknown task")
)

// CellError records one cell that could not be stored.
type CellError struct {
	Row     int    `json:"row"`
	Column  int    `json:"column"`
	Code    string `json:"employee_code,omitempty"`
	Date    string `json:"date,omitempty"`
	Message string `json:"message"`
}

// Task is a point-in-time snapshot of a sync task.
type Task struct {
	ID           uuid.UUID         `json:"id"`
	Kind         Kind              `json:"kind"`
	Department   domain.Department `json:"department"`
	Year         int               `json:"year"`
	Month        int               `json:"month"`
	Status       Status            `json:"status"`
	ProgressPct  int               `json:"progress_pct"`
	TotalCells   int               `json:"total_cells"`
	SuccessCount int               `json:"success_count"`
	ErrorCount   int               `json:"error_count"`
	Errors       []CellError       `json:"errors,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	BatchID      uuid.UUID         `json:"batch_id"`
	Actor        string            `json:"actor"`
	SubmittedAt  time.Time         `json:"submitted_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
}

// CellStore is the persistence surface the orchestrator writes through.
// *store.Store satisfies it.
type CellStore interface {
	UpsertScheduleCell(ctx context.Context, c *domain.ScheduleCell) error
	GetEmployeeByCode(ctx context.Context, code string) (*domain.Employee, error)
}

type coalesceKey struct {
	dept  domain.Department
	kind  Kind
	year  int
	month int
}

// task is the registry's mutable record; snapshots copy it under the lock.
type task struct {
	snap   Task
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Options tunes the pool. Zero values take the defaults.
type Options struct {
	Workers   int // default 4
	QueueSize int // default 16
	// Retention bounds how long finished tasks stay queryable through
	// Status before eviction. Default 1h.
	Retention time.Duration
}

// Orchestrator owns the task registry and the worker pool.
type Orchestrator struct {
	cells        CellStore
	reader       sheets.Reader
	spreadsheets map[domain.Department]string
	retention    time.Duration
	log          *zap.Logger

	mu       sync.Mutex
	tasks    map[uuid.UUID]*task
	inflight map[coalesceKey]uuid.UUID

	queue   chan uuid.UUID
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New builds the orchestrator and starts its workers.
func New(cells CellStore, reader sheets.Reader, spreadsheets map[domain.Department]string, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cells:        cells,
		reader:       reader,
		spreadsheets: spreadsheets,
		retention:    opts.Retention,
		log:          logger.Named("sync"),
		tasks:        map[uuid.UUID]*task{},
		inflight:     map[coalesceKey]uuid.UUID{},
		queue:        make(chan uuid.UUID, opts.QueueSize),
		baseCtx:      ctx,
		stop:         cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	return o
}

// Shutdown stops accepting work and waits for running tasks to wind down.
func (o *Orchestrator) Shutdown() {
	o.stop()
	o.wg.Wait()
}

// StartSync submits a task, or returns the id of the running task for the
// same tuple. Saturation returns ErrBusy.
func (o *Orchestrator) StartSync(kind Kind, dept domain.Department, year, month int, actor string) (uuid.UUID, error) {
	if !kind.Valid() {
		return uuid.Nil, fmt.Errorf("sync: unknown kind %q", kind)
	}
	if !dept.Valid() {
		return uuid.Nil, fmt.Errorf("sync: unknown department %q", dept)
	}
	if month < 1 || month > 12 {
		return uuid.Nil, fmt.Errorf("sync: month %d out of range", month)
	}

	key := coalesceKey{dept: dept, kind: kind, year: year, month: month}

	o.mu.Lock()
	o.pruneLocked(time.Now().UTC())
	if id, ok := o.inflight[key]; ok {
		o.mu.Unlock()
		return id, nil
	}
	taskCtx, cancel := context.WithCancel(o.baseCtx)
	t := &task{
		ctx: taskCtx,
		snap: Task{
			ID:          uuid.New(),
			Kind:        kind,
			Department:  dept,
			Year:        year,
			Month:       month,
			Status:      StatusPending,
			BatchID:     uuid.New(),
			Actor:       actor,
			SubmittedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	o.tasks[t.snap.ID] = t
	o.inflight[key] = t.snap.ID
	o.mu.Unlock()

	select {
	case o.queue <- t.snap.ID:
		return t.snap.ID, nil
	default:
		o.mu.Lock()
		delete(o.tasks, t.snap.ID)
		delete(o.inflight, key)
		o.mu.Unlock()
		cancel()
		return uuid.Nil, ErrBusy
	}
}

// StartAll submits one task per department, in declaration order.
func (o *Orchestrator) StartAll(kind Kind, year, month int, actor string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, dept := range domain.Departments() {
		if _, ok := o.spreadsheets[dept]; !ok {
			continue
		}
		id, err := o.StartSync(kind, dept, year, month, actor)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// pruneLocked evicts terminal tasks older than the retention window so the
// registry stays bounded in a long-running process. Callers hold o.mu.
func (o *Orchestrator) pruneLocked(now time.Time) {
	for id, t := range o.tasks {
		if !t.snap.Status.Terminal() || t.snap.FinishedAt == nil {
			continue
		}
		if now.Sub(*t.snap.FinishedAt) > o.retention {
			delete(o.tasks, id)
		}
	}
}

// Status returns a snapshot of the task.
func (o *Orchestrator) Status(id uuid.UUID) (Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[id]
	if !ok {
		return Task{}, ErrUnknownTask
	}
	return t.snapshotLocked(), nil
}

// Await blocks until the task reaches a terminal state or the timeout lapses.
func (o *Orchestrator) Await(id uuid.UUID, timeout time.Duration) (Task, error) {
	o.mu.Lock()
	t, ok := o.tasks[id]
	o.mu.Unlock()
	if !ok {
		return Task{}, ErrUnknownTask
	}
	select {
	case <-t.done:
	case <-time.After(timeout):
		return Task{}, fmt.Errorf("sync: task %s still running after %s", id, timeout)
	}
	return o.Status(id)
}

// Cancel requests cancellation; the task notices between cells.
func (o *Orchestrator) Cancel(id uuid.UUID) error {
	o.mu.Lock()
	t, ok := o.tasks[id]
	o.mu.Unlock()
	if !ok {
		return ErrUnknownTask
	}
	t.cancel()
	return nil
}

func (t *task) snapshotLocked() Task {
	snap := t.snap
	snap.Errors = append([]CellError(nil), t.snap.Errors...)
	return snap
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.baseCtx.Done():
			return
		case id := <-o.queue:
			o.run(id)
		}
	}
}

// TabName resolves the monthly roster tab: ROC year (Gregorian − 1911) plus
// the zero-padded month.
func TabName(year, month int) string {
	return fmt.Sprintf("%d%02d班表", year-1911, month)
}

func (o *Orchestrator) run(id uuid.UUID) {
	o.mu.Lock()
	t, ok := o.tasks[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	t.snap.Status = StatusRunning
	t.snap.StartedAt = &now
	snap := t.snap
	o.mu.Unlock()

	final, reason := o.execute(t.ctx, t, snap)

	o.mu.Lock()
	fin := time.Now().UTC()
	t.snap.Status = final
	t.snap.Reason = reason
	t.snap.FinishedAt = &fin
	if final == StatusCompleted || final == StatusCompletedWithErrors {
		t.snap.ProgressPct = 100
	}
	delete(o.inflight, coalesceKey{dept: snap.Department, kind: snap.Kind, year: snap.Year, month: snap.Month})
	o.mu.Unlock()
	metrics.SyncTasks.WithLabelValues(string(snap.Department), string(final)).Inc()
	close(t.done)

	o.log.Info("sync task finished",
		zap.String("task_id", id.String()),
		zap.String("department", string(snap.Department)),
		zap.String("status", string(final)))
}

func (o *Orchestrator) execute(ctx context.Context, t *task, snap Task) (Status, string) {
	spreadsheetID, ok := o.spreadsheets[snap.Department]
	if !ok {
		return StatusFailed, fmt.Sprintf("no spreadsheet configured for %s", snap.Department)
	}
	tab := TabName(snap.Year, snap.Month)
	rows, err := o.reader.ReadTab(ctx, snap.Department, spreadsheetID, tab)
	if err != nil {
		return StatusFailed, fmt.Sprintf("read tab %s: %v", tab, err)
	}

	grid, err := parseGrid(rows, snap.Year, snap.Month)
	if err != nil {
		return StatusFailed, err.Error()
	}

	o.mu.Lock()
	t.snap.TotalCells = len(grid.cells)
	o.mu.Unlock()
	if len(grid.cells) == 0 {
		return StatusCompleted, ""
	}

	codes := map[string]uuid.UUID{}
	processed := 0
	for _, cell := range grid.cells {
		select {
		case <-ctx.Done():
			return StatusCancelled, "cancelled"
		default:
		}
		processed++

		empID, found := codes[cell.code]
		if !found {
			emp, err := o.cells.GetEmployeeByCode(ctx, cell.code)
			if err != nil {
				o.recordError(t, processed, CellError{
					Row: cell.row, Column: cell.col, Code: cell.code,
					Date:    cell.date.Format("2006-01-02"),
					Message: fmt.Sprintf("employee lookup: %v", err),
				})
				continue
			}
			empID = emp.ID
			codes[cell.code] = empID
		}

		err := o.cells.UpsertScheduleCell(ctx, &domain.ScheduleCell{
			Department:  snap.Department,
			EmployeeID:  empID,
			WorkDate:    cell.date,
			RawText:     cell.raw,
			SyncBatchID: snap.BatchID,
		})
		if err != nil {
			o.recordError(t, processed, CellError{
				Row: cell.row, Column: cell.col, Code: cell.code,
				Date:    cell.date.Format("2006-01-02"),
				Message: err.Error(),
			})
			continue
		}

		o.mu.Lock()
		t.snap.SuccessCount++
		t.snap.ProgressPct = processed * 100 / len(grid.cells)
		o.mu.Unlock()
		metrics.SyncCells.WithLabelValues(string(snap.Department), "success").Inc()
	}

	o.mu.Lock()
	errCount := t.snap.ErrorCount
	o.mu.Unlock()
	if errCount > 0 {
		return StatusCompletedWithErrors, ""
	}
	return StatusCompleted, ""
}

func (o *Orchestrator) recordError(t *task, processed int, ce CellError) {
	o.mu.Lock()
	t.snap.ErrorCount++
	if len(t.snap.Errors) < maxErrors {
		t.snap.Errors = append(t.snap.Errors, ce)
	}
	if t.snap.TotalCells > 0 {
		t.snap.ProgressPct = processed * 100 / t.snap.TotalCells
	}
	dept := t.snap.Department
	o.mu.Unlock()
	metrics.SyncCells.WithLabelValues(string(dept), "error").Inc()
}

// gridCell is one (employee, date) cell located in the tab.
type gridCell struct {
	row, col int
	code     string
	date     time.Time
	raw      string
}

type grid struct {
	cells []gridCell
}

// codeHeader marks the employee-code column in the header row.
const codeHeader = "員工編號"

// parseGrid locates the header row, the employee-code column, and the
// day-number columns, then walks the employee rows. Cells for days the month
// does not have are ignored; blank cells are kept (they mean NoShift).
func parseGrid(rows [][]string, year, month int) (*grid, error) {
	headerRow, codeCol := -1, -1
	for i, row := range rows {
		for j, cell := range row {
			if strings.TrimSpace(cell) == codeHeader {
				headerRow, codeCol = i, j
				break
			}
		}
		if headerRow >= 0 {
			break
		}
	}
	if headerRow < 0 {
		return nil, fmt.Errorf("sync: header row with %q not found", codeHeader)
	}

	daysInMonth := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	type dayCol struct {
		col  int
		date time.Time
	}
	var dayCols []dayCol
	for j, cell := range rows[headerRow] {
		if j <= codeCol {
			continue
		}
		day, err := strconv.Atoi(strings.TrimSpace(cell))
		if err != nil || day < 1 || day > daysInMonth {
			continue
		}
		dayCols = append(dayCols, dayCol{col: j, date: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)})
	}
	if len(dayCols) == 0 {
		return nil, errors.New("sync: no day columns in header row")
	}

	g := &grid{}
	for i := headerRow + 1; i < len(rows); i++ {
		row := rows[i]
		if codeCol >= len(row) {
			continue
		}
		code := strings.TrimSpace(row[codeCol])
		if !domain.ValidEmployeeCode(code) {
			continue
		}
		for _, dc := range dayCols {
			raw := ""
			if dc.col < len(row) {
				raw = strings.TrimSpace(row[dc.col])
			}
			g.cells = append(g.cells, gridCell{row: i, col: dc.col, code: code, date: dc.date, raw: raw})
		}
	}
	return g, nil
}

var _ CellStore = (*store.Store)(nil)
