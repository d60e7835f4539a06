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

package httpapi

import (
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kunpeto/driver-management-system-sub001/internal/assessment"
	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/internal/profile"
	"github.com/kunpeto/driver-management-system-sub001/internal/store"
)

func (s *Server) handleListStandards(w http.ResponseWriter, r *http.Request) {
	standards, err := s.deps.Dir.ListStandards(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, standards)
}

type createRecordRequest struct {
	Department   domain.Department      `json:"department"`
	EmployeeID   uuid.UUID              `json:"employee_id"`
	StandardCode string                 `json:"standard_code"`
	EventDate    time.Time              `json:"event_date"`
	Checklist    *domain.FaultChecklist `json:"fault_checklist,omitempty"`
	ProfileID    *uuid.UUID             `json:"profile_id,omitempty"`
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createRecordRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !req.Department.Valid() {
		s.writeError(w, r, invalidRequest("unknown_department", "unknown department"))
		return
	}
	if !actor.CanWrite(req.Department) {
		s.writeError(w, r, profile.ErrForbidden)
		return
	}
	if req.EmployeeID == uuid.Nil || req.StandardCode == "" || req.EventDate.IsZero() {
		s.writeError(w, r, invalidRequest("missing_fields", "employee_id, standard_code, and event_date are required"))
		return
	}
	rec, err := s.deps.Scoring.ApplyRecord(r.Context(), assessment.Draft{
		Department:   req.Department,
		EmployeeID:   req.EmployeeID,
		StandardCode: req.StandardCode,
		EventDate:    req.EventDate,
		Checklist:    req.Checklist,
		ProfileID:    req.ProfileID,
		Actor:        actor.Username,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dept, err := readableDept(r, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	year, err := intQuery(r, "year", s.now().Year())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	month, err := intQuery(r, "month", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f := store.RecordFilter{Department: &dept, Year: year, Month: month}
	if raw := r.URL.Query().Get("employee_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.writeError(w, r, invalidRequest("invalid_employee_id", "employee_id is not a UUID"))
			return
		}
		f.EmployeeID = &id
	}
	records, err := s.deps.Dir.ListRecords(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.deps.Dir.GetRecord(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !actor.CanRead(rec.Department) {
		s.writeError(w, r, profile.ErrForbidden)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.deps.Dir.GetRecord(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !actor.CanWrite(rec.Department) {
		s.writeError(w, r, profile.ErrForbidden)
		return
	}
	if err := s.deps.Scoring.DeleteRecord(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type faultResponsibilityRequest struct {
	Checklist domain.FaultChecklist `json:"fault_checklist"`
}

func (s *Server) handleFaultResponsibility(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.deps.Dir.GetRecord(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !actor.CanWrite(rec.Department) {
		s.writeError(w, r, profile.ErrForbidden)
		return
	}
	var req faultResponsibilityRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.deps.Scoring.ReplaceChecklist(r.Context(), id, req.Checklist)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type bonusProcessRequest struct {
	Department domain.Department `json:"department"`
	Year       int               `json:"year"`
	Month      int               `json:"month"`
	DryRun     bool              `json:"dry_run"`
}

func (s *Server) handleAttendanceBonus(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req bonusProcessRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !req.Department.Valid() || req.Month < 1 || req.Month > 12 || req.Year < 2000 {
		s.writeError(w, r, invalidRequest("invalid_period", "department, year, and month 1-12 are required"))
		return
	}
	if !actor.CanWrite(req.Department) {
		s.writeError(w, r, profile.ErrForbidden)
		return
	}
	result, err := s.deps.Bonus.Process(r.Context(), req.Department, req.Year, req.Month, req.DryRun, actor.Username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type rewardProcessRequest struct {
	Department domain.Department `json:"department"`
	Year       int               `json:"year"`
	Month      int               `json:"month"`
}

func (s *Server) handleMonthlyRewards(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req rewardProcessRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !req.Department.Valid() || req.Month < 1 || req.Month > 12 || req.Year < 2000 {
		s.writeError(w, r, invalidRequest("invalid_period", "department, year, and month 1-12 are required"))
		return
	}
	if !actor.CanWrite(req.Department) {
		s.writeError(w, r, profile.ErrForbidden)
		return
	}
	result, err := s.deps.Rewards.Process(r.Context(), req.Department, req.Year, req.Month, actor.Username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// drivingStats is the dashboard aggregation of one month's records.
type drivingStats struct {
	Department   domain.Department      `json:"department"`
	Year         int                    `json:"year"`
	Month        int                    `json:"month"`
	TotalRecords int                    `json:"total_records"`
	ByCategory   map[string]int         `json:"by_category"`
	Employees    []drivingEmployeeStats `json:"employees"`
}

type drivingEmployeeStats struct {
	EmployeeID  uuid.UUID       `json:"employee_id"`
	RecordCount int             `json:"record_count"`
	NetPoints   decimal.Decimal `json:"net_points"`
}

func (s *Server) handleDrivingStats(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dept, err := readableDept(r, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	now := s.now()
	year, err := intQuery(r, "year", now.Year())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	month, err := intQuery(r, "month", int(now.Month()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if month < 1 || month > 12 {
		s.writeError(w, r, invalidRequest("invalid_month", "month must be 1-12"))
		return
	}

	records, err := s.deps.Dir.ListRecords(r.Context(), store.RecordFilter{
		Department: &dept, Year: year, Month: month,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	stats := drivingStats{
		Department:   dept,
		Year:         year,
		Month:        month,
		TotalRecords: len(records),
		ByCategory:   map[string]int{},
		Employees:    []drivingEmployeeStats{},
	}
	perEmployee := map[uuid.UUID]*drivingEmployeeStats{}
	for _, rec := range records {
		stats.ByCategory[string(rec.CategoryCode)]++
		es := perEmployee[rec.EmployeeID]
		if es == nil {
			es = &drivingEmployeeStats{EmployeeID: rec.EmployeeID}
			perEmployee[rec.EmployeeID] = es
		}
		es.RecordCount++
		es.NetPoints = es.NetPoints.Add(rec.FinalPoints)
	}
	for _, es := range perEmployee {
		stats.Employees = append(stats.Employees, *es)
	}
	sort.Slice(stats.Employees, func(i, j int) bool {
		return stats.Employees[i].EmployeeID.String() < stats.Employees[j].EmployeeID.String()
	})
	writeJSON(w, http.StatusOK, stats)
}
