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
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/internal/profile"
	"github.com/kunpeto/driver-management-system-sub001/internal/store"
)

// uuidParam parses a path UUID.
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, invalidRequest("invalid_id", "path id is not a UUID")
	}
	return id, nil
}

// readableDept resolves the department query for a list endpoint. Staff
// default to their own department and may not name another; managers and
// admins must name one explicitly.
func readableDept(r *http.Request, actor *domain.User) (domain.Department, error) {
	raw := r.URL.Query().Get("department")
	if raw == "" {
		if actor.Role == domain.RoleStaff && actor.Department != nil {
			return *actor.Department, nil
		}
		return "", invalidRequest("department_required", "department query parameter is required")
	}
	dept := domain.Department(raw)
	if !dept.Valid() {
		return "", invalidRequest("unknown_department", "unknown department "+raw)
	}
	if !actor.CanRead(dept) {
		return "", profile.ErrForbidden
	}
	return dept, nil
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidRequest("invalid_"+name, name+" must be an integer")
	}
	return n, nil
}

func (s *Server) handleListEmployees(w http.ResponseWriter, r *http.Request) {
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
	f := store.EmployeeFilter{
		Department:      &dept,
		IncludeResigned: r.URL.Query().Get("include_resigned") == "true",
		Search:          r.URL.Query().Get("search"),
	}
	employees, err := s.deps.Dir.ListEmployees(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, employees)
}

type createEmployeeRequest struct {
	EmployeeCode string            `json:"employee_code"`
	Name         string            `json:"name"`
	Department   domain.Department `json:"department"`
	Phone        *string           `json:"phone,omitempty"`
	Email        *string           `json:"email,omitempty"`
}

func (s *Server) handleCreateEmployee(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createEmployeeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !domain.ValidEmployeeCode(req.EmployeeCode) {
		s.writeError(w, r, invalidRequest("invalid_employee_code", "employee code must match the YYMM + letter + serial format"))
		return
	}
	if req.Name == "" {
		s.writeError(w, r, invalidRequest("missing_name", "name is required"))
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
	emp := &domain.Employee{
		EmployeeCode: req.EmployeeCode,
		Name:         req.Name,
		Department:   req.Department,
		Phone:        req.Phone,
		Email:        req.Email,
	}
	if err := s.deps.Dir.CreateEmployee(r.Context(), emp); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, emp)
}

func (s *Server) handleGetEmployee(w http.ResponseWriter, r *http.Request) {
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
	emp, err := s.deps.Dir.GetEmployee(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !actor.CanRead(emp.Department) {
		s.writeError(w, r, profile.ErrForbidden)
		return
	}
	writeJSON(w, http.StatusOK, emp)
}

type updateEmployeeRequest struct {
	Name       *string `json:"name,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Email      *string `json:"email,omitempty"`
	IsResigned *bool   `json:"is_resigned,omitempty"`
}

func (s *Server) handleUpdateEmployee(w http.ResponseWriter, r *http.Request) {
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
	var req updateEmployeeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	emp, err := s.deps.Dir.GetEmployee(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !actor.CanWrite(emp.Department) {
		s.writeError(w, r, profile.ErrForbidden)
		return
	}
	if req.Name != nil {
		if *req.Name == "" {
			s.writeError(w, r, invalidRequest("missing_name", "name cannot be emptied"))
			return
		}
		emp.Name = *req.Name
	}
	if req.Phone != nil {
		emp.Phone = req.Phone
	}
	if req.Email != nil {
		emp.Email = req.Email
	}
	if req.IsResigned != nil {
		emp.IsResigned = *req.IsResigned
	}
	if err := s.deps.Dir.UpdateEmployee(r.Context(), emp); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emp)
}

type transferRequest struct {
	ToDept        domain.Department `json:"to_dept"`
	EffectiveDate time.Time         `json:"effective_date"`
	Reason        string            `json:"reason"`
}

// handleTransferEmployee commits a transfer log entry and advances the
// employee's department. Transfers cross the tenant boundary, so only
// admins may perform them.
func (s *Server) handleTransferEmployee(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if actor.Role != domain.RoleAdmin {
		s.writeError(w, r, profile.ErrForbidden)
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !req.ToDept.Valid() {
		s.writeError(w, r, invalidRequest("unknown_department", "unknown target department"))
		return
	}
	emp, err := s.deps.Dir.GetEmployee(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if emp.Department == req.ToDept {
		s.writeError(w, r, invalidRequest("same_department", "employee is already in "+string(req.ToDept)))
		return
	}
	t := &domain.Transfer{
		EmployeeID:    id,
		FromDept:      emp.Department,
		ToDept:        req.ToDept,
		EffectiveDate: req.EffectiveDate,
		Reason:        req.Reason,
	}
	if err := s.deps.Dir.TransferEmployee(r.Context(), t); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
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
	emp, err := s.deps.Dir.GetEmployee(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !actor.CanRead(emp.Department) {
		s.writeError(w, r, profile.ErrForbidden)
		return
	}
	transfers, err := s.deps.Dir.ListTransfers(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}
