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

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/internal/profile"
	schedsync "github.com/kunpeto/driver-management-system-sub001/internal/sync"
)

type startSyncRequest struct {
	Kind       schedsync.Kind    `json:"kind"`
	Department domain.Department `json:"department"`
	Year       int               `json:"year"`
	Month      int               `json:"month"`
}

// handleStartSync enqueues a schedule pull and returns 202 with the task id.
// A concurrent request for the same (department, kind, year, month) joins the
// running task and receives the same id.
func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req startSyncRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Kind == "" {
		req.Kind = schedsync.KindAttendance
	}
	if !req.Department.Valid() {
		s.writeError(w, r, invalidRequest("unknown_department", "unknown department"))
		return
	}
	if !actor.CanWrite(req.Department) {
		s.writeError(w, r, profile.ErrForbidden)
		return
	}
	if req.Year < 2000 || req.Month < 1 || req.Month > 12 {
		s.writeError(w, r, invalidRequest("invalid_period", "year and month 1-12 are required"))
		return
	}
	id, err := s.deps.Sync.StartSync(req.Kind, req.Department, req.Year, req.Month, actor.Username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id.String()})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := uuidParam(r, "task_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	task, err := s.deps.Sync.Status(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !actor.CanRead(task.Department) {
		s.writeError(w, r, profile.ErrForbidden)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
