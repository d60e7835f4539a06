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

	"github.com/go-chi/chi/v5"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/internal/httpapi/helpercontract"
	"github.com/kunpeto/driver-management-system-sub001/internal/profile"
)

// handleSettingValue serves the frozen single-value contract consumed by the
// desktop helper. The response shape lives in helpercontract and never
// changes.
func (s *Server) handleSettingValue(w http.ResponseWriter, r *http.Request) {
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
	key := chi.URLParam(r, "key")
	setting, err := s.deps.Dir.GetSetting(r.Context(), dept, key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, helpercontract.SettingValueResponse{
		Key:        setting.Key,
		Department: string(setting.Department),
		Value:      setting.Value,
	})
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
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
	settings, err := s.deps.Dir.ListSettings(r.Context(), dept)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

type putSettingRequest struct {
	Department domain.Department `json:"department"`
	Key        string            `json:"key"`
	Value      string            `json:"value"`
}

// handlePutSetting upserts a per-department setting. Admin only: settings
// steer the helper's Drive and Sheets targets.
func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if actor.Role != domain.RoleAdmin {
		s.writeError(w, r, profile.ErrForbidden)
		return
	}
	var req putSettingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !req.Department.Valid() || req.Key == "" {
		s.writeError(w, r, invalidRequest("invalid_setting", "department and key are required"))
		return
	}
	setting := &domain.Setting{Department: req.Department, Key: req.Key, Value: req.Value}
	if err := s.deps.Dir.PutSetting(r.Context(), setting); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setting)
}
