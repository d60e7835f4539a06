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
	"mime"
	"net/http"

	"github.com/google/uuid"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/internal/profile"
	"github.com/kunpeto/driver-management-system-sub001/internal/store"
)

const docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in profile.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.deps.Profiles.Create(r.Context(), in, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
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
	f := store.ProfileFilter{Department: &dept}
	if raw := r.URL.Query().Get("employee_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.writeError(w, r, invalidRequest("invalid_employee_id", "employee_id is not a UUID"))
			return
		}
		f.EmployeeID = &id
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.ConversionStatus(raw)
		f.Status = &status
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		t := domain.ProfileType(raw)
		if !t.Valid() {
			s.writeError(w, r, invalidRequest("invalid_type", "unknown profile type "+raw))
			return
		}
		f.Type = &t
	}
	profiles, err := s.deps.Profiles.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

// loadReadableProfile is the shared fetch + read-authorization step of the
// single-profile endpoints.
func (s *Server) loadReadableProfile(r *http.Request) (*domain.Profile, *domain.User, error) {
	actor, err := s.actor(r)
	if err != nil {
		return nil, nil, err
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		return nil, nil, err
	}
	p, err := s.deps.Profiles.Get(r.Context(), id)
	if err != nil {
		return nil, nil, err
	}
	if !actor.CanRead(p.Department) {
		return nil, nil, profile.ErrForbidden
	}
	return p, actor, nil
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, _, err := s.loadReadableProfile(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleProfileDetails(w http.ResponseWriter, r *http.Request) {
	p, _, err := s.loadReadableProfile(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	details, err := s.deps.Profiles.Details(r.Context(), p.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

type updateProfileRequest struct {
	Version int `json:"version"`
	profile.UpdateInput
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
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
	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.deps.Profiles.Update(r.Context(), id, req.UpdateInput, req.Version, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type convertProfileRequest struct {
	Version int                   `json:"version"`
	Details domain.ProfileDetails `json:"details"`
}

func (s *Server) handleConvertProfile(w http.ResponseWriter, r *http.Request) {
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
	var req convertProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.deps.Profiles.Convert(r.Context(), id, req.Details, req.Version, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGenerateDocument(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if retry, ok := s.docGenLimiter.take(actor.ID.String()); !ok {
		s.writeError(w, r, rateLimited(retry))
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, filename, err := s.deps.Profiles.GenerateDocument(r.Context(), id, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", docxContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handlePrepareUpload(w http.ResponseWriter, r *http.Request) {
	p, _, err := s.loadReadableProfile(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	emp, err := s.deps.Dir.GetEmployee(r.Context(), p.EmployeeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Uploads.PrepareUpload(p, emp.EmployeeCode))
}

type completeProfileRequest struct {
	DriveLink string `json:"drive_link"`
}

func (s *Server) handleCompleteProfile(w http.ResponseWriter, r *http.Request) {
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
	p, err := s.deps.Profiles.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !actor.CanWrite(p.Department) {
		s.writeError(w, r, profile.ErrForbidden)
		return
	}
	var req completeProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Uploads.MarkCompleted(r.Context(), id, req.DriveLink, actor.Username); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetProfile(w http.ResponseWriter, r *http.Request) {
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
	if err := s.deps.Profiles.Reset(r.Context(), id, actor); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPendingCases(w http.ResponseWriter, r *http.Request) {
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
	f := store.PendingCaseFilter{Department: &dept}
	if raw := r.URL.Query().Get("type"); raw != "" {
		t := domain.ProfileType(raw)
		f.Type = &t
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.PendingCaseStatus(raw)
		f.Status = &status
	}
	cases, err := s.deps.Profiles.ListCases(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cases)
}

func (s *Server) handlePendingCaseStats(w http.ResponseWriter, r *http.Request) {
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
	stats, err := s.deps.Profiles.CaseStats(r.Context(), dept)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
