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
	"github.com/kunpeto/driver-management-system-sub001/pkg/credentials"
)

// writableDeptBody resolves and authorizes the department named in a mutation
// body. Grant management is a write operation on the department.
func writableDeptBody(actor *domain.User, raw domain.Department) (domain.Department, error) {
	if !raw.Valid() {
		return "", invalidRequest("unknown_department", "unknown department "+string(raw))
	}
	if !actor.CanWrite(raw) {
		return "", profile.ErrForbidden
	}
	return raw, nil
}

func (s *Server) handleGoogleAuthURL(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dept, err := writableDeptBody(actor, domain.Department(r.URL.Query().Get("department")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	authURL, state, err := s.deps.Google.BeginAuthorization(dept)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"auth_url": authURL, "state": state})
}

// handleGoogleCallback receives the provider redirect. It is unauthenticated
// by necessity (the browser arrives without a bearer token); the single-use
// state parameter binds the code to a session this service started.
func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		s.writeError(w, r, credentials.ErrStateInvalid)
		return
	}
	dept, err := s.deps.Google.FinalizeAuthorization(r.Context(), state, code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"department": dept, "authorized": true})
}

type googleDeptRequest struct {
	Department domain.Department `json:"department"`
}

// handleGoogleAccessToken hands the desktop helper a short-lived access
// token. The refresh token never leaves the vault.
func (s *Server) handleGoogleAccessToken(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req googleDeptRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !req.Department.Valid() {
		s.writeError(w, r, invalidRequest("unknown_department", "unknown department"))
		return
	}
	if !actor.CanRead(req.Department) {
		s.writeError(w, r, profile.ErrForbidden)
		return
	}
	token, err := s.deps.Google.AcquireAccessToken(r.Context(), req.Department)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "Bearer"})
}

func (s *Server) handleGoogleRevoke(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req googleDeptRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	dept, err := writableDeptBody(actor, req.Department)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Google.Revoke(r.Context(), dept); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGoogleStatus(w http.ResponseWriter, r *http.Request) {
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
	authorized, email, err := s.deps.Google.Status(r.Context(), dept)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"department": dept,
		"authorized": authorized,
		"email":      email,
	})
}
