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
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kunpeto/driver-management-system-sub001/internal/assessment"
	"github.com/kunpeto/driver-management-system-sub001/internal/auth"
	"github.com/kunpeto/driver-management-system-sub001/internal/profile"
	"github.com/kunpeto/driver-management-system-sub001/internal/store"
	schedsync "github.com/kunpeto/driver-management-system-sub001/internal/sync"
	"github.com/kunpeto/driver-management-system-sub001/pkg/credentials"
	"github.com/kunpeto/driver-management-system-sub001/pkg/drive"
	"github.com/kunpeto/driver-management-system-sub001/pkg/sheets"
	"github.com/kunpeto/driver-management-system-sub001/pkg/vault"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// apiError carries an explicit status and code past the classifier.
type apiError struct {
	status  int
	code    string
	message string
	details map[string]any
}

func (e *apiError) Error() string { return e.message }

func invalidRequest(code, message string) *apiError {
	return &apiError{status: http.StatusUnprocessableEntity, code: code, message: message}
}

func rateLimited(retryAfterSeconds int) *apiError {
	return &apiError{
		status:  http.StatusTooManyRequests,
		code:    "rate_limited",
		message: "rate limit exceeded",
		details: map[string]any{"retry_after_seconds": retryAfterSeconds},
	}
}

// classify maps service errors to the wire taxonomy. Unknown errors are
// internal and never leak their text.
func classify(err error) (status int, code, message string) {
	var ae *apiError
	switch {
	case errors.As(err, &ae):
		return ae.status, ae.code, ae.message

	case errors.Is(err, profile.ErrValidation),
		errors.Is(err, assessment.ErrUnknownStandard),
		errors.Is(err, assessment.ErrChecklistRequired),
		errors.Is(err, assessment.ErrChecklistEmpty),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, credentials.ErrStateInvalid):
		return http.StatusUnprocessableEntity, "validation_failed", err.Error()

	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid username or password"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token", "missing or invalid bearer token"
	case errors.Is(err, auth.ErrTooManyAttempts):
		return http.StatusTooManyRequests, "too_many_attempts", "account temporarily locked"

	case errors.Is(err, profile.ErrForbidden):
		return http.StatusForbidden, "forbidden", "actor lacks rights on this department"

	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, sheets.ErrNotFound),
		errors.Is(err, schedsync.ErrUnknownTask):
		return http.StatusNotFound, "not_found", "resource not found"
	case errors.Is(err, credentials.ErrNotAuthorized):
		return http.StatusNotFound, "not_authorized", "department has no Google authorization"

	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", err.Error()
	case errors.Is(err, profile.ErrNotConverted),
		errors.Is(err, drive.ErrNotUploadable):
		return http.StatusConflict, "invalid_state", err.Error()

	case errors.Is(err, schedsync.ErrBusy):
		return http.StatusServiceUnavailable, "sync_busy", "sync queue is full, retry later"
	case errors.Is(err, sheets.ErrUpstreamUnavailable),
		errors.Is(err, credentials.ErrUpstreamAuthFailure):
		return http.StatusBadGateway, "upstream_unavailable", "upstream Google service unavailable"
	case errors.Is(err, sheets.ErrPermissionDenied):
		return http.StatusBadGateway, "upstream_permission_denied", "service account lacks access to the spreadsheet"

	case errors.Is(err, vault.ErrInconsistent):
		return http.StatusInternalServerError, "vault_inconsistency", "stored credential cannot be decrypted with the active key"
	}
	return http.StatusInternalServerError, "internal_error", "internal error"
}

// writeError renders the envelope and logs server-side failures.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	body := errorBody{Error: errorDetail{Code: code, Message: message}}
	var ae *apiError
	if errors.As(err, &ae) && ae.details != nil {
		body.Error.Details = ae.details
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON enforces a strict body: unknown fields are rejected so typos in
// client payloads surface as 422s instead of silent drops.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalidRequest("malformed_body", "request body is not valid JSON for this endpoint: "+err.Error())
	}
	return nil
}
