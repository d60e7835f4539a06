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

// Package credentials is the dual-track credential store: per-department
// Google service accounts decoded from the environment at startup, and
// per-department OAuth refresh tokens encrypted at rest with on-demand
// access-token exchange.
package credentials

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
)

var (
	// ErrNotAuthorized reports a department with no stored grant.
	ErrNotAuthorized = errors.New("credentials: department not authorized")
	// ErrUpstreamAuthFailure reports a rejection by the identity provider.
	ErrUpstreamAuthFailure = errors.New("credentials: identity provider rejected the request")
	// ErrStateInvalid reports an unknown, expired, or re-used state token.
	ErrStateInvalid = errors.New("credentials: authorization state invalid")
)

// sheetsReadOnlyScope is the only scope service accounts are granted.
const sheetsReadOnlyScope = "https://www.googleapis.com/auth/spreadsheets.readonly"

// ServiceAccounts holds the decoded per-department service-account
// credentials. The decoded JSON lives in memory only; nothing here touches
// persistent storage.
type ServiceAccounts struct {
	byDept map[domain.Department]*google.Credentials
}

// LoadServiceAccounts decodes the base64 service-account JSON per department.
// Departments absent from the map are tolerated in development; the
// production config check rejects them before this runs.
func LoadServiceAccounts(ctx context.Context, encoded map[domain.Department]string) (*ServiceAccounts, error) {
	sa := &ServiceAccounts{byDept: map[domain.Department]*google.Credentials{}}
	for dept, b64 := range encoded {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("credentials: service account for %s is not base64: %w", dept, err)
		}
		creds, err := google.CredentialsFromJSON(ctx, raw, sheetsReadOnlyScope)
		if err != nil {
			return nil, fmt.Errorf("credentials: service account for %s: %w", dept, err)
		}
		sa.byDept[dept] = creds
	}
	return sa, nil
}

// TokenSource returns the department's service-account token source.
func (s *ServiceAccounts) TokenSource(dept domain.Department) (oauth2.TokenSource, error) {
	creds, ok := s.byDept[dept]
	if !ok {
		return nil, fmt.Errorf("%w: no service account for %s", ErrNotAuthorized, dept)
	}
	return creds.TokenSource, nil
}

// Has reports whether a service account is configured for dept.
func (s *ServiceAccounts) Has(dept domain.Department) bool {
	_, ok := s.byDept[dept]
	return ok
}
