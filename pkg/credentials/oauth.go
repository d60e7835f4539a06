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

package credentials

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
	"go.uber.org/zap"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/internal/store"
	"github.com/kunpeto/driver-management-system-sub001/pkg/metrics"
	"github.com/kunpeto/driver-management-system-sub001/pkg/vault"
)

// stateTTL bounds how long a begun authorization may remain un-finalized.
const stateTTL = 10 * time.Minute

// expirySkew refreshes access tokens slightly before their hard expiry.
const expirySkew = time.Minute

// TokenStore is the persistence surface for OAuth rows. *store.Store
// satisfies it.
type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, t *domain.OAuthTokenRecord) error
	GetOAuthToken(ctx context.Context, dept domain.Department) (*domain.OAuthTokenRecord, error)
	UpdateOAuthAccessToken(ctx context.Context, dept domain.Department, cipher string, expiresAt time.Time) error
	DeleteOAuthToken(ctx context.Context, dept domain.Department) error
}

// Exchanger talks to the identity provider. The production implementation
// wraps oauth2.Config; tests substitute a recorder.
type Exchanger interface {
	AuthCodeURL(state string) string
	// Exchange swaps an authorization code for tokens plus the authorized
	// account email.
	Exchange(ctx context.Context, code string) (*oauth2.Token, string, error)
	// Refresh swaps a refresh token for a fresh access token.
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// OAuthConfig configures the production exchanger.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// Timeout bounds each outbound call. Default 30s.
	Timeout time.Duration
}

// googleExchanger is the oauth2.Config-backed Exchanger.
type googleExchanger struct {
	cfg     *oauth2.Config
	timeout time.Duration
}

// NewGoogleExchanger builds the production identity-provider client.
func NewGoogleExchanger(c OAuthConfig) Exchanger {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return &googleExchanger{
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURI,
			Endpoint:     googleoauth.Endpoint,
			Scopes: []string{
				"https://www.googleapis.com/auth/drive.file",
				"https://www.googleapis.com/auth/userinfo.email",
			},
		},
		timeout: c.Timeout,
	}
}

func (g *googleExchanger) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (g *googleExchanger) Exchange(ctx context.Context, code string) (*oauth2.Token, string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	tok, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUpstreamAuthFailure, err)
	}
	// Email is best-effort; the grant works without it.
	email, _ := tok.Extra("email").(string)
	return tok, email, nil
}

func (g *googleExchanger) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	src := g.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamAuthFailure, err)
	}
	return tok, nil
}

type pendingState struct {
	dept      domain.Department
	expiresAt time.Time
}

// OAuthManager owns the per-department OAuth token lifecycle. Refreshes are
// coalesced per department: at most one identity-provider call in flight per
// tenant, all concurrent callers share its result.
type OAuthManager struct {
	tokens    TokenStore
	vault     *vault.Vault
	exchanger Exchanger
	log       *zap.Logger

	group  singleflight.Group
	mu     sync.Mutex
	states map[string]pendingState
	now    func() time.Time
}

// NewOAuthManager wires the manager.
func NewOAuthManager(tokens TokenStore, v *vault.Vault, ex Exchanger, logger *zap.Logger) *OAuthManager {
	return &OAuthManager{
		tokens:    tokens,
		vault:     v,
		exchanger: ex,
		log:       logger.Named("oauth"),
		states:    map[string]pendingState{},
		now:       time.Now,
	}
}

// BeginAuthorization generates a department-bound state token and the
// provider consent URL.
func (m *OAuthManager) BeginAuthorization(dept domain.Department) (authURL, state string, err error) {
	if !dept.Valid() {
		return "", "", fmt.Errorf("%w: unknown department %q", ErrStateInvalid, dept)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("credentials: state token: %w", err)
	}
	state = base64.URLEncoding.EncodeToString(buf)

	m.mu.Lock()
	m.pruneLocked()
	m.states[state] = pendingState{dept: dept, expiresAt: m.now().Add(stateTTL)}
	m.mu.Unlock()

	return m.exchanger.AuthCodeURL(state), state, nil
}

// FinalizeAuthorization exchanges the authorization code, encrypts the
// refresh token, and upserts the department row. The state token is
// single-use: unknown, expired, or re-used states are rejected.
func (m *OAuthManager) FinalizeAuthorization(ctx context.Context, state, code string) (domain.Department, error) {
	m.mu.Lock()
	ps, ok := m.states[state]
	if ok {
		delete(m.states, state) // single use
	}
	m.mu.Unlock()
	if !ok || m.now().After(ps.expiresAt) {
		return "", ErrStateInvalid
	}

	tok, email, err := m.exchanger.Exchange(ctx, code)
	if err != nil {
		return "", err
	}
	if tok.RefreshToken == "" {
		return "", fmt.Errorf("%w: provider returned no refresh token", ErrUpstreamAuthFailure)
	}

	refreshCipher, err := m.vault.EncryptString(tok.RefreshToken)
	if err != nil {
		return "", err
	}
	row := &domain.OAuthTokenRecord{
		Department:         ps.dept,
		RefreshTokenCipher: refreshCipher,
		AuthorizedEmail:    email,
	}
	if tok.AccessToken != "" && !tok.Expiry.IsZero() {
		accessCipher, err := m.vault.EncryptString(tok.AccessToken)
		if err != nil {
			return "", err
		}
		row.AccessTokenCipher = &accessCipher
		exp := tok.Expiry.UTC()
		row.AccessExpiresAt = &exp
	}
	if err := m.tokens.UpsertOAuthToken(ctx, row); err != nil {
		return "", err
	}
	m.log.Info("oauth grant stored", zap.String("department", string(ps.dept)))
	return ps.dept, nil
}

// AcquireAccessToken returns a valid access token for the department,
// refreshing through the identity provider when the cached one is absent or
// expiring. Concurrent callers coalesce onto a single refresh per
// department.
func (m *OAuthManager) AcquireAccessToken(ctx context.Context, dept domain.Department) (string, error) {
	row, err := m.tokens.GetOAuthToken(ctx, dept)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotAuthorized
		}
		return "", err
	}
	if tok, ok, err := m.cachedAccessToken(row); err != nil {
		return "", err
	} else if ok {
		return tok, nil
	}

	v, err, _ := m.group.Do(string(dept), func() (any, error) {
		// Re-read inside the flight: a racing caller may have refreshed
		// between our check and the coalesced call.
		row, err := m.tokens.GetOAuthToken(ctx, dept)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrNotAuthorized
			}
			return nil, err
		}
		if tok, ok, err := m.cachedAccessToken(row); err != nil {
			return nil, err
		} else if ok {
			return tok, nil
		}

		refresh, err := m.vault.DecryptString(row.RefreshTokenCipher)
		if err != nil {
			return nil, err // vault.ErrInconsistent; fatal, admin-visible
		}
		tok, err := m.exchanger.Refresh(ctx, refresh)
		if err != nil {
			metrics.OAuthRefreshes.WithLabelValues(string(dept), "failure").Inc()
			return nil, err
		}
		metrics.OAuthRefreshes.WithLabelValues(string(dept), "success").Inc()
		cipher, err := m.vault.EncryptString(tok.AccessToken)
		if err != nil {
			return nil, err
		}
		expiry := tok.Expiry.UTC()
		if tok.Expiry.IsZero() {
			expiry = m.now().Add(time.Hour).UTC()
		}
		if err := m.tokens.UpdateOAuthAccessToken(ctx, dept, cipher, expiry); err != nil {
			return nil, err
		}
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Revoke deletes the department grant.
func (m *OAuthManager) Revoke(ctx context.Context, dept domain.Department) error {
	if err := m.tokens.DeleteOAuthToken(ctx, dept); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotAuthorized
		}
		return err
	}
	return nil
}

// Status reports whether a grant exists and its authorized account.
func (m *OAuthManager) Status(ctx context.Context, dept domain.Department) (authorized bool, email string, err error) {
	row, err := m.tokens.GetOAuthToken(ctx, dept)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, "", nil
		}
		return false, "", err
	}
	return true, row.AuthorizedEmail, nil
}

// cachedAccessToken decrypts and returns the stored access token when it is
// still comfortably inside its validity window.
func (m *OAuthManager) cachedAccessToken(row *domain.OAuthTokenRecord) (string, bool, error) {
	if row.AccessTokenCipher == nil || row.AccessExpiresAt == nil {
		return "", false, nil
	}
	if !m.now().Add(expirySkew).Before(*row.AccessExpiresAt) {
		return "", false, nil
	}
	tok, err := m.vault.DecryptString(*row.AccessTokenCipher)
	if err != nil {
		return "", false, err
	}
	return tok, true, nil
}

func (m *OAuthManager) pruneLocked() {
	now := m.now()
	for s, ps := range m.states {
		if now.After(ps.expiresAt) {
			delete(m.states, s)
		}
	}
}
