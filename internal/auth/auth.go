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

// Package auth issues and verifies the platform's bearer tokens. Passwords
// are bcrypt hashes; tokens are HS256 JWTs with a short-lived access token
// and a week-long refresh token. Repeated failed logins lock the username
// out for a cool-down period.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/internal/store"
)

const (
	// BcryptCost is the adaptive hash cost for stored passwords.
	BcryptCost = 12

	accessTTL  = 30 * time.Minute
	refreshTTL = 7 * 24 * time.Hour

	// lockout posture: lockThreshold failures inside lockWindow lock the
	// username for lockDuration.
	lockThreshold = 10
	lockWindow    = 10 * time.Minute
	lockDuration  = 15 * time.Minute

	minPasswordLen = 8

	issuer = "driver-management"
)

var (
	// ErrInvalidCredentials reports a bad username/password pair.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrTooManyAttempts reports a locked-out username.
	ErrTooManyAttempts = errors.New("auth: too many failed attempts")
	// ErrInvalidToken reports a missing, malformed, expired, or mistyped
	// token.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrWeakPassword reports a rejected new password.
	ErrWeakPassword = fmt.Errorf("auth: password must be at least %d characters", minPasswordLen)
)

// token type discriminator carried in the "typ" claim.
const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// UserStore is the persistence surface. *store.Store satisfies it.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}

// Claims is the verified content of a bearer token.
type Claims struct {
	UserID     uuid.UUID
	Role       domain.Role
	Department *domain.Department
	TokenType  string
	ExpiresAt  time.Time
}

// attemptLog tracks recent failures for one username.
type attemptLog struct {
	failures    []time.Time
	lockedUntil time.Time
}

// Service is the auth core.
type Service struct {
	users UserStore
	key   jwk.Key
	log   *zap.Logger
	now   func() time.Time

	mu       sync.Mutex
	attempts map[string]*attemptLog
}

// NewService wires the auth core around the shared API secret.
func NewService(users UserStore, secret string, logger *zap.Logger) (*Service, error) {
	if secret == "" {
		return nil, errors.New("auth: empty signing secret")
	}
	key, err := jwk.Import([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("auth: import signing key: %w", err)
	}
	return &Service{
		users:    users,
		key:      key,
		log:      logger.Named("auth"),
		now:      time.Now,
		attempts: map[string]*attemptLog{},
	}, nil
}

// HashPassword produces the stored bcrypt hash for a new password.
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

// LoginResult is the successful login payload.
type LoginResult struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         *domain.User `json:"user"`
}

// Login checks the password and issues the token pair. Failed attempts feed
// the per-username lockout.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if err := s.checkLocked(username); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn a comparison so unknown and known usernames take
			// comparable time.
			_ = bcrypt.CompareHashAndPassword([]byte("$2a$12$000000000000000000000uGZLKJxEnUCc8Owg0j0D6U5fBDWorDS6"), []byte(password))
			s.recordFailure(username)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.recordFailure(username)
		return nil, ErrInvalidCredentials
	}
	s.clearFailures(username)

	access, err := s.sign(user, typeAccess, accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(user, typeRefresh, refreshTTL)
	if err != nil {
		return nil, err
	}
	s.log.Info("login", zap.String("username", username), zap.String("role", string(user.Role)))
	return &LoginResult{AccessToken: access, RefreshToken: refresh, User: user}, nil
}

// Refresh trades a live refresh token for a new access token. The user row
// is re-read so role or department changes take effect immediately.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.Verify(refreshToken)
	if err != nil {
		return "", err
	}
	if claims.TokenType != typeRefresh {
		return "", fmt.Errorf("%w: not a refresh token", ErrInvalidToken)
	}
	user, err := s.users.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", err
	}
	return s.sign(user, typeAccess, accessTTL)
}

// ChangePassword reauthenticates with the old password before storing the
// new hash.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return err
	}
	s.log.Info("password changed", zap.String("username", user.Username))
	return nil
}

// Verify parses and validates a token of either type.
func (s *Service) Verify(token string) (*Claims, error) {
	tok, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256(), s.key),
		jwt.WithIssuer(issuer),
		jwt.WithClock(jwt.ClockFunc(s.now)),
		jwt.WithValidate(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, ok := tok.Subject()
	if !ok {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	uid, err := uuid.Parse(sub)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed subject", ErrInvalidToken)
	}
	claims := &Claims{UserID: uid}

	var role string
	if err := tok.Get("role", &role); err != nil {
		return nil, fmt.Errorf("%w: missing role", ErrInvalidToken)
	}
	claims.Role = domain.Role(role)

	var typ string
	if err := tok.Get("typ", &typ); err != nil {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidToken)
	}
	claims.TokenType = typ

	var dept string
	if err := tok.Get("dept", &dept); err == nil && dept != "" {
		d := domain.Department(dept)
		claims.Department = &d
	}

	if exp, ok := tok.Expiration(); ok {
		claims.ExpiresAt = exp
	}
	return claims, nil
}

// VerifyAccess is Verify restricted to access tokens.
func (s *Service) VerifyAccess(token string) (*Claims, error) {
	claims, err := s.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != typeAccess {
		return nil, fmt.Errorf("%w: not an access token", ErrInvalidToken)
	}
	return claims, nil
}

func (s *Service) sign(user *domain.User, typ string, ttl time.Duration) (string, error) {
	now := s.now().UTC()
	builder := jwt.NewBuilder().
		Issuer(issuer).
		Subject(user.ID.String()).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim("role", string(user.Role)).
		Claim("typ", typ)
	if user.Department != nil {
		builder = builder.Claim("dept", string(*user.Department))
	}
	tok, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("auth: build token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), s.key))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return string(signed), nil
}

func (s *Service) checkLocked(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[username]
	if !ok {
		return nil
	}
	if s.now().Before(a.lockedUntil) {
		return ErrTooManyAttempts
	}
	return nil
}

func (s *Service) recordFailure(username string) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[username]
	if !ok {
		a = &attemptLog{}
		s.attempts[username] = a
	}
	cutoff := now.Add(-lockWindow)
	kept := a.failures[:0]
	for _, t := range a.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	a.failures = append(kept, now)
	if len(a.failures) >= lockThreshold {
		a.lockedUntil = now.Add(lockDuration)
		a.failures = nil
		s.log.Warn("username locked out", zap.String("username", username))
	}
}

func (s *Service) clearFailures(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, username)
}

var _ UserStore = (*store.Store)(nil)
