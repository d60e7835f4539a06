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

package auth_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kunpeto/driver-management-system-sub001/internal/auth"
	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/internal/store"
)

type fakeUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]domain.User
}

func newFakeUsers() *fakeUsers { return &fakeUsers{users: map[uuid.UUID]domain.User{}} }

// add stores a user with a MinCost hash; comparison works regardless of the
// cost the hash was generated with.
func (f *fakeUsers) add(username, password string, role domain.Role, dept *domain.Department) domain.User {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	u := domain.User{ID: uuid.New(), Username: username, PasswordHash: string(hash), Role: role, Department: dept}
	f.mu.Lock()
	f.users[u.ID] = u
	f.mu.Unlock()
	return u
}

func (f *fakeUsers) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			out := u
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeUsers) GetUser(_ context.Context, id uuid.UUID) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := u
	return &out, nil
}

func (f *fakeUsers) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = hash
	f.users[id] = u
	return nil
}

var _ = Describe("Auth Core", func() {
	var (
		ctx   context.Context
		users *fakeUsers
		svc   *auth.Service
		clock time.Time
	)

	dept := domain.DepartmentTanhai

	BeforeEach(func() {
		ctx = context.Background()
		users = newFakeUsers()
		var err error
		svc, err = auth.NewService(users, "test-secret-for-signing-tokens", zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		clock = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
		svc.SetNow(func() time.Time { return clock })
	})

	Describe("Login", func() {
		It("issues a verifiable token pair", func() {
			u := users.add("staff1", "correct-horse", domain.RoleStaff, &dept)

			res, err := svc.Login(ctx, "staff1", "correct-horse")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.User.Username).To(Equal("staff1"))

			claims, err := svc.VerifyAccess(res.AccessToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(claims.UserID).To(Equal(u.ID))
			Expect(claims.Role).To(Equal(domain.RoleStaff))
			Expect(*claims.Department).To(Equal(dept))
			Expect(claims.ExpiresAt).To(Equal(clock.Add(30 * time.Minute)))

			// The refresh token is not an access token.
			_, err = svc.VerifyAccess(res.RefreshToken)
			Expect(err).To(MatchError(auth.ErrInvalidToken))
		})

		It("rejects a wrong password and an unknown username alike", func() {
			users.add("staff1", "correct-horse", domain.RoleStaff, &dept)

			_, err := svc.Login(ctx, "staff1", "wrong")
			Expect(err).To(MatchError(auth.ErrInvalidCredentials))
			_, err = svc.Login(ctx, "nobody", "wrong")
			Expect(err).To(MatchError(auth.ErrInvalidCredentials))
		})

		It("locks a username after ten failures inside the window", func() {
			users.add("staff1", "correct-horse", domain.RoleStaff, &dept)

			for i := 0; i < 10; i++ {
				_, err := svc.Login(ctx, "staff1", "wrong")
				Expect(err).To(MatchError(auth.ErrInvalidCredentials))
				clock = clock.Add(10 * time.Second)
			}

			// Even the right password is rejected while locked.
			_, err := svc.Login(ctx, "staff1", "correct-horse")
			Expect(err).To(MatchError(auth.ErrTooManyAttempts))

			// Another username is unaffected.
			users.add("staff2", "pw-for-two", domain.RoleStaff, &dept)
			_, err = svc.Login(ctx, "staff2", "pw-for-two")
			Expect(err).NotTo(HaveOccurred())

			// The lock expires after fifteen minutes.
			clock = clock.Add(15*time.Minute + time.Second)
			_, err = svc.Login(ctx, "staff1", "correct-horse")
			Expect(err).NotTo(HaveOccurred())
		})

		It("does not lock when failures are spread beyond the window", func() {
			users.add("staff1", "correct-horse", domain.RoleStaff, &dept)

			for i := 0; i < 12; i++ {
				_, _ = svc.Login(ctx, "staff1", "wrong")
				clock = clock.Add(2 * time.Minute)
			}
			_, err := svc.Login(ctx, "staff1", "correct-horse")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("token verification", func() {
		It("rejects expired access tokens", func() {
			users.add("staff1", "correct-horse", domain.RoleStaff, &dept)
			res, err := svc.Login(ctx, "staff1", "correct-horse")
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.VerifyAccess(res.AccessToken)
			Expect(err).NotTo(HaveOccurred())

			clock = clock.Add(31 * time.Minute)
			_, err = svc.VerifyAccess(res.AccessToken)
			Expect(err).To(MatchError(auth.ErrInvalidToken))
		})

		It("rejects garbage and tokens signed with another secret", func() {
			_, err := svc.Verify("not-a-token")
			Expect(err).To(MatchError(auth.ErrInvalidToken))

			other, err := auth.NewService(users, "a-completely-different-secret", zap.NewNop())
			Expect(err).NotTo(HaveOccurred())
			other.SetNow(func() time.Time { return clock })
			users.add("staff1", "correct-horse", domain.RoleStaff, &dept)
			res, err := other.Login(ctx, "staff1", "correct-horse")
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.Verify(res.AccessToken)
			Expect(err).To(MatchError(auth.ErrInvalidToken))
		})
	})

	Describe("Refresh", func() {
		It("trades a refresh token for a fresh access token", func() {
			u := users.add("staff1", "correct-horse", domain.RoleStaff, &dept)
			res, err := svc.Login(ctx, "staff1", "correct-horse")
			Expect(err).NotTo(HaveOccurred())

			clock = clock.Add(time.Hour) // access expired, refresh alive
			access, err := svc.Refresh(ctx, res.RefreshToken)
			Expect(err).NotTo(HaveOccurred())

			claims, err := svc.VerifyAccess(access)
			Expect(err).NotTo(HaveOccurred())
			Expect(claims.UserID).To(Equal(u.ID))
		})

		It("rejects access tokens and expired refresh tokens", func() {
			users.add("staff1", "correct-horse", domain.RoleStaff, &dept)
			res, err := svc.Login(ctx, "staff1", "correct-horse")
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.Refresh(ctx, res.AccessToken)
			Expect(err).To(MatchError(auth.ErrInvalidToken))

			clock = clock.Add(8 * 24 * time.Hour)
			_, err = svc.Refresh(ctx, res.RefreshToken)
			Expect(err).To(MatchError(auth.ErrInvalidToken))
		})
	})

	Describe("ChangePassword", func() {
		It("requires the old password and a strong new one", func() {
			u := users.add("staff1", "correct-horse", domain.RoleStaff, &dept)

			Expect(svc.ChangePassword(ctx, u.ID, "wrong", "next-password")).
				To(MatchError(auth.ErrInvalidCredentials))
			Expect(svc.ChangePassword(ctx, u.ID, "correct-horse", "short")).
				To(MatchError(auth.ErrWeakPassword))

			Expect(svc.ChangePassword(ctx, u.ID, "correct-horse", "next-password")).To(Succeed())
			_, err := svc.Login(ctx, "staff1", "next-password")
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.Login(ctx, "staff1", "correct-horse")
			Expect(err).To(MatchError(auth.ErrInvalidCredentials))
		})
	})

	It("hashes passwords with the configured cost", func() {
		hash, err := auth.HashPassword("long-enough-password")
		Expect(err).NotTo(HaveOccurred())
		cost, err := bcrypt.Cost([]byte(hash))
		Expect(err).NotTo(HaveOccurred())
		Expect(cost).To(Equal(auth.BcryptCost))
	})
})
