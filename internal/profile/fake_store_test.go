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

package profile_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/internal/store"
)

// fakeStore mirrors the store's profile semantics in memory: CAS versioning,
// the one-way convert transition, and the pending-case handshake.
type fakeStore struct {
	mu        sync.Mutex
	employees map[uuid.UUID]domain.Employee
	profiles  map[uuid.UUID]domain.Profile
	details   map[uuid.UUID]domain.ProfileDetails
	cases     map[uuid.UUID]domain.PendingCase // keyed by profile id
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		employees: map[uuid.UUID]domain.Employee{},
		profiles:  map[uuid.UUID]domain.Profile{},
		details:   map[uuid.UUID]domain.ProfileDetails{},
		cases:     map[uuid.UUID]domain.PendingCase{},
	}
}

func (f *fakeStore) addEmployee(code string, dept domain.Department) domain.Employee {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := domain.Employee{ID: uuid.New(), EmployeeCode: code, Name: "測試", Department: dept}
	f.employees[e.ID] = e
	return e
}

func (f *fakeStore) GetEmployee(_ context.Context, id uuid.UUID) (*domain.Employee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.employees[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &e, nil
}

func (f *fakeStore) CreateProfile(_ context.Context, p *domain.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.ProfileType = domain.ProfileBasic
	p.ConversionStatus = domain.ConversionPending
	p.Version = 1
	p.CreatedAt = time.Now().UTC()
	f.profiles[p.ID] = *p
	return nil
}

func (f *fakeStore) GetProfile(_ context.Context, id uuid.UUID) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (f *fakeStore) ListProfiles(_ context.Context, filter store.ProfileFilter) ([]domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Profile
	for _, p := range f.profiles {
		if filter.Department != nil && p.Department != *filter.Department {
			continue
		}
		if filter.Status != nil && p.ConversionStatus != *filter.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) UpdateProfileCAS(_ context.Context, p *domain.Profile, expectedVersion int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.profiles[p.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("%w: stale version", store.ErrConflict)
	}
	p.Version = expectedVersion + 1
	f.profiles[p.ID] = *p
	return nil
}

func (f *fakeStore) ConvertProfile(_ context.Context, p *domain.Profile, details domain.ProfileDetails, expectedVersion int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.profiles[p.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != expectedVersion || cur.ConversionStatus != domain.ConversionPending {
		return fmt.Errorf("%w: profile is not Basic at version %d", store.ErrConflict, expectedVersion)
	}
	cur.ProfileType = details.Type()
	cur.ConversionStatus = domain.ConversionConverted
	cur.Version++
	f.profiles[p.ID] = cur
	f.details[p.ID] = details
	f.cases[p.ID] = domain.PendingCase{
		ID: uuid.New(), ProfileID: p.ID, Department: cur.Department,
		ProfileType: cur.ProfileType, Status: domain.PendingCaseOpen,
		CreatedAt: time.Now().UTC(),
	}
	*p = cur
	return nil
}

func (f *fakeStore) GetProfileDetails(_ context.Context, profileID uuid.UUID) (*domain.ProfileDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.details[profileID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (f *fakeStore) CompleteProfile(_ context.Context, profileID uuid.UUID, driveLink string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pc, ok := f.cases[profileID]
	if !ok || pc.Status != domain.PendingCaseOpen {
		return fmt.Errorf("%w: no open pending case", store.ErrNotFound)
	}
	p := f.profiles[profileID]
	if p.ConversionStatus != domain.ConversionConverted {
		return fmt.Errorf("%w: profile is not Converted", store.ErrConflict)
	}
	pc.Status = domain.PendingCaseUploaded
	f.cases[profileID] = pc
	p.ConversionStatus = domain.ConversionCompleted
	p.DriveLink = &driveLink
	p.Version++
	f.profiles[profileID] = p
	return nil
}

func (f *fakeStore) ResetProfile(_ context.Context, profileID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[profileID]
	if !ok {
		return store.ErrNotFound
	}
	delete(f.cases, profileID)
	delete(f.details, profileID)
	p.ProfileType = domain.ProfileBasic
	p.ConversionStatus = domain.ConversionPending
	p.DriveLink = nil
	p.Version++
	f.profiles[profileID] = p
	return nil
}

func (f *fakeStore) ListPendingCases(_ context.Context, filter store.PendingCaseFilter) ([]domain.PendingCase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PendingCase
	for _, pc := range f.cases {
		if filter.Department != nil && pc.Department != *filter.Department {
			continue
		}
		if filter.Status != nil && pc.Status != *filter.Status {
			continue
		}
		out = append(out, pc)
	}
	return out, nil
}

func (f *fakeStore) GetPendingCaseByProfile(_ context.Context, profileID uuid.UUID) (*domain.PendingCase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pc, ok := f.cases[profileID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &pc, nil
}

func (f *fakeStore) PendingCaseStatistics(_ context.Context, dept domain.Department, now time.Time) (*store.PendingCaseStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &store.PendingCaseStats{ByType: map[domain.ProfileType]int{}}
	for _, pc := range f.cases {
		if pc.Department != dept || pc.Status != domain.PendingCaseOpen {
			continue
		}
		stats.ByType[pc.ProfileType]++
		stats.Total++
		if stats.OldestPendingDate == nil || pc.CreatedAt.Before(*stats.OldestPendingDate) {
			t := pc.CreatedAt
			stats.OldestPendingDate = &t
		}
	}
	return stats, nil
}
