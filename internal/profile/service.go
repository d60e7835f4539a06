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

// Package profile drives the incident-profile lifecycle: Basic profiles are
// created freely, converted once into a typed sub-form (opening a pending
// case), documented, and completed when the rendered document lands in
// Drive. The only way back is the explicit admin reset.
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/internal/store"
)

var (
	// ErrForbidden reports an actor without rights on the department.
	ErrForbidden = errors.New("profile: actor lacks rights on this department")
	// ErrValidation reports a rejected payload.
	ErrValidation = errors.New("profile: invalid payload")
	// ErrNotConverted reports an operation that needs a typed profile.
	ErrNotConverted = errors.New("profile: profile has no typed sub-form")
)

// Store is the persistence surface the service drives. *store.Store
// satisfies it.
type Store interface {
	CreateProfile(ctx context.Context, p *domain.Profile) error
	GetProfile(ctx context.Context, id uuid.UUID) (*domain.Profile, error)
	ListProfiles(ctx context.Context, f store.ProfileFilter) ([]domain.Profile, error)
	UpdateProfileCAS(ctx context.Context, p *domain.Profile, expectedVersion int) error
	ConvertProfile(ctx context.Context, p *domain.Profile, details domain.ProfileDetails, expectedVersion int) error
	GetProfileDetails(ctx context.Context, profileID uuid.UUID) (*domain.ProfileDetails, error)
	CompleteProfile(ctx context.Context, profileID uuid.UUID, driveLink string) error
	ResetProfile(ctx context.Context, profileID uuid.UUID) error
	GetEmployee(ctx context.Context, id uuid.UUID) (*domain.Employee, error)
	ListPendingCases(ctx context.Context, f store.PendingCaseFilter) ([]domain.PendingCase, error)
	GetPendingCaseByProfile(ctx context.Context, profileID uuid.UUID) (*domain.PendingCase, error)
	PendingCaseStatistics(ctx context.Context, dept domain.Department, now time.Time) (*store.PendingCaseStats, error)
}

// DateNotifier recomputes assessment scoring when a linked profile's event
// date moves. The scoring engine satisfies it.
type DateNotifier interface {
	MoveRecordDate(ctx context.Context, id uuid.UUID, newDate time.Time) error
}

// Renderer produces the typed document for a converted profile. The document
// package satisfies it.
type Renderer interface {
	Render(p *domain.Profile, details *domain.ProfileDetails, emp *domain.Employee) (data []byte, filename string, err error)
}

// Service owns profile transitions and the pending-case ledger reads.
type Service struct {
	store    Store
	notifier DateNotifier
	renderer Renderer
	log      *zap.Logger
	validate *validator.Validate
}

// NewService wires the service. notifier and renderer may be nil in partial
// wirings (tests, CLI maintenance paths); the dependent operations then fail.
func NewService(st Store, notifier DateNotifier, renderer Renderer, logger *zap.Logger) *Service {
	return &Service{
		store:    st,
		notifier: notifier,
		renderer: renderer,
		log:      logger.Named("profile"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// CreateInput is the Basic-profile creation payload.
type CreateInput struct {
	Department       domain.Department `json:"department" validate:"required"`
	EmployeeID       uuid.UUID         `json:"employee_id" validate:"required"`
	EventDate        time.Time         `json:"event_date" validate:"required"`
	EventTime        *string           `json:"event_time,omitempty"`
	EventLocation    *string           `json:"event_location,omitempty"`
	TrainNumber      *string           `json:"train_number,omitempty"`
	EventTitle       *string           `json:"event_title,omitempty"`
	EventDescription string            `json:"event_description" validate:"required"`
}

// Create opens a Basic profile. The actor needs write rights on the
// department, and the employee must belong to it.
func (s *Service) Create(ctx context.Context, in CreateInput, actor *domain.User) (*domain.Profile, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !in.Department.Valid() {
		return nil, fmt.Errorf("%w: unknown department %q", ErrValidation, in.Department)
	}
	if !actor.CanWrite(in.Department) {
		return nil, ErrForbidden
	}
	emp, err := s.store.GetEmployee(ctx, in.EmployeeID)
	if err != nil {
		return nil, err
	}
	if emp.Department != in.Department {
		return nil, fmt.Errorf("%w: employee %s is not in %s", ErrValidation, emp.EmployeeCode, in.Department)
	}

	p := &domain.Profile{
		Department:       in.Department,
		EmployeeID:       in.EmployeeID,
		EventDate:        in.EventDate,
		EventTime:        in.EventTime,
		EventLocation:    in.EventLocation,
		TrainNumber:      in.TrainNumber,
		EventTitle:       in.EventTitle,
		EventDescription: in.EventDescription,
		CreatedBy:        actor.Username,
	}
	if err := s.store.CreateProfile(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("profile created",
		zap.String("profile_id", p.ID.String()),
		zap.String("department", string(p.Department)))
	return p, nil
}

// Get fetches one profile.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	return s.store.GetProfile(ctx, id)
}

// List returns profiles matching the filter.
func (s *Service) List(ctx context.Context, f store.ProfileFilter) ([]domain.Profile, error) {
	return s.store.ListProfiles(ctx, f)
}

// Details loads the typed sub-form of a converted profile.
func (s *Service) Details(ctx context.Context, id uuid.UUID) (*domain.ProfileDetails, error) {
	return s.store.GetProfileDetails(ctx, id)
}

// Convert performs the one-way Basic → Converted transition. Exactly one
// sub-form variant must be populated, and it must validate.
func (s *Service) Convert(ctx context.Context, id uuid.UUID, details domain.ProfileDetails, expectedVersion int, actor *domain.User) (*domain.Profile, error) {
	if err := validateDetails(details); err != nil {
		return nil, err
	}
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanWrite(p.Department) {
		return nil, ErrForbidden
	}
	if err := s.store.ConvertProfile(ctx, p, details, expectedVersion); err != nil {
		return nil, err
	}
	s.log.Info("profile converted",
		zap.String("profile_id", p.ID.String()),
		zap.String("type", string(p.ProfileType)))
	return p, nil
}

// UpdateInput patches mutable profile fields. Nil pointers leave the stored
// value alone; EventDate moves only when non-zero.
type UpdateInput struct {
	EventDate        *time.Time `json:"event_date,omitempty"`
	EventTime        *string    `json:"event_time,omitempty"`
	EventLocation    *string    `json:"event_location,omitempty"`
	TrainNumber      *string    `json:"train_number,omitempty"`
	EventTitle       *string    `json:"event_title,omitempty"`
	EventDescription *string    `json:"event_description,omitempty"`
}

// Update rewrites profile fields under optimistic concurrency. When the
// event date moves on a profile linked to an assessment record, the scoring
// engine recomputes that record's year ranking.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput, expectedVersion int, actor *domain.User) (*domain.Profile, error) {
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanWrite(p.Department) {
		return nil, ErrForbidden
	}

	dateMoved := false
	if in.EventDate != nil && !in.EventDate.Equal(p.EventDate) {
		p.EventDate = *in.EventDate
		dateMoved = true
	}
	if in.EventTime != nil {
		p.EventTime = in.EventTime
	}
	if in.EventLocation != nil {
		p.EventLocation = in.EventLocation
	}
	if in.TrainNumber != nil {
		p.TrainNumber = in.TrainNumber
	}
	if in.EventTitle != nil {
		p.EventTitle = in.EventTitle
	}
	if in.EventDescription != nil {
		if *in.EventDescription == "" {
			return nil, fmt.Errorf("%w: event description cannot be emptied", ErrValidation)
		}
		p.EventDescription = *in.EventDescription
	}

	if err := s.store.UpdateProfileCAS(ctx, p, expectedVersion); err != nil {
		return nil, err
	}

	if dateMoved && p.AssessmentRecordID != nil {
		if s.notifier == nil {
			return nil, errors.New("profile: no scoring notifier wired")
		}
		if err := s.notifier.MoveRecordDate(ctx, *p.AssessmentRecordID, p.EventDate); err != nil {
			return nil, fmt.Errorf("profile: rescore after date move: %w", err)
		}
	}
	return p, nil
}

// GenerateDocument renders the typed document. It never transitions state
// and may be called repeatedly.
func (s *Service) GenerateDocument(ctx context.Context, id uuid.UUID, actor *domain.User) (data []byte, filename string, err error) {
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !actor.CanRead(p.Department) {
		return nil, "", ErrForbidden
	}
	if p.ProfileType == domain.ProfileBasic {
		return nil, "", ErrNotConverted
	}
	details, err := s.store.GetProfileDetails(ctx, id)
	if err != nil {
		return nil, "", err
	}
	emp, err := s.store.GetEmployee(ctx, p.EmployeeID)
	if err != nil {
		return nil, "", err
	}
	if s.renderer == nil {
		return nil, "", errors.New("profile: no renderer wired")
	}
	return s.renderer.Render(p, details, emp)
}

// CompleteProfile closes the pending case and marks the profile Completed.
// It satisfies the drive dispatcher's Completer contract.
func (s *Service) CompleteProfile(ctx context.Context, id uuid.UUID, driveLink string, actor string) error {
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if p.ProfileType == domain.ProfileBasic {
		return ErrNotConverted
	}
	if err := s.store.CompleteProfile(ctx, id, driveLink); err != nil {
		return err
	}
	s.log.Info("profile completed",
		zap.String("profile_id", id.String()),
		zap.String("actor", actor))
	return nil
}

// Reset is the admin-only escape hatch back to Basic.
func (s *Service) Reset(ctx context.Context, id uuid.UUID, actor *domain.User) error {
	if actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	if err := s.store.ResetProfile(ctx, id); err != nil {
		return err
	}
	s.log.Warn("profile reset to basic",
		zap.String("profile_id", id.String()),
		zap.String("actor", actor.Username))
	return nil
}

// ListCases returns pending-case ledger entries.
func (s *Service) ListCases(ctx context.Context, f store.PendingCaseFilter) ([]domain.PendingCase, error) {
	return s.store.ListPendingCases(ctx, f)
}

// CaseByProfile returns the ledger entry for one profile.
func (s *Service) CaseByProfile(ctx context.Context, profileID uuid.UUID) (*domain.PendingCase, error) {
	return s.store.GetPendingCaseByProfile(ctx, profileID)
}

// CaseStats aggregates the department's ledger.
func (s *Service) CaseStats(ctx context.Context, dept domain.Department) (*store.PendingCaseStats, error) {
	return s.store.PendingCaseStatistics(ctx, dept, time.Now().UTC())
}

// validateDetails checks that exactly one variant is set and its required
// fields are present.
func validateDetails(d domain.ProfileDetails) error {
	set := 0
	if d.EventInvestigation != nil {
		set++
		f := d.EventInvestigation
		if f.Summary == "" || f.Cause == "" || f.InvestigatorName == "" {
			return fmt.Errorf("%w: event investigation requires summary, cause, investigator", ErrValidation)
		}
	}
	if d.PersonnelInterview != nil {
		set++
		f := d.PersonnelInterview
		if f.InterviewerName == "" || f.Content == "" {
			return fmt.Errorf("%w: personnel interview requires interviewer, content", ErrValidation)
		}
	}
	if d.CorrectiveMeasures != nil {
		set++
		f := d.CorrectiveMeasures
		if f.Measures == "" || f.Supervisor == "" {
			return fmt.Errorf("%w: corrective measures require measures, supervisor", ErrValidation)
		}
	}
	if d.AssessmentNotice != nil {
		set++
		f := d.AssessmentNotice
		if f.StandardCode == "" || f.NoticeText == "" {
			return fmt.Errorf("%w: assessment notice requires standard code, notice text", ErrValidation)
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one sub-form variant required, got %d", ErrValidation, set)
	}
	return nil
}

var _ Store = (*store.Store)(nil)
