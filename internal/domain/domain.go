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

// Package domain holds the entity types shared across the back office:
// departments, employees, schedules, assessment records, profiles, and the
// supporting value objects. Persistence tags live here so the sqlx
// repositories and the HTTP layer share one representation.
package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Department is the tenant boundary. Sheets, Drive folders, and OAuth grants
// are never shared across departments.
type Department string

const (
	DepartmentTanhai Department = "tanhai"
	DepartmentAnkeng Department = "ankeng"
)

// Departments lists all tenants in stable order.
func Departments() []Department {
	return []Department{DepartmentTanhai, DepartmentAnkeng}
}

// Valid reports whether d is a known department.
func (d Department) Valid() bool {
	return d == DepartmentTanhai || d == DepartmentAnkeng
}

// EnvSuffix returns the uppercase suffix used in environment variable names,
// e.g. GOOGLE_SERVICE_ACCOUNT_TANHAI.
func (d Department) EnvSuffix() string {
	switch d {
	case DepartmentTanhai:
		return "TANHAI"
	case DepartmentAnkeng:
		return "ANKENG"
	}
	return ""
}

var employeeCodeRe = regexp.MustCompile(`^\d{4}[A-Z]\d{4}$`)

// ValidEmployeeCode reports whether code matches the externally assigned
// format: 4 digits (YYMM hire date, YY offset by 2000), one letter, 4 digits.
func ValidEmployeeCode(code string) bool {
	return employeeCodeRe.MatchString(code)
}

// HireYearMonth derives the hire year and month from an employee code.
func HireYearMonth(code string) (year, month int, err error) {
	if !ValidEmployeeCode(code) {
		return 0, 0, fmt.Errorf("malformed employee code %q", code)
	}
	yy, _ := strconv.Atoi(code[0:2])
	mm, _ := strconv.Atoi(code[2:4])
	if mm < 1 || mm > 12 {
		return 0, 0, fmt.Errorf("employee code %q has month %d", code, mm)
	}
	return 2000 + yy, mm, nil
}

// Employee is a driver identity. Records are never deleted; lifecycle ends at
// IsResigned.
type Employee struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	EmployeeCode string     `db:"employee_code" json:"employee_code"`
	Name         string     `db:"name" json:"name"`
	Department   Department `db:"department" json:"department"`
	IsResigned   bool       `db:"is_resigned" json:"is_resigned"`
	Phone        *string    `db:"phone" json:"phone,omitempty"`
	Email        *string    `db:"email" json:"email,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Transfer is an immutable log entry; committing one advances the employee's
// current department.
type Transfer struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	EmployeeID    uuid.UUID  `db:"employee_id" json:"employee_id"`
	FromDept      Department `db:"from_dept" json:"from_dept"`
	ToDept        Department `db:"to_dept" json:"to_dept"`
	EffectiveDate time.Time  `db:"effective_date" json:"effective_date"`
	Reason        string     `db:"reason" json:"reason"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// ScheduleCell is one (department, employee, date) cell pulled from the
// external sheet. Mutated only by the sync orchestrator.
type ScheduleCell struct {
	Department  Department `db:"department" json:"department"`
	EmployeeID  uuid.UUID  `db:"employee_id" json:"employee_id"`
	WorkDate    time.Time  `db:"work_date" json:"work_date"`
	RawText     string     `db:"raw_text" json:"raw_text"`
	SyncBatchID uuid.UUID  `db:"sync_batch_id" json:"sync_batch_id"`
	SyncedAt    time.Time  `db:"synced_at" json:"synced_at"`
}

// CategoryCode classifies assessment standards.
type CategoryCode string

const (
	CategoryD  CategoryCode = "D"
	CategoryW  CategoryCode = "W"
	CategoryO  CategoryCode = "O"
	CategoryS  CategoryCode = "S"
	CategoryR  CategoryCode = "R"
	CategoryMR CategoryCode = "+M"
	CategoryAR CategoryCode = "+A"
	CategoryBR CategoryCode = "+B"
	CategoryCR CategoryCode = "+C"
	CategoryRR CategoryCode = "+R"
)

// DeductionCategories are the categories that block +M03 for a month.
func DeductionCategories() []CategoryCode {
	return []CategoryCode{CategoryD, CategoryW, CategoryO, CategoryS, CategoryR}
}

// IsDeduction reports whether c is a deduction category.
func (c CategoryCode) IsDeduction() bool {
	switch c {
	case CategoryD, CategoryW, CategoryO, CategoryS, CategoryR:
		return true
	}
	return false
}

// Standard is one row of the static assessment rule catalog.
type Standard struct {
	Code          string          `db:"code" json:"code"`
	CategoryCode  CategoryCode    `db:"category_code" json:"category_code"`
	Title         string          `db:"title" json:"title"`
	BasePoints    decimal.Decimal `db:"base_points" json:"base_points"`
	HasCumulative bool            `db:"has_cumulative" json:"has_cumulative"`
	IsRFaultType  bool            `db:"is_r_fault_type" json:"is_r_fault_type"`
}

// CumulativeCounter tracks occurrences per (employee, category, year). Rows
// are closed (archived) at the year boundary, never deleted.
type CumulativeCounter struct {
	EmployeeID   uuid.UUID    `db:"employee_id" json:"employee_id"`
	CategoryCode CategoryCode `db:"category_code" json:"category_code"`
	Year         int          `db:"year" json:"year"`
	Count        int          `db:"occurrence_count" json:"occurrence_count"`
	Closed       bool         `db:"closed" json:"closed"`
}

// FaultChecklist is the 9-flag responsibility checklist plus the incident
// timeline attached to r-fault records.
type FaultChecklist struct {
	Flags        [9]bool    `json:"flags"`
	T0           *time.Time `json:"t0,omitempty"`
	T1           *time.Time `json:"t1,omitempty"`
	T2           *time.Time `json:"t2,omitempty"`
	T3           *time.Time `json:"t3,omitempty"`
	T4           *time.Time `json:"t4,omitempty"`
	DelaySeconds int        `json:"delay_seconds"`
}

// SetCount returns the number of raised flags.
func (f FaultChecklist) SetCount() int {
	n := 0
	for _, b := range f.Flags {
		if b {
			n++
		}
	}
	return n
}

// FormulaV2 marks records scored with the current formula. Legacy V1 rows are
// read-only for recomputation.
const (
	FormulaV1 = 1
	FormulaV2 = 2
)

// AssessmentRecord is one scored incident.
//
// Invariant: FinalPoints == BasePoints × coef × CumulativeMultiplier, where a
// nil FaultCoefficient multiplies as 1.0, rounded half away from zero to one
// decimal place.
type AssessmentRecord struct {
	ID                   uuid.UUID        `db:"id" json:"id"`
	Department           Department       `db:"department" json:"department"`
	EmployeeID           uuid.UUID        `db:"employee_id" json:"employee_id"`
	StandardCode         string           `db:"standard_code" json:"standard_code"`
	CategoryCode         CategoryCode     `db:"category_code" json:"category_code"`
	EventDate            time.Time        `db:"event_date" json:"event_date"`
	BasePoints           decimal.Decimal  `db:"base_points" json:"base_points"`
	FaultCoefficient     *decimal.Decimal `db:"fault_coefficient" json:"fault_coefficient,omitempty"`
	CumulativeMultiplier decimal.Decimal  `db:"cumulative_multiplier" json:"cumulative_multiplier"`
	FinalPoints          decimal.Decimal  `db:"final_points" json:"final_points"`
	ProfileID            *uuid.UUID       `db:"profile_id" json:"profile_id,omitempty"`
	IdempotencyKey       *string          `db:"idempotency_key" json:"idempotency_key,omitempty"`
	FormulaVersion       int              `db:"formula_version" json:"formula_version"`
	Checklist            *FaultChecklist  `db:"-" json:"fault_checklist,omitempty"`
	CreatedBy            string           `db:"created_by" json:"created_by"`
	CreatedAt            time.Time        `db:"created_at" json:"created_at"`
	DeletedAt            *time.Time       `db:"deleted_at" json:"-"`
}

// ProfileType is the typed variant of an incident profile.
type ProfileType string

const (
	ProfileBasic              ProfileType = "basic"
	ProfileEventInvestigation ProfileType = "event_investigation"
	ProfilePersonnelInterview ProfileType = "personnel_interview"
	ProfileCorrectiveMeasures ProfileType = "corrective_measures"
	ProfileAssessmentNotice   ProfileType = "assessment_notice"
)

// Valid reports whether t is a known profile type.
func (t ProfileType) Valid() bool {
	switch t {
	case ProfileBasic, ProfileEventInvestigation, ProfilePersonnelInterview,
		ProfileCorrectiveMeasures, ProfileAssessmentNotice:
		return true
	}
	return false
}

// TypeCode returns the short code embedded in barcodes and filenames.
func (t ProfileType) TypeCode() string {
	switch t {
	case ProfileEventInvestigation:
		return "EI"
	case ProfilePersonnelInterview:
		return "PI"
	case ProfileCorrectiveMeasures:
		return "CM"
	case ProfileAssessmentNotice:
		return "AN"
	}
	return "BA"
}

// Kanji returns the Drive folder segment for the type.
func (t ProfileType) Kanji() string {
	switch t {
	case ProfileEventInvestigation:
		return "事件調查"
	case ProfilePersonnelInterview:
		return "人員訪談"
	case ProfileCorrectiveMeasures:
		return "矯正措施"
	case ProfileAssessmentNotice:
		return "考核通知"
	}
	return "基本"
}

// ConversionStatus is the profile lifecycle state. It only advances
// (Pending → Converted → Completed) outside of the explicit admin reset.
type ConversionStatus string

const (
	ConversionPending   ConversionStatus = "pending"
	ConversionConverted ConversionStatus = "converted"
	ConversionCompleted ConversionStatus = "completed"
)

// Profile is an incident record with an optional typed sub-form.
type Profile struct {
	ID                 uuid.UUID        `db:"id" json:"id"`
	Department         Department       `db:"department" json:"department"`
	EmployeeID         uuid.UUID        `db:"employee_id" json:"employee_id"`
	EventDate          time.Time        `db:"event_date" json:"event_date"`
	EventTime          *string          `db:"event_time" json:"event_time,omitempty"`
	EventLocation      *string          `db:"event_location" json:"event_location,omitempty"`
	TrainNumber        *string          `db:"train_number" json:"train_number,omitempty"`
	EventTitle         *string          `db:"event_title" json:"event_title,omitempty"`
	EventDescription   string           `db:"event_description" json:"event_description"`
	ProfileType        ProfileType      `db:"profile_type" json:"profile_type"`
	ConversionStatus   ConversionStatus `db:"conversion_status" json:"conversion_status"`
	Version            int              `db:"version" json:"version"`
	DriveLink          *string          `db:"drive_link" json:"drive_link,omitempty"`
	AssessmentRecordID *uuid.UUID       `db:"assessment_record_id" json:"assessment_record_id,omitempty"`
	CreatedBy          string           `db:"created_by" json:"created_by"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updated_at"`
}

// ProfileDetails is the tagged variant written at conversion. Exactly one
// field is non-nil once the profile leaves Basic.
type ProfileDetails struct {
	EventInvestigation *EventInvestigationForm `json:"event_investigation,omitempty"`
	PersonnelInterview *PersonnelInterviewForm `json:"personnel_interview,omitempty"`
	CorrectiveMeasures *CorrectiveMeasuresForm `json:"corrective_measures,omitempty"`
	AssessmentNotice   *AssessmentNoticeForm   `json:"assessment_notice,omitempty"`
}

// Type returns the profile type the populated variant corresponds to, or
// ProfileBasic when no variant is set.
func (d ProfileDetails) Type() ProfileType {
	switch {
	case d.EventInvestigation != nil:
		return ProfileEventInvestigation
	case d.PersonnelInterview != nil:
		return ProfilePersonnelInterview
	case d.CorrectiveMeasures != nil:
		return ProfileCorrectiveMeasures
	case d.AssessmentNotice != nil:
		return ProfileAssessmentNotice
	}
	return ProfileBasic
}

// EventInvestigationForm captures the incident investigation sub-form.
type EventInvestigationForm struct {
	Summary          string     `json:"summary"`
	Cause            string     `json:"cause"`
	Countermeasure   string     `json:"countermeasure"`
	InvestigatorName string     `json:"investigator_name"`
	InvestigatedAt   *time.Time `json:"investigated_at,omitempty"`
}

// PersonnelInterviewForm captures the interview sub-form.
type PersonnelInterviewForm struct {
	InterviewerName string     `json:"interviewer_name"`
	InterviewedAt   *time.Time `json:"interviewed_at,omitempty"`
	Content         string     `json:"content"`
	EmployeeOpinion string     `json:"employee_opinion"`
}

// CorrectiveMeasuresForm captures the corrective-measures sub-form.
type CorrectiveMeasuresForm struct {
	Measures    string     `json:"measures"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Supervisor  string     `json:"supervisor"`
	FollowUp    string     `json:"follow_up"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AssessmentNoticeForm captures the assessment-notice sub-form.
type AssessmentNoticeForm struct {
	StandardCode string `json:"standard_code"`
	Points       string `json:"points"`
	NoticeText   string `json:"notice_text"`
	IssuerName   string `json:"issuer_name"`
}

// PendingCaseStatus tracks the upload handshake.
type PendingCaseStatus string

const (
	PendingCaseOpen     PendingCaseStatus = "pending"
	PendingCaseUploaded PendingCaseStatus = "uploaded"
)

// PendingCase is the open ticket for a Converted profile awaiting its PDF.
type PendingCase struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	ProfileID   uuid.UUID         `db:"profile_id" json:"profile_id"`
	Department  Department        `db:"department" json:"department"`
	ProfileType ProfileType       `db:"profile_type" json:"profile_type"`
	Status      PendingCaseStatus `db:"status" json:"status"`
	DriveLink   *string           `db:"drive_link" json:"drive_link,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	ClosedAt    *time.Time        `db:"closed_at" json:"closed_at,omitempty"`
}

// OAuthTokenRecord stores ciphertext only; at most one active row per
// department.
type OAuthTokenRecord struct {
	Department         Department `db:"department" json:"department"`
	RefreshTokenCipher string     `db:"refresh_token_cipher" json:"-"`
	AccessTokenCipher  *string    `db:"access_token_cipher" json:"-"`
	AccessExpiresAt    *time.Time `db:"access_expires_at" json:"access_expires_at,omitempty"`
	AuthorizedEmail    string     `db:"authorized_email" json:"authorized_email"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// Role is the authorization role carried in tokens.
type Role string

const (
	// RoleAdmin has no department scope.
	RoleAdmin Role = "admin"
	// RoleManager reads across departments but cannot write.
	RoleManager Role = "manager"
	// RoleStaff edits its own department only.
	RoleStaff Role = "staff"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleManager || r == RoleStaff
}

// User is a back-office account.
type User struct {
	ID           uuid.UUID   `db:"id" json:"id"`
	Username     string      `db:"username" json:"username"`
	PasswordHash string      `db:"password_hash" json:"-"`
	Role         Role        `db:"role" json:"role"`
	Department   *Department `db:"department" json:"department,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

// CanRead reports whether the user may read records in dept.
func (u User) CanRead(dept Department) bool {
	switch u.Role {
	case RoleAdmin, RoleManager:
		return true
	case RoleStaff:
		return u.Department != nil && *u.Department == dept
	}
	return false
}

// CanWrite reports whether the user may mutate records in dept.
func (u User) CanWrite(dept Department) bool {
	switch u.Role {
	case RoleAdmin:
		return true
	case RoleStaff:
		return u.Department != nil && *u.Department == dept
	}
	return false
}

// Setting is a per-department configuration value consumed by the desktop
// helper through the frozen settings endpoint.
type Setting struct {
	Department Department `db:"department" json:"department"`
	Key        string     `db:"key" json:"key"`
	Value      string     `db:"value" json:"value"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// RoundPoints rounds to one decimal place, half away from zero. Every
// persisted points value passes through here.
func RoundPoints(d decimal.Decimal) decimal.Decimal {
	return d.Round(1)
}
