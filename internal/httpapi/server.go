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

// Package httpapi is the HTTP surface of the back office. It owns the chi
// router, bearer authentication, role/department authorization, the typed
// error envelope, and the per-endpoint rate limits. All business rules live
// in the service packages; handlers translate between the wire and those
// services.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kunpeto/driver-management-system-sub001/internal/assessment"
	"github.com/kunpeto/driver-management-system-sub001/internal/auth"
	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/internal/profile"
	"github.com/kunpeto/driver-management-system-sub001/internal/store"
	schedsync "github.com/kunpeto/driver-management-system-sub001/internal/sync"
	"github.com/kunpeto/driver-management-system-sub001/pkg/drive"
	"github.com/kunpeto/driver-management-system-sub001/pkg/metrics"
)

// requestTimeout bounds every handler, including outbound upstream calls.
const requestTimeout = 30 * time.Second

// Rate limits. Document generation is expensive (barcode render plus DOCX
// assembly); login is the brute-force surface.
const (
	docGenPerMinute = 5
	loginPerMinute  = 10
)

// AuthService issues and verifies bearer tokens. *auth.Service satisfies it.
type AuthService interface {
	Login(ctx context.Context, username, password string) (*auth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error
	VerifyAccess(token string) (*auth.Claims, error)
}

// ProfileService drives the incident-profile lifecycle. *profile.Service
// satisfies it.
type ProfileService interface {
	Create(ctx context.Context, in profile.CreateInput, actor *domain.User) (*domain.Profile, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Profile, error)
	List(ctx context.Context, f store.ProfileFilter) ([]domain.Profile, error)
	Details(ctx context.Context, id uuid.UUID) (*domain.ProfileDetails, error)
	Convert(ctx context.Context, id uuid.UUID, details domain.ProfileDetails, expectedVersion int, actor *domain.User) (*domain.Profile, error)
	Update(ctx context.Context, id uuid.UUID, in profile.UpdateInput, expectedVersion int, actor *domain.User) (*domain.Profile, error)
	GenerateDocument(ctx context.Context, id uuid.UUID, actor *domain.User) (data []byte, filename string, err error)
	Reset(ctx context.Context, id uuid.UUID, actor *domain.User) error
	ListCases(ctx context.Context, f store.PendingCaseFilter) ([]domain.PendingCase, error)
	CaseStats(ctx context.Context, dept domain.Department) (*store.PendingCaseStats, error)
}

// Scoring is the assessment engine surface. *assessment.Engine satisfies it.
type Scoring interface {
	ApplyRecord(ctx context.Context, draft assessment.Draft) (*domain.AssessmentRecord, error)
	DeleteRecord(ctx context.Context, id uuid.UUID) error
	ReplaceChecklist(ctx context.Context, id uuid.UUID, checklist domain.FaultChecklist) (*domain.AssessmentRecord, error)
}

// BonusProcessor derives attendance bonus records from the synced schedule.
// *assessment.BonusEngine satisfies it.
type BonusProcessor interface {
	Process(ctx context.Context, dept domain.Department, year, month int, dryRun bool, actor string) (*assessment.BonusResult, error)
}

// RewardProcessor derives the monthly +M02/+M03 records.
// *assessment.RewardEngine satisfies it.
type RewardProcessor interface {
	Process(ctx context.Context, dept domain.Department, year, month int, actor string) (*assessment.RewardResult, error)
}

// SyncService starts and reports schedule sync tasks. *schedsync.Orchestrator
// satisfies it.
type SyncService interface {
	StartSync(kind schedsync.Kind, dept domain.Department, year, month int, actor string) (uuid.UUID, error)
	Status(id uuid.UUID) (schedsync.Task, error)
}

// GoogleAuth is the per-department OAuth grant manager.
// *credentials.OAuthManager satisfies it.
type GoogleAuth interface {
	BeginAuthorization(dept domain.Department) (authURL, state string, err error)
	FinalizeAuthorization(ctx context.Context, state, code string) (domain.Department, error)
	AcquireAccessToken(ctx context.Context, dept domain.Department) (string, error)
	Revoke(ctx context.Context, dept domain.Department) error
	Status(ctx context.Context, dept domain.Department) (authorized bool, email string, err error)
}

// Uploads plans and completes the Drive upload handshake. *drive.Dispatcher
// satisfies it.
type Uploads interface {
	PrepareUpload(p *domain.Profile, employeeCode string) drive.UploadPlan
	MarkCompleted(ctx context.Context, profileID uuid.UUID, driveLink, actor string) error
}

// Directory is the slice of the store the handlers read and write directly:
// employees, the assessment catalog, record listings, settings, and user
// accounts. *store.Store satisfies it.
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	CreateUser(ctx context.Context, u *domain.User) error
	ListUsers(ctx context.Context) ([]domain.User, error)

	CreateEmployee(ctx context.Context, e *domain.Employee) error
	GetEmployee(ctx context.Context, id uuid.UUID) (*domain.Employee, error)
	ListEmployees(ctx context.Context, f store.EmployeeFilter) ([]domain.Employee, error)
	UpdateEmployee(ctx context.Context, e *domain.Employee) error
	TransferEmployee(ctx context.Context, t *domain.Transfer) error
	ListTransfers(ctx context.Context, employeeID uuid.UUID) ([]domain.Transfer, error)

	ListStandards(ctx context.Context) ([]domain.Standard, error)
	ListRecords(ctx context.Context, f store.RecordFilter) ([]domain.AssessmentRecord, error)
	GetRecord(ctx context.Context, id uuid.UUID) (*domain.AssessmentRecord, error)

	GetSetting(ctx context.Context, dept domain.Department, key string) (*domain.Setting, error)
	PutSetting(ctx context.Context, v *domain.Setting) error
	ListSettings(ctx context.Context, dept domain.Department) ([]domain.Setting, error)
}

// Deps bundles everything the server wires.
type Deps struct {
	Auth     AuthService
	Profiles ProfileService
	Scoring  Scoring
	Bonus    BonusProcessor
	Rewards  RewardProcessor
	Sync     SyncService
	Google   GoogleAuth
	Uploads  Uploads
	Dir      Directory

	// CORSOrigins lists the allowed browser origins. Empty means no CORS
	// layer (desktop helper and tests talk straight HTTP).
	CORSOrigins []string
	// Version is reported by /health.
	Version string
}

// Server is the HTTP API.
type Server struct {
	deps Deps
	log  *zap.Logger
	now  func() time.Time

	loginLimiter  *keyedLimiter
	docGenLimiter *keyedLimiter
}

// NewServer builds the server around its service dependencies.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	return &Server{
		deps:          deps,
		log:           logger.Named("http"),
		now:           time.Now,
		loginLimiter:  newKeyedLimiter(loginPerMinute),
		docGenLimiter: newKeyedLimiter(docGenPerMinute),
	}
}

// Router assembles the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.logRequests)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout))
	if len(s.deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.deps.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		// Unauthenticated: login, token refresh, and the browser-facing
		// OAuth callback.
		api.Post("/auth/login", s.handleLogin)
		api.Post("/auth/refresh", s.handleRefresh)
		api.Get("/auth/google/callback", s.handleGoogleCallback)

		api.Group(func(priv chi.Router) {
			priv.Use(s.authenticate)

			priv.Post("/auth/logout", s.handleLogout)
			priv.Get("/auth/me", s.handleMe)
			priv.Post("/auth/change-password", s.handleChangePassword)

			priv.Get("/users", s.handleListUsers)
			priv.Post("/users", s.handleCreateUser)

			priv.Route("/employees", func(er chi.Router) {
				er.Get("/", s.handleListEmployees)
				er.Post("/", s.handleCreateEmployee)
				er.Get("/{id}", s.handleGetEmployee)
				er.Put("/{id}", s.handleUpdateEmployee)
				er.Post("/{id}/transfer", s.handleTransferEmployee)
				er.Get("/{id}/transfers", s.handleListTransfers)
			})

			priv.Route("/profiles", func(pr chi.Router) {
				pr.Get("/", s.handleListProfiles)
				pr.Post("/", s.handleCreateProfile)
				pr.Get("/{id}", s.handleGetProfile)
				pr.Put("/{id}", s.handleUpdateProfile)
				pr.Get("/{id}/details", s.handleProfileDetails)
				pr.Post("/{id}/convert", s.handleConvertProfile)
				pr.Post("/{id}/generate-document", s.handleGenerateDocument)
				pr.Post("/{id}/prepare-upload", s.handlePrepareUpload)
				pr.Post("/{id}/complete", s.handleCompleteProfile)
				pr.Post("/{id}/reset", s.handleResetProfile)
			})
			priv.Get("/pending-cases", s.handleListPendingCases)
			priv.Get("/pending-cases/stats", s.handlePendingCaseStats)

			priv.Get("/assessment-standards", s.handleListStandards)
			priv.Route("/assessment-records", func(ar chi.Router) {
				ar.Get("/", s.handleListRecords)
				ar.Post("/", s.handleCreateRecord)
				ar.Get("/{id}", s.handleGetRecord)
				ar.Delete("/{id}", s.handleDeleteRecord)
				ar.Put("/{id}/fault-responsibility", s.handleFaultResponsibility)
			})
			priv.Post("/attendance-bonus/process", s.handleAttendanceBonus)
			priv.Post("/monthly-rewards/process", s.handleMonthlyRewards)
			priv.Get("/driving/stats", s.handleDrivingStats)

			priv.Get("/google/auth-url", s.handleGoogleAuthURL)
			priv.Post("/google/get-access-token", s.handleGoogleAccessToken)
			priv.Post("/google/revoke", s.handleGoogleRevoke)
			priv.Get("/google/status", s.handleGoogleStatus)

			priv.Post("/sync/schedule", s.handleStartSync)
			priv.Get("/sync/status/{task_id}", s.handleSyncStatus)

			priv.Get("/settings", s.handleListSettings)
			priv.Put("/settings", s.handlePutSetting)
			priv.Get("/settings/value/{key}", s.handleSettingValue)
		})
	})
	return r
}

// actor resolves the authenticated user row for the request. The row is
// re-read per request so role or department changes apply without waiting
// for token expiry.
func (s *Server) actor(r *http.Request) (*domain.User, error) {
	claims := claimsFrom(r.Context())
	if claims == nil {
		return nil, auth.ErrInvalidToken
	}
	return s.deps.Dir.GetUser(r.Context(), claims.UserID)
}
