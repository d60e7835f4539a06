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

package httpapi_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kunpeto/driver-management-system-sub001/internal/assessment"
	"github.com/kunpeto/driver-management-system-sub001/internal/auth"
	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/internal/httpapi"
	"github.com/kunpeto/driver-management-system-sub001/internal/profile"
	"github.com/kunpeto/driver-management-system-sub001/internal/store"
	schedsync "github.com/kunpeto/driver-management-system-sub001/internal/sync"
	"github.com/kunpeto/driver-management-system-sub001/pkg/credentials"
	"github.com/kunpeto/driver-management-system-sub001/pkg/sheets"
	"github.com/kunpeto/driver-management-system-sub001/pkg/vault"
)

const (
	adminToken   = "token-admin"
	staffToken   = "token-staff-tanhai"
	managerToken = "token-manager"
)

type testEnv struct {
	handler  http.Handler
	auth     *stubAuth
	profiles *stubProfiles
	scoring  *stubScoring
	bonus    *stubBonus
	rewards  *stubRewards
	sync     *stubSync
	google   *stubGoogle
	uploads  *stubUploads
	dir      *stubDir

	admin   *domain.User
	staff   *domain.User
	manager *domain.User
}

func newTestEnv() *testEnv {
	tanhai := domain.DepartmentTanhai
	env := &testEnv{
		auth:     &stubAuth{tokens: map[string]*auth.Claims{}},
		profiles: &stubProfiles{profiles: map[uuid.UUID]*domain.Profile{}, details: map[uuid.UUID]*domain.ProfileDetails{}},
		scoring:  &stubScoring{},
		bonus:    &stubBonus{},
		rewards:  &stubRewards{},
		sync:     &stubSync{},
		google:   &stubGoogle{},
		uploads:  &stubUploads{},
		dir:      newStubDir(),
	}

	env.admin = &domain.User{ID: uuid.New(), Username: "admin", Role: domain.RoleAdmin}
	env.staff = &domain.User{ID: uuid.New(), Username: "chen", Role: domain.RoleStaff, Department: &tanhai}
	env.manager = &domain.User{ID: uuid.New(), Username: "boss", Role: domain.RoleManager}
	for _, u := range []*domain.User{env.admin, env.staff, env.manager} {
		env.dir.users[u.ID] = u
	}
	env.auth.tokens[adminToken] = &auth.Claims{UserID: env.admin.ID, Role: domain.RoleAdmin, TokenType: "access"}
	env.auth.tokens[staffToken] = &auth.Claims{UserID: env.staff.ID, Role: domain.RoleStaff, Department: &tanhai, TokenType: "access"}
	env.auth.tokens[managerToken] = &auth.Claims{UserID: env.manager.ID, Role: domain.RoleManager, TokenType: "access"}

	srv := httpapi.NewServer(httpapi.Deps{
		Auth:     env.auth,
		Profiles: env.profiles,
		Scoring:  env.scoring,
		Bonus:    env.bonus,
		Rewards:  env.rewards,
		Sync:     env.sync,
		Google:   env.google,
		Uploads:  env.uploads,
		Dir:      env.dir,
		Version:  "test",
	}, zap.NewNop())
	env.handler = srv.Router()
	return env
}

// do performs one request against the router and returns the recorder.
func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "198.51.100.7:4321"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

type errEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	Expect(err).NotTo(HaveOccurred())
	return d
}

func decodeErr(rec *httptest.ResponseRecorder) errEnvelope {
	var env errEnvelope
	Expect(json.Unmarshal(rec.Body.Bytes(), &env)).To(Succeed())
	return env
}

var _ = Describe("Server", func() {
	var env *testEnv

	BeforeEach(func() {
		env = newTestEnv()
	})

	Describe("health and authentication", func() {
		It("serves /health without a token", func() {
			rec := env.do(http.MethodGet, "/health", "", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"status":"ok"`))
		})

		It("rejects protected routes without a bearer token", func() {
			rec := env.do(http.MethodGet, "/api/employees?department=tanhai", "", nil)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(decodeErr(rec).Error.Code).To(Equal("invalid_token"))
		})

		It("rejects garbage tokens", func() {
			rec := env.do(http.MethodGet, "/api/auth/me", "not-a-token", nil)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("logs in and returns the token pair", func() {
			env.auth.loginFn = func(username, password string) (*auth.LoginResult, error) {
				Expect(username).To(Equal("chen"))
				Expect(password).To(Equal("s3cret-pw"))
				return &auth.LoginResult{AccessToken: "a", RefreshToken: "r", User: env.staff}, nil
			}
			rec := env.do(http.MethodPost, "/api/auth/login", "", map[string]string{
				"username": "chen", "password": "s3cret-pw",
			})
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"access_token":"a"`))
			// Password hash must never appear on the wire.
			Expect(rec.Body.String()).NotTo(ContainSubstring("password_hash"))
		})

		It("maps bad credentials to 401", func() {
			rec := env.do(http.MethodPost, "/api/auth/login", "", map[string]string{
				"username": "chen", "password": "wrong",
			})
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(decodeErr(rec).Error.Code).To(Equal("invalid_credentials"))
		})

		It("rate-limits login per client IP with a retry hint", func() {
			var last *httptest.ResponseRecorder
			for i := 0; i < 11; i++ {
				last = env.do(http.MethodPost, "/api/auth/login", "", map[string]string{
					"username": "chen", "password": "wrong",
				})
			}
			Expect(last.Code).To(Equal(http.StatusTooManyRequests))
			envlp := decodeErr(last)
			Expect(envlp.Error.Code).To(Equal("rate_limited"))
			Expect(envlp.Error.Details).To(HaveKey("retry_after_seconds"))
			Expect(envlp.Error.Details["retry_after_seconds"]).To(BeNumerically(">", 0))
		})

		It("returns the caller's account on /auth/me", func() {
			rec := env.do(http.MethodGet, "/api/auth/me", staffToken, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			var user domain.User
			Expect(json.Unmarshal(rec.Body.Bytes(), &user)).To(Succeed())
			Expect(user.Username).To(Equal("chen"))
			Expect(user.PasswordHash).To(BeEmpty())
		})

		It("maps a weak new password to 422", func() {
			env.auth.changeFn = func(uuid.UUID, string, string) error { return auth.ErrWeakPassword }
			rec := env.do(http.MethodPost, "/api/auth/change-password", staffToken, map[string]string{
				"old_password": "old-pw-123", "new_password": "short",
			})
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
		})
	})

	Describe("user administration", func() {
		It("lets the admin create a staff account", func() {
			rec := env.do(http.MethodPost, "/api/users", adminToken, map[string]any{
				"username": "lin", "password": "longenough1", "role": "staff", "department": "ankeng",
			})
			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(env.dir.createdUsers).To(HaveLen(1))
			Expect(env.dir.createdUsers[0].PasswordHash).NotTo(BeEmpty())
			Expect(env.dir.createdUsers[0].PasswordHash).NotTo(Equal("longenough1"))
		})

		It("refuses staff accounts without a department", func() {
			rec := env.do(http.MethodPost, "/api/users", adminToken, map[string]any{
				"username": "lin", "password": "longenough1", "role": "staff",
			})
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
		})

		It("forbids non-admins", func() {
			rec := env.do(http.MethodGet, "/api/users", managerToken, nil)
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})
	})

	Describe("employees", func() {
		It("creates an employee in the staff member's department", func() {
			rec := env.do(http.MethodPost, "/api/employees/", staffToken, map[string]any{
				"employee_code": "2304A1001", "name": "王小明", "department": "tanhai",
			})
			Expect(rec.Code).To(Equal(http.StatusCreated))
		})

		It("rejects a malformed employee code", func() {
			rec := env.do(http.MethodPost, "/api/employees/", staffToken, map[string]any{
				"employee_code": "XXXX", "name": "王小明", "department": "tanhai",
			})
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
			Expect(decodeErr(rec).Error.Code).To(Equal("invalid_employee_code"))
		})

		It("forbids staff writing outside their department", func() {
			rec := env.do(http.MethodPost, "/api/employees/", staffToken, map[string]any{
				"employee_code": "2304A1001", "name": "王小明", "department": "ankeng",
			})
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})

		It("forbids managers from writing at all", func() {
			rec := env.do(http.MethodPost, "/api/employees/", managerToken, map[string]any{
				"employee_code": "2304A1001", "name": "王小明", "department": "tanhai",
			})
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})

		It("maps duplicate codes to 409", func() {
			payload := map[string]any{"employee_code": "2304A1001", "name": "王小明", "department": "tanhai"}
			Expect(env.do(http.MethodPost, "/api/employees/", staffToken, payload).Code).To(Equal(http.StatusCreated))
			rec := env.do(http.MethodPost, "/api/employees/", staffToken, payload)
			Expect(rec.Code).To(Equal(http.StatusConflict))
			Expect(decodeErr(rec).Error.Code).To(Equal("conflict"))
		})

		It("defaults the staff listing to their own department", func() {
			rec := env.do(http.MethodGet, "/api/employees/", staffToken, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(env.dir.lastEmployeeFilter.Department).NotTo(BeNil())
			Expect(*env.dir.lastEmployeeFilter.Department).To(Equal(domain.DepartmentTanhai))
		})

		It("requires an explicit department for managers", func() {
			rec := env.do(http.MethodGet, "/api/employees/", managerToken, nil)
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
			Expect(decodeErr(rec).Error.Code).To(Equal("department_required"))
		})

		It("forbids staff listing the other department", func() {
			rec := env.do(http.MethodGet, "/api/employees/?department=ankeng", staffToken, nil)
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})

		Describe("transfers", func() {
			var empID uuid.UUID

			BeforeEach(func() {
				emp := &domain.Employee{EmployeeCode: "2304A1001", Name: "王小明", Department: domain.DepartmentTanhai}
				Expect(env.dir.CreateEmployee(nil, emp)).To(Succeed())
				empID = emp.ID
			})

			It("lets the admin transfer and logs the hop", func() {
				rec := env.do(http.MethodPost, fmt.Sprintf("/api/employees/%s/transfer", empID), adminToken, map[string]any{
					"to_dept": "ankeng", "effective_date": "2026-09-01T00:00:00Z", "reason": "rotation",
				})
				Expect(rec.Code).To(Equal(http.StatusCreated))
				Expect(env.dir.employees[empID].Department).To(Equal(domain.DepartmentAnkeng))

				list := env.do(http.MethodGet, fmt.Sprintf("/api/employees/%s/transfers", empID), adminToken, nil)
				Expect(list.Code).To(Equal(http.StatusOK))
				Expect(list.Body.String()).To(ContainSubstring(`"from_dept":"tanhai"`))
			})

			It("forbids staff transfers", func() {
				rec := env.do(http.MethodPost, fmt.Sprintf("/api/employees/%s/transfer", empID), staffToken, map[string]any{
					"to_dept": "ankeng", "effective_date": "2026-09-01T00:00:00Z", "reason": "rotation",
				})
				Expect(rec.Code).To(Equal(http.StatusForbidden))
			})

			It("rejects a no-op transfer", func() {
				rec := env.do(http.MethodPost, fmt.Sprintf("/api/employees/%s/transfer", empID), adminToken, map[string]any{
					"to_dept": "tanhai", "effective_date": "2026-09-01T00:00:00Z", "reason": "rotation",
				})
				Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
			})
		})
	})

	Describe("profiles", func() {
		var profileID uuid.UUID

		BeforeEach(func() {
			profileID = uuid.New()
			env.profiles.profiles[profileID] = &domain.Profile{
				ID:               profileID,
				Department:       domain.DepartmentTanhai,
				EmployeeID:       uuid.New(),
				EventDate:        time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC),
				EventDescription: "平交道障礙物",
				ProfileType:      domain.ProfileEventInvestigation,
				ConversionStatus: domain.ConversionConverted,
				Version:          2,
			}
		})

		It("passes creation through to the service with the resolved actor", func() {
			env.profiles.createFn = func(in profile.CreateInput, actor *domain.User) (*domain.Profile, error) {
				Expect(actor.Username).To(Equal("chen"))
				Expect(in.EventDescription).To(Equal("月台事件"))
				return &domain.Profile{ID: uuid.New(), Department: in.Department}, nil
			}
			rec := env.do(http.MethodPost, "/api/profiles/", staffToken, map[string]any{
				"department": "tanhai", "employee_id": uuid.New(),
				"event_date": "2026-03-07T00:00:00Z", "event_description": "月台事件",
			})
			Expect(rec.Code).To(Equal(http.StatusCreated))
		})

		It("hides other departments' profiles from staff", func() {
			env.profiles.profiles[profileID].Department = domain.DepartmentAnkeng
			rec := env.do(http.MethodGet, "/api/profiles/"+profileID.String(), staffToken, nil)
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})

		It("maps a stale conversion version to 409", func() {
			env.profiles.convertFn = func(uuid.UUID, domain.ProfileDetails, int, *domain.User) (*domain.Profile, error) {
				return nil, store.ErrConflict
			}
			rec := env.do(http.MethodPost, "/api/profiles/"+profileID.String()+"/convert", staffToken, map[string]any{
				"version": 1,
				"details": map[string]any{"personnel_interview": map[string]any{
					"interviewer_name": "張主任", "content": "訪談內容", "employee_opinion": "",
				}},
			})
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})

		It("serves the generated document as a DOCX attachment", func() {
			env.profiles.generateFn = func(id uuid.UUID, actor *domain.User) ([]byte, string, error) {
				return []byte("PK\x03\x04stub"), "tanhai_EI_2304A1001_2026-03-07.docx", nil
			}
			rec := env.do(http.MethodPost, "/api/profiles/"+profileID.String()+"/generate-document", staffToken, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(ContainSubstring("wordprocessingml"))
			Expect(rec.Header().Get("Content-Disposition")).To(ContainSubstring("tanhai_EI_2304A1001_2026-03-07.docx"))
			Expect(rec.Body.Bytes()[:2]).To(Equal([]byte("PK")))
		})

		It("rate-limits document generation per actor", func() {
			env.profiles.generateFn = func(uuid.UUID, *domain.User) ([]byte, string, error) {
				return []byte("PK"), "x.docx", nil
			}
			var last *httptest.ResponseRecorder
			for i := 0; i < 6; i++ {
				last = env.do(http.MethodPost, "/api/profiles/"+profileID.String()+"/generate-document", staffToken, nil)
			}
			Expect(last.Code).To(Equal(http.StatusTooManyRequests))

			// A different actor still has a full bucket.
			other := env.do(http.MethodPost, "/api/profiles/"+profileID.String()+"/generate-document", adminToken, nil)
			Expect(other.Code).To(Equal(http.StatusOK))
		})

		It("maps generating a Basic profile's document to 409", func() {
			env.profiles.generateFn = func(uuid.UUID, *domain.User) ([]byte, string, error) {
				return nil, "", profile.ErrNotConverted
			}
			rec := env.do(http.MethodPost, "/api/profiles/"+profileID.String()+"/generate-document", staffToken, nil)
			Expect(rec.Code).To(Equal(http.StatusConflict))
			Expect(decodeErr(rec).Error.Code).To(Equal("invalid_state"))
		})

		It("plans an upload from the profile and employee code", func() {
			emp := &domain.Employee{EmployeeCode: "2304A1001", Name: "王小明", Department: domain.DepartmentTanhai}
			Expect(env.dir.CreateEmployee(nil, emp)).To(Succeed())
			env.profiles.profiles[profileID].EmployeeID = emp.ID

			rec := env.do(http.MethodPost, "/api/profiles/"+profileID.String()+"/prepare-upload", staffToken, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("事件調查/2026/03"))
			Expect(rec.Body.String()).To(ContainSubstring("tanhai_EI_2304A1001_2026-03-07.docx"))
		})

		It("completes a profile with the Drive link", func() {
			var gotLink, gotActor string
			env.uploads.markFn = func(id uuid.UUID, link, actor string) error {
				Expect(id).To(Equal(profileID))
				gotLink, gotActor = link, actor
				return nil
			}
			rec := env.do(http.MethodPost, "/api/profiles/"+profileID.String()+"/complete", staffToken, map[string]string{
				"drive_link": "https://drive.google.com/file/d/abc",
			})
			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(gotLink).To(Equal("https://drive.google.com/file/d/abc"))
			Expect(gotActor).To(Equal("chen"))
		})

		It("keeps reset admin-only", func() {
			Expect(env.do(http.MethodPost, "/api/profiles/"+profileID.String()+"/reset", staffToken, nil).Code).
				To(Equal(http.StatusForbidden))
			Expect(env.do(http.MethodPost, "/api/profiles/"+profileID.String()+"/reset", adminToken, nil).Code).
				To(Equal(http.StatusNoContent))
		})
	})

	Describe("assessment", func() {
		It("scores a record with the actor as author", func() {
			empID := uuid.New()
			rec := env.do(http.MethodPost, "/api/assessment-records/", staffToken, map[string]any{
				"department": "tanhai", "employee_id": empID,
				"standard_code": "D01", "event_date": "2026-03-07T00:00:00Z",
			})
			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(env.scoring.lastDraft.Actor).To(Equal("chen"))
			Expect(env.scoring.lastDraft.StandardCode).To(Equal("D01"))
		})

		It("forbids cross-department scoring", func() {
			rec := env.do(http.MethodPost, "/api/assessment-records/", staffToken, map[string]any{
				"department": "ankeng", "employee_id": uuid.New(),
				"standard_code": "D01", "event_date": "2026-03-07T00:00:00Z",
			})
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})

		It("replaces the fault checklist and returns the rescored record", func() {
			recID := uuid.New()
			env.dir.records[recID] = &domain.AssessmentRecord{ID: recID, Department: domain.DepartmentTanhai}
			rec := env.do(http.MethodPut, "/api/assessment-records/"+recID.String()+"/fault-responsibility", staffToken, map[string]any{
				"fault_checklist": map[string]any{
					"flags":         []bool{true, true, true, true, false, false, false, false, false},
					"delay_seconds": 240,
				},
			})
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"delay_seconds":240`))
		})

		It("runs the attendance bonus pass with dry_run", func() {
			var gotDry bool
			env.bonus.processFn = func(dept domain.Department, year, month int, dryRun bool, actor string) (*assessment.BonusResult, error) {
				gotDry = dryRun
				return &assessment.BonusResult{Department: dept, Year: year, Month: month, DryRun: dryRun}, nil
			}
			rec := env.do(http.MethodPost, "/api/attendance-bonus/process", adminToken, map[string]any{
				"department": "tanhai", "year": 2026, "month": 3, "dry_run": true,
			})
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(gotDry).To(BeTrue())
		})

		It("rejects an out-of-range month", func() {
			rec := env.do(http.MethodPost, "/api/monthly-rewards/process", adminToken, map[string]any{
				"department": "tanhai", "year": 2026, "month": 13,
			})
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
		})

		It("aggregates driving stats per category and employee", func() {
			empA, empB := uuid.New(), uuid.New()
			addRecord := func(emp uuid.UUID, cat domain.CategoryCode, points string) {
				id := uuid.New()
				env.dir.records[id] = &domain.AssessmentRecord{
					ID: id, Department: domain.DepartmentTanhai, EmployeeID: emp,
					CategoryCode: cat, FinalPoints: mustDecimal(points),
				}
			}
			addRecord(empA, domain.CategoryD, "-1.0")
			addRecord(empA, domain.CategoryR, "-4.5")
			addRecord(empB, domain.CategoryMR, "0.5")

			rec := env.do(http.MethodGet, "/api/driving/stats?department=tanhai&year=2026&month=3", managerToken, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var stats struct {
				TotalRecords int            `json:"total_records"`
				ByCategory   map[string]int `json:"by_category"`
				Employees    []struct {
					EmployeeID  uuid.UUID `json:"employee_id"`
					RecordCount int       `json:"record_count"`
					NetPoints   string    `json:"net_points"`
				} `json:"employees"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &stats)).To(Succeed())
			Expect(stats.TotalRecords).To(Equal(3))
			Expect(stats.ByCategory).To(HaveKeyWithValue("D", 1))
			Expect(stats.ByCategory).To(HaveKeyWithValue("+M", 1))
			Expect(stats.Employees).To(HaveLen(2))
			for _, e := range stats.Employees {
				if e.EmployeeID == empA {
					Expect(e.RecordCount).To(Equal(2))
					Expect(e.NetPoints).To(Equal("-5.5"))
				}
			}
		})
	})

	Describe("google authorization", func() {
		It("hands out the per-department auth URL", func() {
			rec := env.do(http.MethodGet, "/api/google/auth-url?department=tanhai", adminToken, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("state-tanhai"))
		})

		It("finalizes the callback without a bearer token", func() {
			env.google.finalizeFn = func(state, code string) (domain.Department, error) {
				Expect(state).To(Equal("state-tanhai"))
				Expect(code).To(Equal("4/code"))
				return domain.DepartmentTanhai, nil
			}
			rec := env.do(http.MethodGet, "/api/auth/google/callback?state=state-tanhai&code=4%2Fcode", "", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"authorized":true`))
		})

		It("maps a replayed state to 422", func() {
			rec := env.do(http.MethodGet, "/api/auth/google/callback?state=used&code=x", "", nil)
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
		})

		It("maps a missing grant to 404 not_authorized", func() {
			env.google.acquireFn = func(domain.Department) (string, error) {
				return "", credentials.ErrNotAuthorized
			}
			rec := env.do(http.MethodPost, "/api/google/get-access-token", staffToken, map[string]string{"department": "tanhai"})
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(decodeErr(rec).Error.Code).To(Equal("not_authorized"))
		})

		It("maps an undecryptable grant to 500 vault_inconsistency", func() {
			env.google.acquireFn = func(domain.Department) (string, error) {
				return "", vault.ErrInconsistent
			}
			rec := env.do(http.MethodPost, "/api/google/get-access-token", staffToken, map[string]string{"department": "tanhai"})
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(decodeErr(rec).Error.Code).To(Equal("vault_inconsistency"))
		})

		It("maps provider failures to 502", func() {
			env.google.acquireFn = func(domain.Department) (string, error) {
				return "", credentials.ErrUpstreamAuthFailure
			}
			rec := env.do(http.MethodPost, "/api/google/get-access-token", staffToken, map[string]string{"department": "tanhai"})
			Expect(rec.Code).To(Equal(http.StatusBadGateway))
			Expect(decodeErr(rec).Error.Code).To(Equal("upstream_unavailable"))
		})
	})

	Describe("sync", func() {
		It("accepts a sync request and returns the task id", func() {
			id := uuid.New()
			env.sync.startFn = func(kind schedsync.Kind, dept domain.Department, year, month int, actor string) (uuid.UUID, error) {
				Expect(kind).To(Equal(schedsync.KindAttendance))
				Expect(dept).To(Equal(domain.DepartmentTanhai))
				Expect(actor).To(Equal("chen"))
				return id, nil
			}
			rec := env.do(http.MethodPost, "/api/sync/schedule", staffToken, map[string]any{
				"department": "tanhai", "year": 2026, "month": 3,
			})
			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Expect(rec.Body.String()).To(ContainSubstring(id.String()))
		})

		It("maps a saturated queue to 503 sync_busy", func() {
			env.sync.startFn = func(schedsync.Kind, domain.Department, int, int, string) (uuid.UUID, error) {
				return uuid.Nil, schedsync.ErrBusy
			}
			rec := env.do(http.MethodPost, "/api/sync/schedule", staffToken, map[string]any{
				"department": "tanhai", "year": 2026, "month": 3,
			})
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(decodeErr(rec).Error.Code).To(Equal("sync_busy"))
		})

		It("reports task status and 404s unknown ids", func() {
			id := uuid.New()
			env.sync.statusFn = func(got uuid.UUID) (schedsync.Task, error) {
				if got == id {
					return schedsync.Task{ID: id, Department: domain.DepartmentTanhai, Status: schedsync.StatusRunning}, nil
				}
				return schedsync.Task{}, schedsync.ErrUnknownTask
			}
			ok := env.do(http.MethodGet, "/api/sync/status/"+id.String(), staffToken, nil)
			Expect(ok.Code).To(Equal(http.StatusOK))
			Expect(ok.Body.String()).To(ContainSubstring(`"status":"running"`))

			missing := env.do(http.MethodGet, "/api/sync/status/"+uuid.NewString(), staffToken, nil)
			Expect(missing.Code).To(Equal(http.StatusNotFound))
		})

		It("hides other departments' tasks from staff", func() {
			id := uuid.New()
			env.sync.statusFn = func(uuid.UUID) (schedsync.Task, error) {
				return schedsync.Task{ID: id, Department: domain.DepartmentAnkeng}, nil
			}
			rec := env.do(http.MethodGet, "/api/sync/status/"+id.String(), staffToken, nil)
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})
	})

	Describe("settings", func() {
		BeforeEach(func() {
			Expect(env.dir.PutSetting(nil, &domain.Setting{
				Department: domain.DepartmentTanhai, Key: "drive_folder_id", Value: "1AbC",
			})).To(Succeed())
		})

		It("serves the frozen single-value shape", func() {
			rec := env.do(http.MethodGet, "/api/settings/value/drive_folder_id?department=tanhai", staffToken, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			var body map[string]string
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body).To(Equal(map[string]string{
				"key": "drive_folder_id", "department": "tanhai", "value": "1AbC",
			}))
		})

		It("404s an unknown key", func() {
			rec := env.do(http.MethodGet, "/api/settings/value/nope?department=tanhai", staffToken, nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("keeps writes admin-only", func() {
			payload := map[string]string{"department": "tanhai", "key": "sheet_id", "value": "xyz"}
			Expect(env.do(http.MethodPut, "/api/settings", staffToken, payload).Code).To(Equal(http.StatusForbidden))
			Expect(env.do(http.MethodPut, "/api/settings", adminToken, payload).Code).To(Equal(http.StatusOK))
		})
	})

	Describe("request hygiene", func() {
		It("rejects unknown body fields", func() {
			rec := env.do(http.MethodPost, "/api/sync/schedule", staffToken, map[string]any{
				"department": "tanhai", "year": 2026, "month": 3, "frequency": "daily",
			})
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
			Expect(decodeErr(rec).Error.Code).To(Equal("malformed_body"))
		})

		It("never leaks internal error text", func() {
			env.sync.startFn = func(schedsync.Kind, domain.Department, int, int, string) (uuid.UUID, error) {
				return uuid.Nil, fmt.Errorf("pq: connection refused to 10.0.0.5")
			}
			rec := env.do(http.MethodPost, "/api/sync/schedule", staffToken, map[string]any{
				"department": "tanhai", "year": 2026, "month": 3,
			})
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).NotTo(ContainSubstring("10.0.0.5"))
			Expect(decodeErr(rec).Error.Code).To(Equal("internal_error"))
		})

		It("maps sheets outages to 502 upstream_unavailable", func() {
			env.sync.startFn = func(schedsync.Kind, domain.Department, int, int, string) (uuid.UUID, error) {
				return uuid.Nil, sheets.ErrUpstreamUnavailable
			}
			rec := env.do(http.MethodPost, "/api/sync/schedule", staffToken, map[string]any{
				"department": "tanhai", "year": 2026, "month": 3,
			})
			Expect(rec.Code).To(Equal(http.StatusBadGateway))
		})
	})
})
