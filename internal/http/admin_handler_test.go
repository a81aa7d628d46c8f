package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/repository"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/scheduler"
)

type stubAdminUsers struct {
	users     []domain.UserProfile
	statuses  map[string]string
	proactive map[string]bool
}

func (s *stubAdminUsers) ListPaged(_ context.Context, limit, offset int) ([]domain.UserProfile, error) {
	if offset >= len(s.users) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.users) {
		end = len(s.users)
	}
	return s.users[offset:end], nil
}

func (s *stubAdminUsers) Count(_ context.Context) (int, error) {
	return len(s.users), nil
}

func (s *stubAdminUsers) SetStatus(_ context.Context, userID, status string) error {
	if s.statuses == nil {
		s.statuses = make(map[string]string)
	}
	s.statuses[userID] = status
	return nil
}

func (s *stubAdminUsers) SetProactiveEnabled(_ context.Context, userID string, enabled bool) error {
	if s.proactive == nil {
		s.proactive = make(map[string]bool)
	}
	s.proactive[userID] = enabled
	return nil
}

type stubStats struct {
	stats repository.InteractionStats
}

func (s *stubStats) Stats(_ context.Context, _ string, _ time.Time) (repository.InteractionStats, error) {
	return s.stats, nil
}

type stubIncidents struct {
	incidents []domain.SecurityIncident
}

func (s *stubIncidents) ListByUser(_ context.Context, _ string, _ int) ([]domain.SecurityIncident, error) {
	return s.incidents, nil
}

type stubJobs struct {
	statuses []scheduler.JobStatus
	ran      string
	runErr   error
}

func (s *stubJobs) Status() []scheduler.JobStatus {
	return s.statuses
}

func (s *stubJobs) RunNow(name string) error {
	if s.runErr != nil {
		return s.runErr
	}
	s.ran = name
	return nil
}

type stubResetter struct {
	reset string
}

func (s *stubResetter) Reset(_ context.Context, userID string) error {
	s.reset = userID
	return nil
}

type stubMemoryAdmin struct {
	migrations map[string]string
	cleaned    int
}

func (s *stubMemoryAdmin) Migrate(_ context.Context, from, to, _, _ string) (int, error) {
	if s.migrations == nil {
		s.migrations = make(map[string]string)
	}
	s.migrations[from] = to
	return 3, nil
}

func (s *stubMemoryAdmin) CleanupWeak(_ context.Context, _, _ float64) (int, error) {
	return s.cleaned, nil
}

type stubReflectionHistory struct {
	run domain.ReflectionRun
	ok  bool
}

func (s *stubReflectionHistory) LastRun(_ context.Context) (domain.ReflectionRun, bool, error) {
	return s.run, s.ok, nil
}

type adminFixture struct {
	users    *stubAdminUsers
	jobs     *stubJobs
	resetter *stubResetter
	store    *stubMemoryAdmin
	router   *gin.Engine
	token    string
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &adminFixture{
		users: &stubAdminUsers{users: []domain.UserProfile{
			{UserID: "u1", Status: domain.UserStatusActive},
			{UserID: "u2", Status: domain.UserStatusInactive},
		}},
		jobs: &stubJobs{statuses: []scheduler.JobStatus{
			{Name: "nightly_reflection", Spec: "0 3 * * *"},
		}},
		resetter: &stubResetter{},
		store:    &stubMemoryAdmin{cleaned: 7},
		token:    "admin-token",
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(f.token), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}

	runs := &stubReflectionHistory{run: domain.ReflectionRun{ID: "r1", UsersProcessed: 12}, ok: true}
	h := NewAdminHandler(zap.NewNop(), f.users, &stubStats{}, &stubIncidents{}, f.jobs, f.resetter, f.store, runs)
	r := gin.New()
	admin := r.Group("/admin", AdminMiddleware(string(hash)))
	admin.GET("/stats", h.GetSystemStats)
	admin.GET("/users", h.ListUsers)
	admin.PUT("/users/:user_id/status", h.SetUserStatus)
	admin.PUT("/users/:user_id/proactive", h.SetProactive)
	admin.GET("/users/:user_id/stats", h.GetUserStats)
	admin.GET("/users/:user_id/incidents", h.GetUserIncidents)
	admin.POST("/users/:user_id/personality/reset", h.ResetPersonality)
	admin.GET("/jobs", h.ListJobs)
	admin.POST("/jobs/:name/run", h.RunJob)
	admin.POST("/memories/migrate", h.MigrateMemories)
	admin.POST("/memories/cleanup", h.CleanupMemories)
	f.router = r
	return f
}

func (f *adminFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", f.token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestAdminListUsers(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(t, http.MethodGet, "/admin/users", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp struct {
		Total int                  `json:"total"`
		Users []domain.UserProfile `json:"users"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 2 || len(resp.Users) != 2 {
		t.Fatalf("expected 2 users, got total=%d len=%d", resp.Total, len(resp.Users))
	}
}

func TestAdminSetUserStatus(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(t, http.MethodPut, "/admin/users/u1/status", map[string]string{"status": "archived"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if f.users.statuses["u1"] != domain.UserStatusArchived {
		t.Fatalf("expected u1 archived, got %q", f.users.statuses["u1"])
	}
}

func TestAdminSetUserStatus_RejectsUnknownStatus(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(t, http.MethodPut, "/admin/users/u1/status", map[string]string{"status": "banned"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestAdminSetProactive(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(t, http.MethodPut, "/admin/users/u1/proactive", map[string]bool{"enabled": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if enabled, ok := f.users.proactive["u1"]; !ok || enabled {
		t.Fatalf("expected proactive disabled for u1")
	}
}

func TestAdminResetPersonality(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(t, http.MethodPost, "/admin/users/u1/personality/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if f.resetter.reset != "u1" {
		t.Fatalf("expected reset for u1, got %q", f.resetter.reset)
	}
}

func TestAdminRunJob(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(t, http.MethodPost, "/admin/jobs/nightly_reflection/run", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}
	if f.jobs.ran != "nightly_reflection" {
		t.Fatalf("expected nightly_reflection triggered, got %q", f.jobs.ran)
	}
}

func TestAdminMigrateMemories_CoversBothCollections(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(t, http.MethodPost, "/admin/memories/migrate", map[string]string{
		"from_user_id": "u1",
		"to_user_id":   "u9",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if f.store.migrations["episodic_u1"] != "episodic_u9" {
		t.Fatalf("expected episodic migration, got %v", f.store.migrations)
	}
	if f.store.migrations["semantic_u1"] != "semantic_u9" {
		t.Fatalf("expected semantic migration, got %v", f.store.migrations)
	}

	var resp struct {
		Moved int `json:"moved"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Moved != 6 {
		t.Fatalf("expected 6 moved points, got %d", resp.Moved)
	}
}

func TestAdminCleanupMemories(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(t, http.MethodPost, "/admin/memories/cleanup", map[string]float64{
		"max_recency":    0.1,
		"max_importance": 0.3,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp struct {
		Removed int `json:"removed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Removed != 7 {
		t.Fatalf("expected 7 removed, got %d", resp.Removed)
	}
}

func TestAdminSystemStats(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(t, http.MethodGet, "/admin/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp struct {
		TotalUsers     int                  `json:"total_users"`
		LastReflection domain.ReflectionRun `json:"last_reflection"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TotalUsers != 2 {
		t.Fatalf("expected 2 users, got %d", resp.TotalUsers)
	}
	if resp.LastReflection.UsersProcessed != 12 {
		t.Fatalf("expected last reflection run in stats, got %+v", resp.LastReflection)
	}
}
