package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/stackform/portal/internal/domain"
	"github.com/stackform/portal/internal/repository"
	"github.com/stackform/portal/internal/service/approval"
	"github.com/stackform/portal/internal/service/auth"
	"github.com/stackform/portal/internal/service/catalog"
	"github.com/stackform/portal/internal/service/request"
	"github.com/stackform/portal/pkg/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryStore backs every repository interface for router tests.
type memoryStore struct {
	mu        sync.Mutex
	users     map[string]*domain.User
	requests  map[string]*domain.Request
	approvals map[string]*domain.Approval
	audits    []domain.AuditLog
	envs      []domain.Environment
	types     []domain.ResourceType
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:     make(map[string]*domain.User),
		requests:  make(map[string]*domain.Request),
		approvals: make(map[string]*domain.Approval),
		envs: []domain.Environment{
			{ID: "env-dev", Name: "Development", Slug: "dev", RequiresApproval: false},
			{ID: "env-prod", Name: "Production", Slug: "production", RequiresApproval: true},
		},
		types: []domain.ResourceType{
			{
				ID:   "rt-db",
				Name: "PostgreSQL",
				Slug: "postgres",
				ConfigSchema: json.RawMessage(`{"properties": {
					"instance_size": {"type": "string", "enum": ["small", "large"], "default": "small"},
					"storage_gb": {"type": "integer", "minimum": 10, "maximum": 1000, "default": 20}
				}}`),
			},
		},
	}
}

func (s *memoryStore) CreateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == user.Email {
			return repository.ErrInvalidArgument
		}
	}
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

func (s *memoryStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memoryStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *memoryStore) setRole(t *testing.T, userID, role string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		t.Fatalf("unknown user %q", userID)
	}
	user.Role = role
}

func (s *memoryStore) ListEnvironments(ctx context.Context) ([]domain.Environment, error) {
	return s.envs, nil
}

func (s *memoryStore) GetEnvironmentByID(ctx context.Context, id string) (*domain.Environment, error) {
	for i := range s.envs {
		if s.envs[i].ID == id {
			copied := s.envs[i]
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memoryStore) ListResourceTypes(ctx context.Context) ([]domain.ResourceType, error) {
	return s.types, nil
}

func (s *memoryStore) GetResourceTypeByID(ctx context.Context, id string) (*domain.ResourceType, error) {
	for i := range s.types {
		if s.types[i].ID == id {
			copied := s.types[i]
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memoryStore) CreateRequest(ctx context.Context, req *domain.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *req
	s.requests[req.ID] = &copied
	return nil
}

func (s *memoryStore) GetRequestByID(ctx context.Context, id string) (*domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *req
	return &copied, nil
}

func (s *memoryStore) ListRequests(ctx context.Context, filter repository.RequestFilter) ([]domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Request
	for _, req := range s.requests {
		if filter.UserID != "" && req.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.EnvironmentID != "" && req.EnvironmentID != filter.EnvironmentID {
			continue
		}
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memoryStore) UpdateRequest(ctx context.Context, req *domain.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		return repository.ErrNotFound
	}
	copied := *req
	s.requests[req.ID] = &copied
	return nil
}

func (s *memoryStore) DeleteRequest(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.requests, id)
	return nil
}

func (s *memoryStore) CreateApproval(ctx context.Context, a *domain.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *a
	s.approvals[a.ID] = &copied
	return nil
}

func (s *memoryStore) GetApprovalByID(ctx context.Context, id string) (*domain.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *a
	if req, ok := s.requests[a.RequestID]; ok {
		reqCopy := *req
		copied.Request = &reqCopy
	}
	return &copied, nil
}

func (s *memoryStore) GetApprovalByRequestID(ctx context.Context, requestID string) (*domain.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.approvals {
		if a.RequestID == requestID {
			copied := *a
			if req, ok := s.requests[a.RequestID]; ok {
				reqCopy := *req
				copied.Request = &reqCopy
			}
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memoryStore) ListApprovalsByStatus(ctx context.Context, status string) ([]domain.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Approval
	for _, a := range s.approvals {
		if a.Status == status {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memoryStore) UpdateApproval(ctx context.Context, a *domain.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.approvals[a.ID]; !ok {
		return repository.ErrNotFound
	}
	copied := *a
	copied.Request = nil
	s.approvals[a.ID] = &copied
	return nil
}

func (s *memoryStore) InsertAudit(ctx context.Context, entry *domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *entry
	copied.ID = int64(len(s.audits) + 1)
	s.audits = append(s.audits, copied)
	return nil
}

func (s *memoryStore) ListAuditsByEntity(ctx context.Context, entityType, entityID string, limit int) ([]domain.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditLog
	for i := len(s.audits) - 1; i >= 0 && len(out) < limit; i-- {
		if s.audits[i].EntityType == entityType && s.audits[i].EntityID == entityID {
			out = append(out, s.audits[i])
		}
	}
	return out, nil
}

const testProvisionerToken = "prov-secret"

func newTestRouter(t *testing.T, store *memoryStore, dbHealth func(context.Context) error) *Router {
	t.Helper()
	logger := newLogger()
	cfg := config.APIConfig{JWTSecret: "router-test-secret", TokenTTL: time.Hour}
	authSvc := auth.New(store, logger, cfg)
	catalogSvc := catalog.New(store, logger)
	approvalSvc := approval.New(store, store, store, logger)
	requestSvc := request.New(store, store, store, approvalSvc, logger)
	router := NewRouter(logger, authSvc, catalogSvc, requestSvc, approvalSvc, nil, testProvisionerToken, dbHealth)
	t.Cleanup(router.Close)
	return router
}

func doJSON(t *testing.T, router *Router, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func signup(t *testing.T, router *Router, email string) (string, string) {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/auth/signup", "", map[string]string{
		"email":    email,
		"password": "hunter2222",
		"name":     "Router Test",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup failed: %d %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		User  struct{ ID string } `json:"user"`
		Token string              `json:"token"`
	}
	decodeBody(t, rec, &payload)
	return payload.User.ID, payload.Token
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, newMemoryStore(), func(ctx context.Context) error { return nil })
	rec := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	degraded := newTestRouter(t, newMemoryStore(), func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	rec = doJSON(t, degraded, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	router := newTestRouter(t, newMemoryStore(), nil)
	for _, path := range []string{"/environments", "/resource-types", "/requests", "/approvals"} {
		rec := doJSON(t, router, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rec.Code)
		}
	}
	rec := doJSON(t, router, http.MethodGet, "/requests", "garbage-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", rec.Code)
	}
}

func TestRequestFlowAutoApprove(t *testing.T) {
	store := newMemoryStore()
	router := newTestRouter(t, store, nil)
	_, token := signup(t, router, "dev@example.com")

	rec := doJSON(t, router, http.MethodPost, "/requests", token, map[string]any{
		"environment_id":   "env-dev",
		"resource_type_id": "rt-db",
		"title":            "checkout db",
		"config":           map[string]any{"storage_gb": 100},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID     string          `json:"id"`
		Status string          `json:"status"`
		Config json.RawMessage `json:"config"`
	}
	decodeBody(t, rec, &created)
	if created.Status != "draft" {
		t.Fatalf("expected draft, got %q", created.Status)
	}
	var cfg map[string]any
	if err := json.Unmarshal(created.Config, &cfg); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg["instance_size"] != "small" || cfg["storage_gb"] != float64(100) {
		t.Fatalf("unexpected config: %v", cfg)
	}

	rec = doJSON(t, router, http.MethodPost, "/requests/"+created.ID+"/submit", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit failed: %d %s", rec.Code, rec.Body.String())
	}
	stored, err := store.GetRequestByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("load request: %v", err)
	}
	if string(stored.Status) != "approved" {
		t.Fatalf("dev environment submissions approve immediately, got %s", stored.Status)
	}
	if len(store.approvals) != 0 {
		t.Fatalf("auto-approval must not create approval records, got %d", len(store.approvals))
	}

	req := httptest.NewRequest(http.MethodPost, "/provisioner/callback", bytes.NewReader([]byte(
		fmt.Sprintf(`{"request_id": %q, "outcome": "applied"}`, created.ID))))
	req.Header.Set("X-Provisioner-Token", testProvisionerToken)
	prov := httptest.NewRecorder()
	router.ServeHTTP(prov, req)
	if prov.Code != http.StatusAccepted {
		t.Fatalf("callback failed: %d %s", prov.Code, prov.Body.String())
	}
	stored, _ = store.GetRequestByID(context.Background(), created.ID)
	if string(stored.Status) != "applied" || stored.CompletedAt == nil {
		t.Fatalf("unexpected request after callback: %+v", stored)
	}
}

func TestRequestFlowApprovalQueue(t *testing.T) {
	store := newMemoryStore()
	router := newTestRouter(t, store, nil)
	_, ownerToken := signup(t, router, "dev@example.com")
	approverID, approverToken := signup(t, router, "lead@example.com")
	store.setRole(t, approverID, domain.RoleApprover)

	rec := doJSON(t, router, http.MethodPost, "/requests", ownerToken, map[string]any{
		"environment_id":   "env-prod",
		"resource_type_id": "rt-db",
		"title":            "prod db",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &created)

	rec = doJSON(t, router, http.MethodPost, "/requests/"+created.ID+"/submit", ownerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit failed: %d %s", rec.Code, rec.Body.String())
	}

	// The owner has no approver capability and cannot read the queue.
	rec = doJSON(t, router, http.MethodGet, "/approvals", ownerToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for the owner, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/approvals", approverToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("queue failed: %d %s", rec.Code, rec.Body.String())
	}
	var queue []struct {
		ID        string `json:"id"`
		RequestID string `json:"request_id"`
		Status    string `json:"status"`
	}
	decodeBody(t, rec, &queue)
	if len(queue) != 1 || queue[0].RequestID != created.ID || queue[0].Status != "pending" {
		t.Fatalf("unexpected queue: %+v", queue)
	}

	rec = doJSON(t, router, http.MethodPost, "/approvals/"+queue[0].ID+"/reject", approverToken, map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank comment rejection must fail with 400, got %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/approvals/"+queue[0].ID+"/approve", approverToken, map[string]string{"comment": "ok"})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve failed: %d %s", rec.Code, rec.Body.String())
	}
	stored, _ := store.GetRequestByID(context.Background(), created.ID)
	if string(stored.Status) != "approved" {
		t.Fatalf("unexpected status after approval: %s", stored.Status)
	}

	rec = doJSON(t, router, http.MethodPost, "/approvals/"+queue[0].ID+"/approve", approverToken, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second decision must fail with 409, got %d", rec.Code)
	}
}

func TestEnvironmentDetail(t *testing.T) {
	router := newTestRouter(t, newMemoryStore(), nil)
	_, token := signup(t, router, "dev@example.com")

	rec := doJSON(t, router, http.MethodGet, "/environments/env-dev", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("environment fetch failed: %d %s", rec.Code, rec.Body.String())
	}
	var env struct {
		ID               string `json:"id"`
		Slug             string `json:"slug"`
		RequiresApproval bool   `json:"requires_approval"`
	}
	decodeBody(t, rec, &env)
	if env.ID != "env-dev" || env.Slug != "dev" || env.RequiresApproval {
		t.Fatalf("unexpected environment: %+v", env)
	}

	rec = doJSON(t, router, http.MethodGet, "/environments/env-staging", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown environment, got %d", rec.Code)
	}
}

func TestRequestPriority(t *testing.T) {
	router := newTestRouter(t, newMemoryStore(), nil)
	_, token := signup(t, router, "dev@example.com")

	rec := doJSON(t, router, http.MethodPost, "/requests", token, map[string]any{
		"environment_id":   "env-dev",
		"resource_type_id": "rt-db",
		"title":            "cache cluster",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID       string `json:"id"`
		Priority string `json:"priority"`
	}
	decodeBody(t, rec, &created)
	if created.Priority != "normal" {
		t.Fatalf("priority must default to normal, got %q", created.Priority)
	}

	rec = doJSON(t, router, http.MethodPut, "/requests/"+created.ID, token, map[string]any{
		"priority": "urgent",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update failed: %d %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &created)
	if created.Priority != "urgent" {
		t.Fatalf("priority not updated: %q", created.Priority)
	}

	rec = doJSON(t, router, http.MethodPost, "/requests", token, map[string]any{
		"environment_id":   "env-dev",
		"resource_type_id": "rt-db",
		"title":            "cache cluster",
		"priority":         "whenever",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown priority, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestApprovalQueueStatusFilter(t *testing.T) {
	store := newMemoryStore()
	router := newTestRouter(t, store, nil)
	_, ownerToken := signup(t, router, "dev@example.com")
	approverID, approverToken := signup(t, router, "lead@example.com")
	store.setRole(t, approverID, domain.RoleApprover)

	rec := doJSON(t, router, http.MethodPost, "/requests", ownerToken, map[string]any{
		"environment_id":   "env-prod",
		"resource_type_id": "rt-db",
		"title":            "prod db",
	})
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &created)
	doJSON(t, router, http.MethodPost, "/requests/"+created.ID+"/submit", ownerToken, nil)

	rec = doJSON(t, router, http.MethodGet, "/approvals", approverToken, nil)
	var queue []struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &queue)
	if len(queue) != 1 {
		t.Fatalf("unexpected queue: %+v", queue)
	}
	rec = doJSON(t, router, http.MethodPost, "/approvals/"+queue[0].ID+"/approve", approverToken, map[string]string{"comment": "ok"})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve failed: %d %s", rec.Code, rec.Body.String())
	}

	// The decided record moves out of the default view and shows up under
	// its new status.
	rec = doJSON(t, router, http.MethodGet, "/approvals", approverToken, nil)
	var pending []struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &pending)
	if len(pending) != 0 {
		t.Fatalf("pending queue must be empty after the decision: %+v", pending)
	}

	rec = doJSON(t, router, http.MethodGet, "/approvals?status=approved", approverToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approved listing failed: %d %s", rec.Code, rec.Body.String())
	}
	var decided []struct {
		ID        string `json:"id"`
		RequestID string `json:"request_id"`
		Status    string `json:"status"`
	}
	decodeBody(t, rec, &decided)
	if len(decided) != 1 || decided[0].ID != queue[0].ID || decided[0].Status != "approved" {
		t.Fatalf("unexpected approved listing: %+v", decided)
	}

	rec = doJSON(t, router, http.MethodGet, "/approvals?status=stalled", approverToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown status, got %d", rec.Code)
	}
}

func TestRequestSubroutesApprovalAndAudit(t *testing.T) {
	store := newMemoryStore()
	router := newTestRouter(t, store, nil)
	_, ownerToken := signup(t, router, "dev@example.com")
	_, strangerToken := signup(t, router, "other@example.com")

	rec := doJSON(t, router, http.MethodPost, "/requests", ownerToken, map[string]any{
		"environment_id":   "env-prod",
		"resource_type_id": "rt-db",
		"title":            "prod db",
	})
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &created)
	doJSON(t, router, http.MethodPost, "/requests/"+created.ID+"/submit", ownerToken, nil)

	rec = doJSON(t, router, http.MethodGet, "/requests/"+created.ID+"/approval", ownerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approval lookup failed: %d %s", rec.Code, rec.Body.String())
	}
	var attached struct {
		RequestID string `json:"request_id"`
		Status    string `json:"status"`
	}
	decodeBody(t, rec, &attached)
	if attached.RequestID != created.ID || attached.Status != "pending" {
		t.Fatalf("unexpected approval: %+v", attached)
	}

	rec = doJSON(t, router, http.MethodGet, "/requests/"+created.ID+"/approval", strangerToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a stranger, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/requests/"+created.ID+"/audit", ownerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit fetch failed: %d %s", rec.Code, rec.Body.String())
	}
	var trail []struct {
		Action string `json:"action"`
	}
	decodeBody(t, rec, &trail)
	if len(trail) < 2 {
		t.Fatalf("expected create and submit entries, got %+v", trail)
	}
	if trail[0].Action != "request.submitted" || trail[len(trail)-1].Action != "request.created" {
		t.Fatalf("unexpected audit order: %+v", trail)
	}

	rec = doJSON(t, router, http.MethodGet, "/requests/"+created.ID+"/audit", strangerToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a stranger, got %d", rec.Code)
	}
}

func TestProvisionerCallbackRejectsBadToken(t *testing.T) {
	router := newTestRouter(t, newMemoryStore(), nil)
	req := httptest.NewRequest(http.MethodPost, "/provisioner/callback", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-Provisioner-Token", "wrong")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestResourceSchemaServedVerbatim(t *testing.T) {
	store := newMemoryStore()
	router := newTestRouter(t, store, nil)
	_, token := signup(t, router, "dev@example.com")

	rec := doJSON(t, router, http.MethodGet, "/resource-types/rt-db/schema", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("schema fetch failed: %d %s", rec.Code, rec.Body.String())
	}
	if !bytes.Equal(rec.Body.Bytes(), store.types[0].ConfigSchema) {
		t.Fatalf("schema must be served byte for byte:\n%s", rec.Body.String())
	}
}

func TestSignupRateLimited(t *testing.T) {
	router := newTestRouter(t, newMemoryStore(), nil)
	var last int
	for i := 0; i < rateLimitSignup+1; i++ {
		rec := doJSON(t, router, http.MethodPost, "/auth/signup", "", map[string]string{
			"email":    fmt.Sprintf("user%d@example.com", i),
			"password": "hunter2222",
		})
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after the signup burst, got %d", last)
	}
}
