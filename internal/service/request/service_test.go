package request

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stackform/portal/internal/domain"
	"github.com/stackform/portal/internal/repository"
	"github.com/stackform/portal/pkg/lifecycle"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type requestRepoMock struct {
	createFn func(ctx context.Context, request *domain.Request) error
	getFn    func(ctx context.Context, id string) (*domain.Request, error)
	listFn   func(ctx context.Context, filter repository.RequestFilter) ([]domain.Request, error)
	updateFn func(ctx context.Context, request *domain.Request) error
	deleteFn func(ctx context.Context, id string) error
}

func (m *requestRepoMock) CreateRequest(ctx context.Context, request *domain.Request) error {
	return m.createFn(ctx, request)
}

func (m *requestRepoMock) GetRequestByID(ctx context.Context, id string) (*domain.Request, error) {
	return m.getFn(ctx, id)
}

func (m *requestRepoMock) ListRequests(ctx context.Context, filter repository.RequestFilter) ([]domain.Request, error) {
	return m.listFn(ctx, filter)
}

func (m *requestRepoMock) UpdateRequest(ctx context.Context, request *domain.Request) error {
	return m.updateFn(ctx, request)
}

func (m *requestRepoMock) DeleteRequest(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

type catalogRepoMock struct {
	listEnvsFn  func(ctx context.Context) ([]domain.Environment, error)
	getEnvFn    func(ctx context.Context, id string) (*domain.Environment, error)
	listTypesFn func(ctx context.Context) ([]domain.ResourceType, error)
	getTypeFn   func(ctx context.Context, id string) (*domain.ResourceType, error)
}

func (m *catalogRepoMock) ListEnvironments(ctx context.Context) ([]domain.Environment, error) {
	return m.listEnvsFn(ctx)
}

func (m *catalogRepoMock) GetEnvironmentByID(ctx context.Context, id string) (*domain.Environment, error) {
	return m.getEnvFn(ctx, id)
}

func (m *catalogRepoMock) ListResourceTypes(ctx context.Context) ([]domain.ResourceType, error) {
	return m.listTypesFn(ctx)
}

func (m *catalogRepoMock) GetResourceTypeByID(ctx context.Context, id string) (*domain.ResourceType, error) {
	return m.getTypeFn(ctx, id)
}

type auditRepoMock struct{}

func (m *auditRepoMock) InsertAudit(ctx context.Context, entry *domain.AuditLog) error {
	return nil
}

func (m *auditRepoMock) ListAuditsByEntity(ctx context.Context, entityType, entityID string, limit int) ([]domain.AuditLog, error) {
	return nil, nil
}

type resolverMock struct {
	resolveFn func(ctx context.Context, request *domain.Request, env *domain.Environment) error
}

func (m *resolverMock) ResolveSubmission(ctx context.Context, request *domain.Request, env *domain.Environment) error {
	return m.resolveFn(ctx, request, env)
}

func userActor(id string) lifecycle.Actor {
	return lifecycle.Actor{ID: id, Caps: lifecycle.CapabilitiesForRole(domain.RoleUser)}
}

func testResourceType() *domain.ResourceType {
	return &domain.ResourceType{
		ID:   "rt-1",
		Name: "PostgreSQL",
		ConfigSchema: json.RawMessage(`{"properties": {
			"instance_size": {"type": "string", "enum": ["small", "large"], "default": "small"},
			"storage_gb": {"type": "integer", "minimum": 10, "maximum": 1000, "default": 20}
		}}`),
	}
}

func testCatalog() *catalogRepoMock {
	return &catalogRepoMock{
		getEnvFn: func(ctx context.Context, id string) (*domain.Environment, error) {
			return &domain.Environment{ID: id, Slug: "dev"}, nil
		},
		getTypeFn: func(ctx context.Context, id string) (*domain.ResourceType, error) {
			return testResourceType(), nil
		},
	}
}

func TestCreateAppliesSchemaDefaults(t *testing.T) {
	var stored *domain.Request
	requests := &requestRepoMock{
		createFn: func(ctx context.Context, request *domain.Request) error {
			stored = request
			return nil
		},
	}
	svc := New(requests, testCatalog(), &auditRepoMock{}, nil, newLogger())

	created, err := svc.Create(context.Background(), userActor("u1"), CreateInput{
		EnvironmentID:  "env-1",
		ResourceTypeID: "rt-1",
		Title:          "  checkout db  ",
		Config:         map[string]any{"storage_gb": float64(100)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored == nil {
		t.Fatal("request was not persisted")
	}
	if created.Status != lifecycle.StatusDraft {
		t.Fatalf("expected draft, got %s", created.Status)
	}
	if created.Title != "checkout db" {
		t.Fatalf("title not trimmed: %q", created.Title)
	}
	if created.Priority != domain.PriorityNormal {
		t.Fatalf("priority must default to normal, got %q", created.Priority)
	}
	var config map[string]any
	if err := json.Unmarshal(created.Config, &config); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if config["instance_size"] != "small" {
		t.Fatalf("default missing: %v", config)
	}
	if config["storage_gb"] != float64(100) {
		t.Fatalf("override lost: %v", config)
	}
}

func TestCreateRejectsUnknownConfigKey(t *testing.T) {
	requests := &requestRepoMock{
		createFn: func(ctx context.Context, request *domain.Request) error {
			t.Fatal("nothing should be persisted")
			return nil
		},
	}
	svc := New(requests, testCatalog(), &auditRepoMock{}, nil, newLogger())

	_, err := svc.Create(context.Background(), userActor("u1"), CreateInput{
		EnvironmentID:  "env-1",
		ResourceTypeID: "rt-1",
		Title:          "checkout db",
		Config:         map[string]any{"replica_count": 3},
	})
	if !errors.Is(err, lifecycle.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreatePriority(t *testing.T) {
	requests := &requestRepoMock{
		createFn: func(ctx context.Context, request *domain.Request) error {
			return nil
		},
	}
	svc := New(requests, testCatalog(), &auditRepoMock{}, nil, newLogger())

	created, err := svc.Create(context.Background(), userActor("u1"), CreateInput{
		EnvironmentID:  "env-1",
		ResourceTypeID: "rt-1",
		Title:          "checkout db",
		Priority:       " HIGH ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Priority != domain.PriorityHigh {
		t.Fatalf("priority not normalized: %q", created.Priority)
	}

	_, err = svc.Create(context.Background(), userActor("u1"), CreateInput{
		EnvironmentID:  "env-1",
		ResourceTypeID: "rt-1",
		Title:          "checkout db",
		Priority:       "whenever",
	})
	if !errors.Is(err, lifecycle.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateUnknownEnvironment(t *testing.T) {
	catalog := testCatalog()
	catalog.getEnvFn = func(ctx context.Context, id string) (*domain.Environment, error) {
		return nil, repository.ErrNotFound
	}
	svc := New(&requestRepoMock{}, catalog, &auditRepoMock{}, nil, newLogger())

	_, err := svc.Create(context.Background(), userActor("u1"), CreateInput{
		EnvironmentID:  "missing",
		ResourceTypeID: "rt-1",
		Title:          "checkout db",
	})
	if !errors.Is(err, lifecycle.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListScopesToOwner(t *testing.T) {
	var gotFilter repository.RequestFilter
	requests := &requestRepoMock{
		listFn: func(ctx context.Context, filter repository.RequestFilter) ([]domain.Request, error) {
			gotFilter = filter
			return nil, nil
		},
	}
	svc := New(requests, testCatalog(), &auditRepoMock{}, nil, newLogger())

	if _, err := svc.List(context.Background(), userActor("u1"), Filter{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotFilter.UserID != "u1" {
		t.Fatalf("listing not scoped to the owner: %+v", gotFilter)
	}

	admin := lifecycle.Actor{ID: "root", Caps: lifecycle.CapabilitiesForRole(domain.RoleAdmin)}
	if _, err := svc.List(context.Background(), admin, Filter{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotFilter.UserID != "" {
		t.Fatalf("admin listing must be unscoped: %+v", gotFilter)
	}
}

func TestListRejectsUnknownStatus(t *testing.T) {
	svc := New(&requestRepoMock{}, testCatalog(), &auditRepoMock{}, nil, newLogger())
	if _, err := svc.List(context.Background(), userActor("u1"), Filter{Status: "archived"}); !errors.Is(err, lifecycle.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetVisibility(t *testing.T) {
	requests := &requestRepoMock{
		getFn: func(ctx context.Context, id string) (*domain.Request, error) {
			return &domain.Request{ID: id, UserID: "u1", Status: lifecycle.StatusPending}, nil
		},
	}
	svc := New(requests, testCatalog(), &auditRepoMock{}, nil, newLogger())

	if _, err := svc.Get(context.Background(), userActor("u1"), "r1"); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := svc.Get(context.Background(), userActor("u2"), "r1"); !errors.Is(err, lifecycle.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	approver := lifecycle.Actor{ID: "a1", Caps: lifecycle.CapabilitiesForRole(domain.RoleApprover)}
	if _, err := svc.Get(context.Background(), approver, "r1"); err != nil {
		t.Fatalf("approver read: %v", err)
	}
}

func TestUpdateDraftOnly(t *testing.T) {
	requests := &requestRepoMock{
		getFn: func(ctx context.Context, id string) (*domain.Request, error) {
			return &domain.Request{ID: id, UserID: "u1", Status: lifecycle.StatusPending}, nil
		},
	}
	svc := New(requests, testCatalog(), &auditRepoMock{}, nil, newLogger())

	title := "renamed"
	_, err := svc.Update(context.Background(), userActor("u1"), "r1", UpdateInput{Title: &title})
	if !errors.Is(err, lifecycle.ErrState) {
		t.Fatalf("expected state error, got %v", err)
	}
}

func TestUpdateRevalidatesConfig(t *testing.T) {
	var updated *domain.Request
	requests := &requestRepoMock{
		getFn: func(ctx context.Context, id string) (*domain.Request, error) {
			return &domain.Request{
				ID:             id,
				UserID:         "u1",
				ResourceTypeID: "rt-1",
				Status:         lifecycle.StatusDraft,
				Config:         json.RawMessage(`{"instance_size": "small", "storage_gb": 20}`),
			}, nil
		},
		updateFn: func(ctx context.Context, request *domain.Request) error {
			updated = request
			return nil
		},
	}
	svc := New(requests, testCatalog(), &auditRepoMock{}, nil, newLogger())

	_, err := svc.Update(context.Background(), userActor("u1"), "r1", UpdateInput{
		Config: map[string]any{"storage_gb": float64(5000)},
	})
	if !errors.Is(err, lifecycle.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if updated != nil {
		t.Fatal("invalid config must not be persisted")
	}

	request, err := svc.Update(context.Background(), userActor("u1"), "r1", UpdateInput{
		Config: map[string]any{"instance_size": "large"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var config map[string]any
	if err := json.Unmarshal(request.Config, &config); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if config["instance_size"] != "large" || config["storage_gb"] != float64(20) {
		t.Fatalf("unexpected config: %v", config)
	}
}

func TestDeleteFollowsLifecycleRules(t *testing.T) {
	deleted := false
	requests := &requestRepoMock{
		getFn: func(ctx context.Context, id string) (*domain.Request, error) {
			return &domain.Request{ID: id, UserID: "u1", Status: lifecycle.StatusPending}, nil
		},
		deleteFn: func(ctx context.Context, id string) error {
			deleted = true
			return nil
		},
	}
	svc := New(requests, testCatalog(), &auditRepoMock{}, nil, newLogger())

	if err := svc.Delete(context.Background(), userActor("u1"), "r1"); !errors.Is(err, lifecycle.ErrState) {
		t.Fatalf("expected state error, got %v", err)
	}
	if deleted {
		t.Fatal("pending request must not be deleted")
	}

	requests.getFn = func(ctx context.Context, id string) (*domain.Request, error) {
		return &domain.Request{ID: id, UserID: "u1", Status: lifecycle.StatusRejected}, nil
	}
	if err := svc.Delete(context.Background(), userActor("u1"), "r1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deleted {
		t.Fatal("rejected request should be deletable by its owner")
	}
}

func TestSubmitRoutesThroughResolver(t *testing.T) {
	requests := &requestRepoMock{
		getFn: func(ctx context.Context, id string) (*domain.Request, error) {
			return &domain.Request{ID: id, UserID: "u1", EnvironmentID: "env-1", Status: lifecycle.StatusDraft}, nil
		},
		updateFn: func(ctx context.Context, request *domain.Request) error {
			return nil
		},
	}
	var resolvedStatus lifecycle.Status
	resolver := &resolverMock{
		resolveFn: func(ctx context.Context, request *domain.Request, env *domain.Environment) error {
			resolvedStatus = request.Status
			return nil
		},
	}
	svc := New(requests, testCatalog(), &auditRepoMock{}, resolver, newLogger())

	request, err := svc.Submit(context.Background(), userActor("u1"), "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolvedStatus != lifecycle.StatusPending {
		t.Fatalf("resolver must see a pending request, got %s", resolvedStatus)
	}
	if request.SubmittedAt == nil {
		t.Fatal("submission timestamp missing")
	}
}

func TestUpdatePriority(t *testing.T) {
	requests := &requestRepoMock{
		getFn: func(ctx context.Context, id string) (*domain.Request, error) {
			return &domain.Request{ID: id, UserID: "u1", ResourceTypeID: "rt-1", Status: lifecycle.StatusDraft, Priority: domain.PriorityNormal}, nil
		},
		updateFn: func(ctx context.Context, request *domain.Request) error {
			return nil
		},
	}
	svc := New(requests, testCatalog(), &auditRepoMock{}, nil, newLogger())

	priority := "urgent"
	updated, err := svc.Update(context.Background(), userActor("u1"), "r1", UpdateInput{Priority: &priority})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Priority != domain.PriorityUrgent {
		t.Fatalf("unexpected priority: %q", updated.Priority)
	}

	bad := "someday"
	if _, err := svc.Update(context.Background(), userActor("u1"), "r1", UpdateInput{Priority: &bad}); !errors.Is(err, lifecycle.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitRevertsWhenResolverFails(t *testing.T) {
	var saved *domain.Request
	requests := &requestRepoMock{
		getFn: func(ctx context.Context, id string) (*domain.Request, error) {
			return &domain.Request{ID: id, UserID: "u1", EnvironmentID: "env-1", Status: lifecycle.StatusDraft}, nil
		},
		updateFn: func(ctx context.Context, request *domain.Request) error {
			copied := *request
			saved = &copied
			return nil
		},
	}
	resolver := &resolverMock{
		resolveFn: func(ctx context.Context, request *domain.Request, env *domain.Environment) error {
			return errors.New("approvals table unavailable")
		},
	}
	svc := New(requests, testCatalog(), &auditRepoMock{}, resolver, newLogger())

	if _, err := svc.Submit(context.Background(), userActor("u1"), "r1"); err == nil {
		t.Fatal("expected the resolver failure to surface")
	}
	if saved == nil {
		t.Fatal("expected a revert write")
	}
	if saved.Status != lifecycle.StatusDraft || saved.SubmittedAt != nil {
		t.Fatalf("request must be restored to draft: %+v", saved)
	}
}

func TestHistoryChecksVisibility(t *testing.T) {
	requests := &requestRepoMock{
		getFn: func(ctx context.Context, id string) (*domain.Request, error) {
			return &domain.Request{ID: id, UserID: "u1", Status: lifecycle.StatusPending}, nil
		},
	}
	audits := &auditRepoMock{}
	svc := New(requests, testCatalog(), audits, nil, newLogger())

	if _, err := svc.History(context.Background(), userActor("u2"), "r1", 10); !errors.Is(err, lifecycle.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if _, err := svc.History(context.Background(), userActor("u1"), "r1", 10); err != nil {
		t.Fatalf("owner history: %v", err)
	}
}

func TestSubmitRejectsNonOwner(t *testing.T) {
	updated := false
	requests := &requestRepoMock{
		getFn: func(ctx context.Context, id string) (*domain.Request, error) {
			return &domain.Request{ID: id, UserID: "u1", EnvironmentID: "env-1", Status: lifecycle.StatusDraft}, nil
		},
		updateFn: func(ctx context.Context, request *domain.Request) error {
			updated = true
			return nil
		},
	}
	svc := New(requests, testCatalog(), &auditRepoMock{}, &resolverMock{}, newLogger())

	if _, err := svc.Submit(context.Background(), userActor("u2"), "r1"); !errors.Is(err, lifecycle.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if updated {
		t.Fatal("denied submission must not mutate the request")
	}
}

func TestHandleProvisionerResult(t *testing.T) {
	status := lifecycle.StatusApproved
	var updated *domain.Request
	requests := &requestRepoMock{
		getFn: func(ctx context.Context, id string) (*domain.Request, error) {
			return &domain.Request{ID: id, UserID: "u1", Status: status}, nil
		},
		updateFn: func(ctx context.Context, request *domain.Request) error {
			updated = request
			return nil
		},
	}
	svc := New(requests, testCatalog(), &auditRepoMock{}, nil, newLogger())

	request, err := svc.HandleProvisionerResult(context.Background(), "r1", OutcomeApplied, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if request.Status != lifecycle.StatusApplied || request.CompletedAt == nil {
		t.Fatalf("unexpected request: %+v", request)
	}
	if updated == nil {
		t.Fatal("result was not persisted")
	}

	request, err = svc.HandleProvisionerResult(context.Background(), "r1", OutcomeFailed, "quota exceeded")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if request.Status != lifecycle.StatusFailed {
		t.Fatalf("expected failed, got %s", request.Status)
	}

	if _, err := svc.HandleProvisionerResult(context.Background(), "r1", "exploded", ""); !errors.Is(err, lifecycle.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	status = lifecycle.StatusDraft
	if _, err := svc.HandleProvisionerResult(context.Background(), "r1", OutcomeApplied, ""); !errors.Is(err, lifecycle.ErrState) {
		t.Fatalf("expected state error, got %v", err)
	}
}
