package repository

import (
	"context"

	"github.com/stackform/portal/internal/domain"
	"github.com/stackform/portal/pkg/lifecycle"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// CatalogRepository serves reference data: environments and resource types.
type CatalogRepository interface {
	ListEnvironments(ctx context.Context) ([]domain.Environment, error)
	GetEnvironmentByID(ctx context.Context, id string) (*domain.Environment, error)
	ListResourceTypes(ctx context.Context) ([]domain.ResourceType, error)
	GetResourceTypeByID(ctx context.Context, id string) (*domain.ResourceType, error)
}

// RequestFilter narrows request listings. Zero values mean no filtering.
type RequestFilter struct {
	UserID        string
	Status        lifecycle.Status
	EnvironmentID string
}

// RequestRepository persists provisioning requests.
type RequestRepository interface {
	CreateRequest(ctx context.Context, request *domain.Request) error
	GetRequestByID(ctx context.Context, id string) (*domain.Request, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]domain.Request, error)
	UpdateRequest(ctx context.Context, request *domain.Request) error
	DeleteRequest(ctx context.Context, id string) error
}

// ApprovalRepository persists approval decision records.
type ApprovalRepository interface {
	CreateApproval(ctx context.Context, approval *domain.Approval) error
	GetApprovalByID(ctx context.Context, id string) (*domain.Approval, error)
	GetApprovalByRequestID(ctx context.Context, requestID string) (*domain.Approval, error)
	ListApprovalsByStatus(ctx context.Context, status string) ([]domain.Approval, error)
	UpdateApproval(ctx context.Context, approval *domain.Approval) error
}

// AuditRepository appends immutable audit entries.
type AuditRepository interface {
	InsertAudit(ctx context.Context, entry *domain.AuditLog) error
	ListAuditsByEntity(ctx context.Context, entityType, entityID string, limit int) ([]domain.AuditLog, error)
}
