// Package catalog serves the reference data requests are built from:
// deployment environments and the provisionable resource type catalog.
package catalog

import (
	"context"
	"encoding/json"

	"log/slog"

	"github.com/stackform/portal/internal/domain"
	"github.com/stackform/portal/internal/repository"
)

// Service reads catalog reference data.
type Service struct {
	catalog repository.CatalogRepository
	logger  *slog.Logger
}

// New constructs a Service.
func New(catalog repository.CatalogRepository, logger *slog.Logger) Service {
	return Service{catalog: catalog, logger: logger}
}

// ListEnvironments returns every deployment environment.
func (s Service) ListEnvironments(ctx context.Context) ([]domain.Environment, error) {
	return s.catalog.ListEnvironments(ctx)
}

// GetEnvironment returns one environment.
func (s Service) GetEnvironment(ctx context.Context, id string) (*domain.Environment, error) {
	return s.catalog.GetEnvironmentByID(ctx, id)
}

// ListResourceTypes returns the provisionable catalog.
func (s Service) ListResourceTypes(ctx context.Context) ([]domain.ResourceType, error) {
	return s.catalog.ListResourceTypes(ctx)
}

// GetResourceType returns one catalog entry.
func (s Service) GetResourceType(ctx context.Context, id string) (*domain.ResourceType, error) {
	return s.catalog.GetResourceTypeByID(ctx, id)
}

// ResourceSchema returns the raw configuration schema for a resource type.
// The document is served verbatim; clients rely on its declaration order.
func (s Service) ResourceSchema(ctx context.Context, id string) (json.RawMessage, error) {
	rt, err := s.catalog.GetResourceTypeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(rt.ConfigSchema) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return rt.ConfigSchema, nil
}
