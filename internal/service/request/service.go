// Package request implements the provisioning request lifecycle: draft
// creation against a resource type's configuration schema, owner-scoped
// reads and edits, submission into the approval workflow, and the outcome
// callback from the external provisioner.
package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/stackform/portal/internal/domain"
	"github.com/stackform/portal/internal/repository"
	"github.com/stackform/portal/pkg/lifecycle"
	"github.com/stackform/portal/pkg/schema"
)

var (
	errTitleRequired       = fmt.Errorf("%w: title required", lifecycle.ErrValidation)
	errEnvironmentRequired = fmt.Errorf("%w: environment required", lifecycle.ErrValidation)
	errResourceRequired    = fmt.Errorf("%w: resource type required", lifecycle.ErrValidation)
	errNotOwner            = fmt.Errorf("%w: only the request owner may modify it", lifecycle.ErrPermission)
	errDraftOnly           = fmt.Errorf("%w: only draft requests can be edited", lifecycle.ErrState)
)

// SubmissionResolver routes a freshly submitted request into the approval
// workflow. Implemented by the approval service.
type SubmissionResolver interface {
	ResolveSubmission(ctx context.Context, request *domain.Request, env *domain.Environment) error
}

// Service coordinates request persistence with the lifecycle guards.
type Service struct {
	requests repository.RequestRepository
	catalog  repository.CatalogRepository
	audits   repository.AuditRepository
	resolver SubmissionResolver
	logger   *slog.Logger
}

// New constructs a Service.
func New(requests repository.RequestRepository, catalog repository.CatalogRepository, audits repository.AuditRepository, resolver SubmissionResolver, logger *slog.Logger) Service {
	return Service{requests: requests, catalog: catalog, audits: audits, resolver: resolver, logger: logger}
}

// CreateInput captures attributes for a new draft. A blank Priority means
// normal.
type CreateInput struct {
	EnvironmentID  string
	ResourceTypeID string
	Title          string
	Description    string
	Priority       string
	Config         map[string]any
}

// normalizePriority folds a blank priority to the default and rejects
// unknown values.
func normalizePriority(priority string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(priority))
	if trimmed == "" {
		return domain.PriorityNormal, nil
	}
	if !domain.ValidPriority(trimmed) {
		return "", fmt.Errorf("%w: unknown priority %q", lifecycle.ErrValidation, priority)
	}
	return trimmed, nil
}

// Create validates the configuration against the resource type's schema and
// stores a draft. The stored config is the schema defaults overlaid with the
// caller's values.
func (s Service) Create(ctx context.Context, actor lifecycle.Actor, input CreateInput) (*domain.Request, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, errTitleRequired
	}
	if strings.TrimSpace(input.EnvironmentID) == "" {
		return nil, errEnvironmentRequired
	}
	if strings.TrimSpace(input.ResourceTypeID) == "" {
		return nil, errResourceRequired
	}
	if _, err := s.catalog.GetEnvironmentByID(ctx, input.EnvironmentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown environment", lifecycle.ErrValidation)
		}
		return nil, err
	}
	rt, err := s.catalog.GetResourceTypeByID(ctx, input.ResourceTypeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown resource type", lifecycle.ErrValidation)
		}
		return nil, err
	}

	priority, err := normalizePriority(input.Priority)
	if err != nil {
		return nil, err
	}
	config, err := s.mergeConfig(rt, input.Config)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	request := &domain.Request{
		ID:             uuid.NewString(),
		UserID:         actor.ID,
		EnvironmentID:  input.EnvironmentID,
		ResourceTypeID: input.ResourceTypeID,
		Title:          strings.TrimSpace(input.Title),
		Description:    strings.TrimSpace(input.Description),
		Status:         lifecycle.StatusDraft,
		Priority:       priority,
		Config:         config,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.requests.CreateRequest(ctx, request); err != nil {
		return nil, err
	}
	s.record(ctx, actor.ID, "request.created", request.ID, map[string]any{"resource_type_id": rt.ID})
	s.logger.Info("request created", "request_id", request.ID, "user_id", actor.ID)
	return request, nil
}

// Filter narrows request listings.
type Filter struct {
	Status        lifecycle.Status
	EnvironmentID string
}

// List returns requests visible to the actor, newest first. Admins see all
// requests; everyone else sees their own.
func (s Service) List(ctx context.Context, actor lifecycle.Actor, filter Filter) ([]domain.Request, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", lifecycle.ErrValidation, filter.Status)
	}
	repoFilter := repository.RequestFilter{
		Status:        filter.Status,
		EnvironmentID: filter.EnvironmentID,
	}
	if !actor.Has(lifecycle.CapabilityAdmin) {
		repoFilter.UserID = actor.ID
	}
	return s.requests.ListRequests(ctx, repoFilter)
}

// Get returns one request. Owners always see their own; approvers and
// admins see everything.
func (s Service) Get(ctx context.Context, actor lifecycle.Actor, id string) (*domain.Request, error) {
	request, err := s.requests.GetRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.UserID != actor.ID && !actor.Has(lifecycle.CapabilityApprove) && !actor.Has(lifecycle.CapabilityAdmin) {
		return nil, fmt.Errorf("%w: not your request", lifecycle.ErrPermission)
	}
	return request, nil
}

// UpdateInput captures the editable draft fields. Nil fields keep their
// stored values; a non-nil Config replaces the whole configuration.
type UpdateInput struct {
	Title       *string
	Description *string
	Priority    *string
	Config      map[string]any
}

// Update edits a draft owned by the actor.
func (s Service) Update(ctx context.Context, actor lifecycle.Actor, id string, input UpdateInput) (*domain.Request, error) {
	request, err := s.requests.GetRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.UserID != actor.ID {
		return nil, errNotOwner
	}
	if request.Status != lifecycle.StatusDraft {
		return nil, errDraftOnly
	}
	if input.Title != nil {
		if strings.TrimSpace(*input.Title) == "" {
			return nil, errTitleRequired
		}
		request.Title = strings.TrimSpace(*input.Title)
	}
	if input.Description != nil {
		request.Description = strings.TrimSpace(*input.Description)
	}
	if input.Priority != nil {
		priority, err := normalizePriority(*input.Priority)
		if err != nil {
			return nil, err
		}
		request.Priority = priority
	}
	if input.Config != nil {
		rt, err := s.catalog.GetResourceTypeByID(ctx, request.ResourceTypeID)
		if err != nil {
			return nil, err
		}
		config, err := s.mergeConfig(rt, input.Config)
		if err != nil {
			return nil, err
		}
		request.Config = config
	}
	request.UpdatedAt = time.Now().UTC()
	if err := s.requests.UpdateRequest(ctx, request); err != nil {
		return nil, err
	}
	s.record(ctx, actor.ID, "request.updated", request.ID, nil)
	return request, nil
}

// Delete removes a draft or rejected request the actor may delete.
func (s Service) Delete(ctx context.Context, actor lifecycle.Actor, id string) error {
	request, err := s.requests.GetRequestByID(ctx, id)
	if err != nil {
		return err
	}
	if err := lifecycle.CanDelete(request.Status, actor, request.UserID); err != nil {
		return err
	}
	if err := s.requests.DeleteRequest(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor.ID, "request.deleted", id, map[string]any{"status": string(request.Status)})
	s.logger.Info("request deleted", "request_id", id, "user_id", actor.ID)
	return nil
}

// Submit moves a draft into the approval workflow and lets the resolver
// route it: a human queue entry, or immediate approval.
func (s Service) Submit(ctx context.Context, actor lifecycle.Actor, id string) (*domain.Request, error) {
	request, err := s.requests.GetRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := lifecycle.Submit(request.Status, actor, request.UserID)
	if err != nil {
		return nil, err
	}
	env, err := s.catalog.GetEnvironmentByID(ctx, request.EnvironmentID)
	if err != nil {
		return nil, err
	}

	prevStatus := request.Status
	prevSubmittedAt := request.SubmittedAt
	prevUpdatedAt := request.UpdatedAt

	now := time.Now().UTC()
	request.Status = next
	request.SubmittedAt = &now
	request.UpdatedAt = now
	if err := s.requests.UpdateRequest(ctx, request); err != nil {
		return nil, err
	}

	if err := s.resolver.ResolveSubmission(ctx, request, env); err != nil {
		// A pending request without routing would be stuck, so the
		// submission is undone before surfacing the error.
		request.Status = prevStatus
		request.SubmittedAt = prevSubmittedAt
		request.UpdatedAt = prevUpdatedAt
		if revertErr := s.requests.UpdateRequest(ctx, request); revertErr != nil {
			s.logger.Error("submission revert failed", "request_id", request.ID, "error", revertErr)
		}
		return nil, err
	}
	s.record(ctx, actor.ID, "request.submitted", request.ID, map[string]any{"environment_id": env.ID})
	s.logger.Info("request submitted", "request_id", request.ID, "requires_approval", env.RequiresApproval)
	return request, nil
}

// History returns the audit trail for a request the actor may see, newest
// first.
func (s Service) History(ctx context.Context, actor lifecycle.Actor, id string, limit int) ([]domain.AuditLog, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.audits.ListAuditsByEntity(ctx, "request", id, limit)
}

// Provisioner outcome values.
const (
	OutcomeApplied = "applied"
	OutcomeFailed  = "failed"
)

// HandleProvisionerResult records the outcome the external provisioner
// reports for an approved request.
func (s Service) HandleProvisionerResult(ctx context.Context, requestID, outcome, message string) (*domain.Request, error) {
	request, err := s.requests.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	var next lifecycle.Status
	switch outcome {
	case OutcomeApplied:
		next, err = lifecycle.MarkApplied(request.Status)
	case OutcomeFailed:
		next, err = lifecycle.MarkFailed(request.Status)
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", lifecycle.ErrValidation, outcome)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	request.Status = next
	request.CompletedAt = &now
	request.UpdatedAt = now
	if err := s.requests.UpdateRequest(ctx, request); err != nil {
		return nil, err
	}
	s.record(ctx, request.UserID, "request."+outcome, request.ID, map[string]any{"message": message})
	s.logger.Info("provisioner result recorded", "request_id", request.ID, "outcome", outcome)
	return request, nil
}

func (s Service) mergeConfig(rt *domain.ResourceType, overrides map[string]any) (json.RawMessage, error) {
	fields, err := schema.Normalize(rt.ConfigSchema)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lifecycle.ErrValidation, err)
	}
	merged, err := schema.Merge(fields, overrides)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// record appends an audit entry, logging instead of failing the operation.
func (s Service) record(ctx context.Context, userID, action, requestID string, details map[string]any) {
	payload, err := json.Marshal(details)
	if err != nil || details == nil {
		payload = []byte(`{}`)
	}
	entry := &domain.AuditLog{
		UserID:     userID,
		Action:     action,
		EntityType: "request",
		EntityID:   requestID,
		Details:    payload,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.audits.InsertAudit(ctx, entry); err != nil {
		s.logger.Warn("audit insert failed", "action", action, "error", err)
	}
}
