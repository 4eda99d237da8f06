// Package approval implements the approval workflow: resolving freshly
// submitted requests into a human queue or an immediate auto-approval, and
// recording approver decisions.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/stackform/portal/internal/domain"
	"github.com/stackform/portal/internal/repository"
	"github.com/stackform/portal/pkg/lifecycle"
)

var errApproverRequired = fmt.Errorf("%w: approver capability required", lifecycle.ErrPermission)

// Service coordinates approval records and the decisions taken on them.
type Service struct {
	approvals repository.ApprovalRepository
	requests  repository.RequestRepository
	audits    repository.AuditRepository
	logger    *slog.Logger
}

// New constructs a Service.
func New(approvals repository.ApprovalRepository, requests repository.RequestRepository, audits repository.AuditRepository, logger *slog.Logger) Service {
	return Service{approvals: approvals, requests: requests, audits: audits, logger: logger}
}

// ResolveSubmission routes a freshly submitted request. Environments that
// require approval get a pending approval record for the human queue; the
// rest are approved immediately with no decision record.
func (s Service) ResolveSubmission(ctx context.Context, request *domain.Request, env *domain.Environment) error {
	if request.Status != lifecycle.StatusPending {
		return fmt.Errorf("%w: submission resolution requires pending status, request is %s", lifecycle.ErrState, request.Status)
	}
	if env.RequiresApproval {
		approval := &domain.Approval{
			ID:        uuid.NewString(),
			RequestID: request.ID,
			Status:    domain.ApprovalPending,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.approvals.CreateApproval(ctx, approval); err != nil {
			return err
		}
		s.logger.Info("approval queued", "request_id", request.ID, "approval_id", approval.ID)
		return nil
	}

	request.Status = lifecycle.StatusApproved
	request.UpdatedAt = time.Now().UTC()
	if err := s.requests.UpdateRequest(ctx, request); err != nil {
		return err
	}
	s.record(ctx, request.UserID, "request.auto_approved", request.ID, map[string]any{"environment_id": env.ID})
	s.logger.Info("request auto-approved", "request_id", request.ID, "environment", env.Slug)
	return nil
}

// Queue returns approvals in the given decision state, oldest first.
// A blank status means pending. Approver capability only.
func (s Service) Queue(ctx context.Context, actor lifecycle.Actor, status string) ([]domain.Approval, error) {
	if !actor.Has(lifecycle.CapabilityApprove) {
		return nil, errApproverRequired
	}
	if status == "" {
		status = domain.ApprovalPending
	}
	switch status {
	case domain.ApprovalPending, domain.ApprovalApproved, domain.ApprovalRejected:
	default:
		return nil, fmt.Errorf("%w: unknown approval status %q", lifecycle.ErrValidation, status)
	}
	return s.approvals.ListApprovalsByStatus(ctx, status)
}

// ForRequest returns the approval record attached to a request. Visible to
// approvers and to the request owner.
func (s Service) ForRequest(ctx context.Context, actor lifecycle.Actor, requestID string) (*domain.Approval, error) {
	approval, err := s.approvals.GetApprovalByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !actor.Has(lifecycle.CapabilityApprove) {
		if approval.Request == nil || approval.Request.UserID != actor.ID {
			return nil, errApproverRequired
		}
	}
	return approval, nil
}

// Get returns one approval. Visible to approvers and to the owner of the
// underlying request.
func (s Service) Get(ctx context.Context, actor lifecycle.Actor, id string) (*domain.Approval, error) {
	approval, err := s.approvals.GetApprovalByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Has(lifecycle.CapabilityApprove) {
		if approval.Request == nil || approval.Request.UserID != actor.ID {
			return nil, errApproverRequired
		}
	}
	return approval, nil
}

// Approve records an approval decision. The comment is optional.
func (s Service) Approve(ctx context.Context, actor lifecycle.Actor, id, comment string) (*domain.Approval, error) {
	return s.decide(ctx, actor, id, comment, true)
}

// Reject records a rejection. A blank comment fails before anything mutates.
func (s Service) Reject(ctx context.Context, actor lifecycle.Actor, id, comment string) (*domain.Approval, error) {
	return s.decide(ctx, actor, id, comment, false)
}

func (s Service) decide(ctx context.Context, actor lifecycle.Actor, id, comment string, approve bool) (*domain.Approval, error) {
	approval, err := s.approvals.GetApprovalByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if approval.Status != domain.ApprovalPending {
		return nil, fmt.Errorf("%w: approval already decided", lifecycle.ErrState)
	}
	request := approval.Request
	if request == nil {
		request, err = s.requests.GetRequestByID(ctx, approval.RequestID)
		if err != nil {
			return nil, err
		}
	}

	var next lifecycle.Status
	if approve {
		next, err = lifecycle.Approve(request.Status, actor)
	} else {
		next, err = lifecycle.Reject(request.Status, actor, comment)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	approverID := actor.ID
	approval.ApproverID = &approverID
	approval.Comment = comment
	approval.DecidedAt = &now
	if approve {
		approval.Status = domain.ApprovalApproved
	} else {
		approval.Status = domain.ApprovalRejected
	}
	if err := s.approvals.UpdateApproval(ctx, approval); err != nil {
		return nil, err
	}

	request.Status = next
	request.UpdatedAt = now
	if err := s.requests.UpdateRequest(ctx, request); err != nil {
		return nil, err
	}
	approval.Request = request

	action := "request.approved"
	if !approve {
		action = "request.rejected"
	}
	s.record(ctx, actor.ID, action, request.ID, map[string]any{"approval_id": approval.ID, "comment": comment})
	s.logger.Info("approval decided", "approval_id", approval.ID, "request_id", request.ID, "status", approval.Status)
	return approval, nil
}

// record appends an audit entry, logging instead of failing the operation.
func (s Service) record(ctx context.Context, userID, action, requestID string, details map[string]any) {
	payload, err := json.Marshal(details)
	if err != nil {
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
