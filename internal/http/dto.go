package httpx

import (
	"encoding/json"
	"time"

	"github.com/stackform/portal/internal/domain"
)

// Wire payloads. Field names match what the CLI client decodes.

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func toUserPayload(u *domain.User) userPayload {
	return userPayload{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

type environmentPayload struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Slug             string    `json:"slug"`
	Description      string    `json:"description"`
	RequiresApproval bool      `json:"requires_approval"`
	CreatedAt        time.Time `json:"created_at"`
}

func toEnvironmentPayload(e domain.Environment) environmentPayload {
	return environmentPayload{
		ID:               e.ID,
		Name:             e.Name,
		Slug:             e.Slug,
		Description:      e.Description,
		RequiresApproval: e.RequiresApproval,
		CreatedAt:        e.CreatedAt,
	}
}

type resourceTypePayload struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Slug        string          `json:"slug"`
	Description string          `json:"description"`
	Icon        string          `json:"icon"`
	BaseCost    float64         `json:"base_cost"`
	Schema      json.RawMessage `json:"config_schema"`
	CreatedAt   time.Time       `json:"created_at"`
}

func toResourceTypePayload(t domain.ResourceType) resourceTypePayload {
	schema := t.ConfigSchema
	if len(schema) == 0 {
		schema = json.RawMessage(`{}`)
	}
	return resourceTypePayload{
		ID:          t.ID,
		Name:        t.Name,
		Slug:        t.Slug,
		Description: t.Description,
		Icon:        t.Icon,
		BaseCost:    t.BaseCost,
		Schema:      schema,
		CreatedAt:   t.CreatedAt,
	}
}

type requestPayload struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	EnvironmentID  string          `json:"environment_id"`
	ResourceTypeID string          `json:"resource_type_id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Status         string          `json:"status"`
	Priority       string          `json:"priority"`
	Config         json.RawMessage `json:"config"`
	SubmittedAt    *time.Time      `json:"submitted_at"`
	CompletedAt    *time.Time      `json:"completed_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toRequestPayload(r *domain.Request) requestPayload {
	config := r.Config
	if len(config) == 0 {
		config = json.RawMessage(`{}`)
	}
	return requestPayload{
		ID:             r.ID,
		UserID:         r.UserID,
		EnvironmentID:  r.EnvironmentID,
		ResourceTypeID: r.ResourceTypeID,
		Title:          r.Title,
		Description:    r.Description,
		Status:         string(r.Status),
		Priority:       r.Priority,
		Config:         config,
		SubmittedAt:    r.SubmittedAt,
		CompletedAt:    r.CompletedAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type auditPayload struct {
	ID        int64           `json:"id"`
	UserID    string          `json:"user_id"`
	Action    string          `json:"action"`
	Details   json.RawMessage `json:"details"`
	CreatedAt time.Time       `json:"created_at"`
}

func toAuditPayload(e domain.AuditLog) auditPayload {
	details := e.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}
	return auditPayload{
		ID:        e.ID,
		UserID:    e.UserID,
		Action:    e.Action,
		Details:   details,
		CreatedAt: e.CreatedAt,
	}
}

type approvalPayload struct {
	ID         string          `json:"id"`
	RequestID  string          `json:"request_id"`
	ApproverID *string         `json:"approver_id"`
	Status     string          `json:"status"`
	Comment    string          `json:"comment"`
	DecidedAt  *time.Time      `json:"decided_at"`
	CreatedAt  time.Time       `json:"created_at"`
	Request    *requestPayload `json:"request,omitempty"`
}

func toApprovalPayload(a *domain.Approval) approvalPayload {
	payload := approvalPayload{
		ID:         a.ID,
		RequestID:  a.RequestID,
		ApproverID: a.ApproverID,
		Status:     a.Status,
		Comment:    a.Comment,
		DecidedAt:  a.DecidedAt,
		CreatedAt:  a.CreatedAt,
	}
	if a.Request != nil {
		request := toRequestPayload(a.Request)
		payload.Request = &request
	}
	return payload
}
