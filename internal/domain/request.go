package domain

import (
	"encoding/json"
	"time"

	"github.com/stackform/portal/pkg/lifecycle"
)

// Request priorities, in escalation order.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// ValidPriority reports whether p is a known priority value.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Request is a provisioning request moving through the approval lifecycle.
type Request struct {
	ID             string
	UserID         string
	EnvironmentID  string
	ResourceTypeID string
	Title          string
	Description    string
	Status         lifecycle.Status
	Priority       string
	Config         json.RawMessage
	SubmittedAt    *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
