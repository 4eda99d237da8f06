package domain

import (
	"encoding/json"
	"time"
)

// AuditLog records a mutating action against a portal entity.
type AuditLog struct {
	ID         int64
	UserID     string
	Action     string
	EntityType string
	EntityID   string
	Details    json.RawMessage
	CreatedAt  time.Time
}
