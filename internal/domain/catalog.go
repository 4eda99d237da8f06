package domain

import (
	"encoding/json"
	"time"
)

// Environment is a deployment target requests provision into.
type Environment struct {
	ID               string
	Name             string
	Slug             string
	Description      string
	RequiresApproval bool
	CreatedAt        time.Time
}

// ResourceType is a provisionable catalog entry. ConfigSchema holds the raw
// schema document; ordering inside it is significant and it is stored and
// served verbatim.
type ResourceType struct {
	ID           string
	Name         string
	Slug         string
	Description  string
	Icon         string
	BaseCost     float64
	ConfigSchema json.RawMessage
	CreatedAt    time.Time
}
