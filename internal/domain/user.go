package domain

import "time"

// Roles assignable to portal accounts.
const (
	RoleUser     = "user"
	RoleApprover = "approver"
	RoleAdmin    = "admin"
)

// User represents a portal account.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash []byte
	Role         string
	CreatedAt    time.Time
}
