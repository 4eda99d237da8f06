package domain

import "time"

// Approval decision states.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// Approval is a human decision record attached to a submitted request.
// Auto-approved submissions never get one.
type Approval struct {
	ID         string
	RequestID  string
	ApproverID *string
	Status     string
	Comment    string
	DecidedAt  *time.Time
	CreatedAt  time.Time

	// Request is populated on queue listings for display.
	Request *Request
}
