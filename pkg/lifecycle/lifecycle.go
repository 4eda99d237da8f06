// Package lifecycle defines the request status state machine and the
// capability checks that gate its transitions. The functions here are pure:
// they take the current status and return the next one, or an error, without
// touching any stored entity. Both the API server and the CLI gate actions
// through this package; the server remains the authoritative enforcer.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

// Status is a request's position in its lifecycle.
type Status string

// Request statuses.
const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusApplied  Status = "applied"
	StatusFailed   Status = "failed"
)

// Error kinds surfaced by lifecycle-guarded operations. Callers wrap these
// with fmt.Errorf("%w: ...") and match with errors.Is.
var (
	ErrValidation = errors.New("lifecycle: validation failed")
	ErrState      = errors.New("lifecycle: invalid state transition")
	ErrPermission = errors.New("lifecycle: permission denied")
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected, StatusApplied, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusApplied, StatusFailed:
		return true
	}
	return false
}

// Capability is a coarse permission derived once from a user's role.
type Capability uint8

const (
	// CapabilitySubmit allows creating and submitting own requests.
	CapabilitySubmit Capability = 1 << iota
	// CapabilityApprove allows deciding pending approvals.
	CapabilityApprove
	// CapabilityAdmin allows acting across owners.
	CapabilityAdmin
)

// CapabilitySet is a bitmask of capabilities.
type CapabilitySet uint8

// Has reports whether the set contains c.
func (cs CapabilitySet) Has(c Capability) bool {
	return cs&CapabilitySet(c) != 0
}

// CapabilitiesForRole maps a stored role string to its capability set.
// Unknown roles get no capabilities.
func CapabilitiesForRole(role string) CapabilitySet {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user":
		return CapabilitySet(CapabilitySubmit)
	case "approver":
		return CapabilitySet(CapabilitySubmit | CapabilityApprove)
	case "admin":
		return CapabilitySet(CapabilitySubmit | CapabilityApprove | CapabilityAdmin)
	}
	return 0
}

// Actor identifies who is attempting an operation. Every guarded operation
// receives the actor explicitly rather than reading ambient session state.
type Actor struct {
	ID   string
	Caps CapabilitySet
}

// Has reports whether the actor holds c.
func (a Actor) Has(c Capability) bool {
	return a.Caps.Has(c)
}

// Submit moves a draft request to pending. Only the owning user may submit.
func Submit(current Status, actor Actor, ownerID string) (Status, error) {
	if actor.ID == "" || actor.ID != ownerID {
		return current, fmt.Errorf("%w: only the request owner may submit", ErrPermission)
	}
	if current != StatusDraft {
		return current, fmt.Errorf("%w: submit requires draft status, request is %s", ErrState, current)
	}
	return StatusPending, nil
}

// Approve moves a pending request to approved. Requires approver capability.
func Approve(current Status, actor Actor) (Status, error) {
	if !actor.Has(CapabilityApprove) {
		return current, fmt.Errorf("%w: approver capability required", ErrPermission)
	}
	if current != StatusPending {
		return current, fmt.Errorf("%w: approve requires pending status, request is %s", ErrState, current)
	}
	return StatusApproved, nil
}

// Reject moves a pending request to rejected. The decision comment is
// mandatory; a blank comment fails before any state is considered.
func Reject(current Status, actor Actor, comment string) (Status, error) {
	if !actor.Has(CapabilityApprove) {
		return current, fmt.Errorf("%w: approver capability required", ErrPermission)
	}
	if strings.TrimSpace(comment) == "" {
		return current, fmt.Errorf("%w: rejection requires a comment", ErrValidation)
	}
	if current != StatusPending {
		return current, fmt.Errorf("%w: reject requires pending status, request is %s", ErrState, current)
	}
	return StatusRejected, nil
}

// MarkApplied records a successful provisioning outcome signaled by the
// external provisioner. No portal user triggers this transition.
func MarkApplied(current Status) (Status, error) {
	if current != StatusApproved {
		return current, fmt.Errorf("%w: applied requires approved status, request is %s", ErrState, current)
	}
	return StatusApplied, nil
}

// MarkFailed records a provisioning failure. Failure may be signaled while
// the request is approved or still pending.
func MarkFailed(current Status) (Status, error) {
	if current != StatusApproved && current != StatusPending {
		return current, fmt.Errorf("%w: failed requires approved or pending status, request is %s", ErrState, current)
	}
	return StatusFailed, nil
}

// CanDelete reports whether the actor may delete a request in the given
// status. Deletion is limited to draft and rejected requests owned by the
// actor; admins may delete across owners.
func CanDelete(current Status, actor Actor, ownerID string) error {
	if actor.ID != ownerID && !actor.Has(CapabilityAdmin) {
		return fmt.Errorf("%w: only the request owner may delete", ErrPermission)
	}
	if current != StatusDraft && current != StatusRejected {
		return fmt.Errorf("%w: delete requires draft or rejected status, request is %s", ErrState, current)
	}
	return nil
}
