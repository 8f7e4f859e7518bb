package types

import "fmt"

// ChangeStatus represents the workflow status of a change request
type ChangeStatus string

const (
	ChangeStatusSubmitted    ChangeStatus = "SUBMITTED"
	ChangeStatusReviewed     ChangeStatus = "REVIEWED"
	ChangeStatusRevision     ChangeStatus = "REVISION"
	ChangeStatusApproved     ChangeStatus = "APPROVED"
	ChangeStatusScheduled    ChangeStatus = "SCHEDULED"
	ChangeStatusImplementing ChangeStatus = "IMPLEMENTING"
	ChangeStatusCompleted    ChangeStatus = "COMPLETED"
	ChangeStatusFailed       ChangeStatus = "FAILED"
	ChangeStatusClosed       ChangeStatus = "CLOSED"
)

// AllChangeStatuses returns all valid change statuses in workflow order
func AllChangeStatuses() []ChangeStatus {
	return []ChangeStatus{
		ChangeStatusSubmitted,
		ChangeStatusReviewed,
		ChangeStatusRevision,
		ChangeStatusApproved,
		ChangeStatusScheduled,
		ChangeStatusImplementing,
		ChangeStatusCompleted,
		ChangeStatusFailed,
		ChangeStatusClosed,
	}
}

// IsValid checks if the change status is valid
func (s ChangeStatus) IsValid() bool {
	switch s {
	case ChangeStatusSubmitted,
		ChangeStatusReviewed,
		ChangeStatusRevision,
		ChangeStatusApproved,
		ChangeStatusScheduled,
		ChangeStatusImplementing,
		ChangeStatusCompleted,
		ChangeStatusFailed,
		ChangeStatusClosed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no transition may leave the status
func (s ChangeStatus) IsTerminal() bool {
	switch s {
	case ChangeStatusCompleted, ChangeStatusFailed, ChangeStatusClosed:
		return true
	default:
		return false
	}
}

// Label returns a human readable label for notifications
func (s ChangeStatus) Label() string {
	switch s {
	case ChangeStatusSubmitted:
		return "Submitted"
	case ChangeStatusReviewed:
		return "Reviewed"
	case ChangeStatusRevision:
		return "Revision requested"
	case ChangeStatusApproved:
		return "Approved"
	case ChangeStatusScheduled:
		return "Scheduled"
	case ChangeStatusImplementing:
		return "Implementing"
	case ChangeStatusCompleted:
		return "Completed"
	case ChangeStatusFailed:
		return "Failed"
	case ChangeStatusClosed:
		return "Closed"
	default:
		return string(s)
	}
}

// String returns the string representation of the change status
func (s ChangeStatus) String() string {
	return string(s)
}

// ParseChangeStatus parses a string into a ChangeStatus
func ParseChangeStatus(s string) (ChangeStatus, error) {
	status := ChangeStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid change status: %s", s)
	}
	return status, nil
}
