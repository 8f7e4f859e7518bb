package interfaces

import (
	"context"

	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

// TransitionFunc computes the change set of a transition from the current
// record and its risk assessment (nil when none). Returning an error aborts
// the transition without any write.
type TransitionFunc func(current *model.ChangeRequest, assessment *model.RiskAssessment) (*model.TransitionResult, error)

// ChangeRequestRepository defines the interface for ChangeRequest data access
type ChangeRequestRepository interface {
	// Create stores a new change request. The ticket ID is allocated from the
	// per-day counter of cr.CreatedAt inside the same transaction as the insert.
	Create(ctx context.Context, cr *model.ChangeRequest) (*model.ChangeRequest, error)

	// Get retrieves a change request by ID
	Get(ctx context.Context, id types.ChangeRequestID) (*model.ChangeRequest, error)

	// GetByTicket retrieves a change request by its ticket ID
	GetByTicket(ctx context.Context, ticketID model.TicketID) (*model.ChangeRequest, error)

	// List retrieves change requests, newest first
	List(ctx context.Context, opts ...ListChangeRequestOption) ([]*model.ChangeRequest, error)

	// Transition runs fn against the current record and atomically persists the
	// updated change request, its history entry and the optional notification.
	Transition(ctx context.Context, id types.ChangeRequestID, fn TransitionFunc) (*model.TransitionResult, error)

	// Delete removes a change request together with its history, risk
	// assessment and notifications
	Delete(ctx context.Context, id types.ChangeRequestID) error
}

// ApprovalHistoryRepository gives read access to the audit trail. Entries are
// only written through ChangeRequestRepository.Transition and sync import.
type ApprovalHistoryRepository interface {
	// List returns the history of a change request ordered by sequence
	List(ctx context.Context, id types.ChangeRequestID) ([]*model.ApprovalHistory, error)
}

// RiskAssessmentRepository defines the interface for RiskAssessment data access
type RiskAssessmentRepository interface {
	// Put creates or replaces the assessment of a change request
	Put(ctx context.Context, ra *model.RiskAssessment) error

	// Get retrieves the assessment of a change request
	Get(ctx context.Context, id types.ChangeRequestID) (*model.RiskAssessment, error)
}
