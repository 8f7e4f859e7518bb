package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

// ChangeRequest is the subject of the workflow. Its status only changes through
// the transition path of the change request repository.
type ChangeRequest struct {
	ID                   types.ChangeRequestID `json:"id"`
	TicketID             TicketID              `json:"ticket_id"`
	SubmittedBy          types.UserID          `json:"submitted_by"`
	Classification       types.ChangeClass     `json:"classification"`
	Title                string                `json:"title"`
	Justification        string                `json:"justification"`
	Purpose              string                `json:"purpose"`
	AffectedAssets       string                `json:"affected_assets"`
	ImplementationPlan   string                `json:"implementation_plan"`
	RollbackPlan         string                `json:"rollback_plan"`
	ScheduledAt          *time.Time            `json:"scheduled_at,omitempty"`
	AssignedTechnicianID types.UserID          `json:"assigned_technician_id,omitempty"`
	PhotoURL             string                `json:"photo_url,omitempty"`
	EstimatedCost        *float64              `json:"estimated_cost,omitempty"`
	EstimatedMinutes     *int                  `json:"estimated_minutes,omitempty"`
	Status               types.ChangeStatus    `json:"status"`
	Revision             int                   `json:"revision"` // number of transitions applied
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

// Validate checks the stored invariants of a change request
func (cr *ChangeRequest) Validate() error {
	if err := cr.ID.Validate(); err != nil {
		return goerr.Wrap(ErrValidation, "invalid change request ID", goerr.V(ChangeRequestIDKey, cr.ID))
	}
	if err := cr.TicketID.Validate(); err != nil {
		return goerr.Wrap(ErrValidation, "invalid ticket ID", goerr.V(TicketIDKey, cr.TicketID))
	}
	if !cr.Status.IsValid() {
		return goerr.Wrap(ErrValidation, "invalid status", goerr.V("status", cr.Status))
	}
	if !cr.Classification.IsValid() {
		return goerr.Wrap(ErrValidation, "invalid classification", goerr.V("classification", cr.Classification))
	}
	if err := cr.SubmittedBy.Validate(); err != nil {
		return goerr.Wrap(ErrValidation, "invalid submitter", goerr.V(UserIDKey, cr.SubmittedBy))
	}
	if cr.UpdatedAt.Before(cr.CreatedAt) {
		return goerr.Wrap(ErrValidation, "updated_at precedes created_at",
			goerr.V(ChangeRequestIDKey, cr.ID),
			goerr.V("created_at", cr.CreatedAt),
			goerr.V("updated_at", cr.UpdatedAt))
	}
	if cr.Revision < 0 {
		return goerr.Wrap(ErrValidation, "negative revision", goerr.V(ChangeRequestIDKey, cr.ID))
	}
	return nil
}

// Clone returns a deep copy of the change request
func (cr *ChangeRequest) Clone() *ChangeRequest {
	c := *cr
	if cr.ScheduledAt != nil {
		v := *cr.ScheduledAt
		c.ScheduledAt = &v
	}
	if cr.EstimatedCost != nil {
		v := *cr.EstimatedCost
		c.EstimatedCost = &v
	}
	if cr.EstimatedMinutes != nil {
		v := *cr.EstimatedMinutes
		c.EstimatedMinutes = &v
	}
	return &c
}

// TransitionResult is the change set produced by one workflow transition. The
// repository persists all of it or none of it.
type TransitionResult struct {
	ChangeRequest *ChangeRequest
	History       *ApprovalHistory
	Notification  *Notification // nil when nobody needs to be informed
}

// NewerThan reports whether cr wins a last-write-wins merge against other.
// Ties on UpdatedAt go to the higher revision; full ties keep other.
func (cr *ChangeRequest) NewerThan(other *ChangeRequest) bool {
	if !cr.UpdatedAt.Equal(other.UpdatedAt) {
		return cr.UpdatedAt.After(other.UpdatedAt)
	}
	return cr.Revision > other.Revision
}
