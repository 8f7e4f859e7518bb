package model

import (
	"time"

	"github.com/secmon-lab/changegate/pkg/domain/types"
)

// ApprovalHistory is one append-only audit entry per transition
type ApprovalHistory struct {
	ID              types.HistoryID       `json:"id"`
	ChangeRequestID types.ChangeRequestID `json:"change_request_id"`
	Sequence        int                   `json:"sequence"` // 1-based position in the change request's walk
	ApproverID      types.UserID          `json:"approver_id"`
	FromStatus      types.ChangeStatus    `json:"from_status"`
	ToStatus        types.ChangeStatus    `json:"to_status"`
	Notes           string                `json:"notes,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
}
