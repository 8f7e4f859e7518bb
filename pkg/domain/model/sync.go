package model

import (
	"log/slog"
	"time"

	"github.com/secmon-lab/changegate/pkg/domain/types"
)

// SyncOverlap is subtracted from sync cursors. Writers stamp UpdatedAt before
// their transaction commits, so a record may become visible after a reader
// passed its timestamp; imports are idempotent and absorb the repeats.
const SyncOverlap = time.Minute

// SyncState is the device-side session and cursor record of background sync
type SyncState struct {
	Token         string `masq:"secret"`
	UserID        types.UserID
	Role          types.Role
	ExpiresAt     time.Time
	PulledAt      time.Time // server time the last successful pull was consistent to
	PushedAt      time.Time // local time up to which changes were pushed
	LastAttemptAt time.Time
	LastSuccessAt time.Time
}

// HasValidToken reports whether a stored token exists and is not expired at now
func (s *SyncState) HasValidToken(now time.Time) bool {
	if s == nil || s.Token == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

// LogValue hides the bearer token from logs
func (s SyncState) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("token.len", len(s.Token)),
		slog.String("user_id", s.UserID.String()),
		slog.Time("expires_at", s.ExpiresAt),
		slog.Time("pulled_at", s.PulledAt),
		slog.Time("pushed_at", s.PushedAt),
	)
}

// SyncBatch is the unit exchanged between a device and the server
type SyncBatch struct {
	ChangeRequests  []*ChangeRequest  `json:"change_requests"`
	Histories       []*ApprovalHistory `json:"histories"`
	RiskAssessments []*RiskAssessment `json:"risk_assessments"`
	Notifications   []*Notification   `json:"notifications"`
	Until           time.Time         `json:"until"`
}

// Len returns the number of records in the batch
func (b *SyncBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.ChangeRequests) + len(b.Histories) + len(b.RiskAssessments) + len(b.Notifications)
}

// ImportConflict describes a record rejected during import
type ImportConflict struct {
	ChangeRequestID types.ChangeRequestID `json:"change_request_id"`
	TicketID        TicketID              `json:"ticket_id,omitempty"`
	Reason          string                `json:"reason"`
}

// TicketAssignment maps a provisional ticket to the number the server gave it
type TicketAssignment struct {
	ChangeRequestID types.ChangeRequestID `json:"change_request_id"`
	Provisional     TicketID              `json:"provisional"`
	TicketID        TicketID              `json:"ticket_id"`
}

// ImportResult summarizes a reconcile of a SyncBatch into a store
type ImportResult struct {
	Applied   int                `json:"applied"`
	Skipped   int                `json:"skipped"`
	Conflicts []ImportConflict   `json:"conflicts,omitempty"`
	Assigned  []TicketAssignment `json:"assigned,omitempty"`
}
