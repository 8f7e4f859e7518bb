package interfaces

import (
	"context"

	"github.com/secmon-lab/changegate/pkg/domain/model"
)

// Repository defines the interface for data persistence
type Repository interface {
	ChangeRequest() ChangeRequestRepository
	ApprovalHistory() ApprovalHistoryRepository
	RiskAssessment() RiskAssessmentRepository
	Notification() NotificationRepository
	Sync() SyncRepository

	// GetSyncState returns the stored device session. A zero state is returned
	// when nothing was stored yet.
	GetSyncState(ctx context.Context) (*model.SyncState, error)
	PutSyncState(ctx context.Context, state *model.SyncState) error

	Close() error
}
