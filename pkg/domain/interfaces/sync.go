package interfaces

import (
	"context"
	"time"

	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

// SyncScope limits what an export contains. Empty fields mean no restriction.
type SyncScope struct {
	SubmittedBy types.UserID // change requests (and their history and risk) of this submitter
	RecipientID types.UserID // notifications of this recipient
}

// SyncRepository exports and reconciles records exchanged between stores
type SyncRepository interface {
	// Export returns every record in scope modified after since. Until of the
	// returned batch is left for the caller to set.
	Export(ctx context.Context, since time.Time, scope SyncScope) (*model.SyncBatch, error)

	// Import merges batch into the store: change requests and risk assessments
	// by last-write-wins on UpdatedAt, histories and notifications
	// insert-if-absent, notification Read flags as logical OR. A change request
	// whose ticket ID is taken by another record is reported as a conflict.
	Import(ctx context.Context, batch *model.SyncBatch) (*model.ImportResult, error)
}
