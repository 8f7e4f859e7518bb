package interfaces

import (
	"context"
	"time"

	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/model/auth"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

// RemoteClient talks to the changegate server. Unreachable servers and 5xx
// responses are reported as model.ErrNetworkUnavailable.
type RemoteClient interface {
	Authenticate(ctx context.Context, userID types.UserID, password string) (*auth.Token, error)
	Pull(ctx context.Context, token string, since time.Time) (*model.SyncBatch, error)
	Push(ctx context.Context, token string, batch *model.SyncBatch) (*model.ImportResult, error)
}

// TransitionNotifier announces committed transitions to an external channel
type TransitionNotifier interface {
	NotifyTransition(ctx context.Context, cr *model.ChangeRequest, h *model.ApprovalHistory) error
}
