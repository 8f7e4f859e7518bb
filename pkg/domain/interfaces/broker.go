package interfaces

import (
	"context"

	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

// NotificationBroker fans out created notifications to live subscribers
type NotificationBroker interface {
	Publish(ctx context.Context, n *model.Notification) error

	// Subscribe delivers notifications addressed to userID until ctx is done
	// or the returned cancel func is called
	Subscribe(ctx context.Context, userID types.UserID) (<-chan *model.Notification, func(), error)
}
