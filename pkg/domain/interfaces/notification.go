package interfaces

import (
	"context"

	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

// NotificationRepository defines the interface for Notification data access.
// Every mutating method is scoped to the recipient.
type NotificationRepository interface {
	// List returns notifications of a user, newest first
	List(ctx context.Context, userID types.UserID, unreadOnly bool) ([]*model.Notification, error)

	// Get retrieves a notification by ID
	Get(ctx context.Context, id types.NotificationID) (*model.Notification, error)

	// MarkRead flips one notification of userID to read. Returns ErrNotFound
	// when the notification does not exist or belongs to someone else.
	MarkRead(ctx context.Context, userID types.UserID, id types.NotificationID) error

	// MarkAllRead flips every unread notification of userID and returns how many changed
	MarkAllRead(ctx context.Context, userID types.UserID) (int, error)

	// Delete removes one notification of userID
	Delete(ctx context.Context, userID types.UserID, id types.NotificationID) error

	// CountUnread returns the number of unread notifications of userID
	CountUnread(ctx context.Context, userID types.UserID) (int, error)
}
