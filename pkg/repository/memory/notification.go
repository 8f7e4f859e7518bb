package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

type notificationRepository struct {
	m *Memory
}

func (r *notificationRepository) List(ctx context.Context, userID types.UserID, unreadOnly bool) ([]*model.Notification, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	var result []*model.Notification
	for _, n := range r.m.notifications {
		if n.RecipientID != userID || (unreadOnly && n.Read) {
			continue
		}
		result = append(result, copyNotification(n))
	}

	slices.SortFunc(result, func(a, b *model.Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(b.ID), string(a.ID))
	})
	return result, nil
}

func (r *notificationRepository) Get(ctx context.Context, id types.NotificationID) (*model.Notification, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	n, exists := r.m.notifications[id]
	if !exists {
		return nil, goerr.Wrap(model.ErrNotFound, "notification not found", goerr.V(model.NotificationIDKey, id))
	}
	return copyNotification(n), nil
}

// owned returns the notification only when it belongs to userID. Caller holds the lock.
func (r *notificationRepository) owned(userID types.UserID, id types.NotificationID) (*model.Notification, error) {
	n, exists := r.m.notifications[id]
	if !exists || n.RecipientID != userID {
		return nil, goerr.Wrap(model.ErrNotFound, "notification not found",
			goerr.V(model.NotificationIDKey, id),
			goerr.V(model.UserIDKey, userID))
	}
	return n, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, userID types.UserID, id types.NotificationID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	n, err := r.owned(userID, id)
	if err != nil {
		return err
	}
	if !n.Read {
		n.Read = true
		n.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID types.UserID) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	now := time.Now().UTC()
	count := 0
	for _, n := range r.m.notifications {
		if n.RecipientID == userID && !n.Read {
			n.Read = true
			n.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

func (r *notificationRepository) Delete(ctx context.Context, userID types.UserID, id types.NotificationID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if _, err := r.owned(userID, id); err != nil {
		return err
	}
	delete(r.m.notifications, id)
	return nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID types.UserID) (int, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	count := 0
	for _, n := range r.m.notifications {
		if n.RecipientID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}
