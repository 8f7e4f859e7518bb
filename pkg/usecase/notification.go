package usecase

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/model/auth"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

// NotificationUseCase manages the in-app inbox of the actor. Every operation
// is scoped to the actor's own notifications.
type NotificationUseCase struct {
	uc *UseCases
}

func (n *NotificationUseCase) List(ctx context.Context, actor auth.Actor, unreadOnly bool) ([]*model.Notification, error) {
	return n.uc.repo.Notification().List(ctx, actor.ID, unreadOnly)
}

func (n *NotificationUseCase) CountUnread(ctx context.Context, actor auth.Actor) (int, error) {
	return n.uc.repo.Notification().CountUnread(ctx, actor.ID)
}

// MarkRead flips one notification of actor to read
func (n *NotificationUseCase) MarkRead(ctx context.Context, actor auth.Actor, id types.NotificationID) error {
	if err := n.uc.repo.Notification().MarkRead(ctx, actor.ID, id); err != nil {
		return goerr.Wrap(err, "failed to mark notification read",
			goerr.V(model.NotificationIDKey, id), goerr.V(model.UserIDKey, actor.ID))
	}
	return nil
}

// MarkAllRead flips every unread notification of actor and returns the count
func (n *NotificationUseCase) MarkAllRead(ctx context.Context, actor auth.Actor) (int, error) {
	count, err := n.uc.repo.Notification().MarkAllRead(ctx, actor.ID)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to mark notifications read", goerr.V(model.UserIDKey, actor.ID))
	}
	return count, nil
}

func (n *NotificationUseCase) Delete(ctx context.Context, actor auth.Actor, id types.NotificationID) error {
	if err := n.uc.repo.Notification().Delete(ctx, actor.ID, id); err != nil {
		return goerr.Wrap(err, "failed to delete notification",
			goerr.V(model.NotificationIDKey, id), goerr.V(model.UserIDKey, actor.ID))
	}
	return nil
}

// Subscribe streams new notifications of actor. It fails when no broker is configured.
func (n *NotificationUseCase) Subscribe(ctx context.Context, actor auth.Actor) (<-chan *model.Notification, func(), error) {
	if n.uc.broker == nil {
		return nil, nil, goerr.New("notification stream is not enabled")
	}
	return n.uc.broker.Subscribe(ctx, actor.ID)
}
