package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

const selectNotification = `SELECT id, recipient_id, change_request_id, ticket_id, title, message,
	from_status, to_status, read, created_at, updated_at FROM notifications`

var upsertNotification = buildUpsert("notifications", []string{
	"id", "recipient_id", "change_request_id", "ticket_id", "title", "message",
	"from_status", "to_status", "read", "created_at", "updated_at",
}, "id")

func scanNotification(s scanner) (*model.Notification, error) {
	var (
		n                    model.Notification
		read                 int
		createdAt, updatedAt int64
	)
	if err := s.Scan(&n.ID, &n.RecipientID, &n.ChangeRequestID, &n.TicketID, &n.Title, &n.Message,
		&n.FromStatus, &n.ToStatus, &read, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	n.Read = read != 0
	n.CreatedAt = fromNanos(createdAt)
	n.UpdatedAt = fromNanos(updatedAt)
	return &n, nil
}

func putNotification(ctx context.Context, q querier, n *model.Notification) error {
	read := 0
	if n.Read {
		read = 1
	}
	_, err := q.ExecContext(ctx, upsertNotification,
		n.ID.String(), n.RecipientID.String(), n.ChangeRequestID.String(), n.TicketID.String(), n.Title, n.Message,
		n.FromStatus.String(), n.ToStatus.String(), read, toNanos(n.CreatedAt), toNanos(n.UpdatedAt))
	if err != nil {
		return goerr.Wrap(err, "failed to put notification", goerr.V(model.NotificationIDKey, n.ID))
	}
	return nil
}

func findNotification(ctx context.Context, q querier, id types.NotificationID) (*model.Notification, error) {
	n, err := scanNotification(q.QueryRowContext(ctx, selectNotification+" WHERE id = ?", id.String()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get notification", goerr.V(model.NotificationIDKey, id))
	}
	return n, nil
}

func queryNotifications(ctx context.Context, q querier, query string, args ...any) ([]*model.Notification, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query notifications")
	}
	defer func() { _ = rows.Close() }()

	var result []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan notification")
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate notifications")
	}
	return result, nil
}

type notificationRepository struct {
	r *Repository
}

func (x *notificationRepository) List(ctx context.Context, userID types.UserID, unreadOnly bool) ([]*model.Notification, error) {
	query := selectNotification + " WHERE recipient_id = ?"
	if unreadOnly {
		query += " AND read = 0"
	}
	query += " ORDER BY created_at DESC, id DESC"
	return queryNotifications(ctx, x.r.db, query, userID.String())
}

func (x *notificationRepository) Get(ctx context.Context, id types.NotificationID) (*model.Notification, error) {
	n, err := findNotification(ctx, x.r.db, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, goerr.Wrap(model.ErrNotFound, "notification not found", goerr.V(model.NotificationIDKey, id))
	}
	return n, nil
}

func (x *notificationRepository) MarkRead(ctx context.Context, userID types.UserID, id types.NotificationID) error {
	return x.r.runInTx(ctx, func(q querier) error {
		var read int
		err := q.QueryRowContext(ctx, "SELECT read FROM notifications WHERE id = ? AND recipient_id = ?",
			id.String(), userID.String()).Scan(&read)
		if err == sql.ErrNoRows {
			return goerr.Wrap(model.ErrNotFound, "notification not found",
				goerr.V(model.NotificationIDKey, id), goerr.V(model.UserIDKey, userID))
		}
		if err != nil {
			return goerr.Wrap(err, "failed to get notification", goerr.V(model.NotificationIDKey, id))
		}
		if read != 0 {
			return nil
		}
		if _, err := q.ExecContext(ctx, "UPDATE notifications SET read = 1, updated_at = ? WHERE id = ?",
			toNanos(time.Now().UTC()), id.String()); err != nil {
			return goerr.Wrap(err, "failed to mark notification read", goerr.V(model.NotificationIDKey, id))
		}
		return nil
	})
}

func (x *notificationRepository) MarkAllRead(ctx context.Context, userID types.UserID) (int, error) {
	res, err := x.r.db.ExecContext(ctx, "UPDATE notifications SET read = 1, updated_at = ? WHERE recipient_id = ? AND read = 0",
		toNanos(time.Now().UTC()), userID.String())
	if err != nil {
		return 0, goerr.Wrap(err, "failed to mark notifications read", goerr.V(model.UserIDKey, userID))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count updated notifications")
	}
	return int(n), nil
}

func (x *notificationRepository) Delete(ctx context.Context, userID types.UserID, id types.NotificationID) error {
	res, err := x.r.db.ExecContext(ctx, "DELETE FROM notifications WHERE id = ? AND recipient_id = ?", id.String(), userID.String())
	if err != nil {
		return goerr.Wrap(err, "failed to delete notification", goerr.V(model.NotificationIDKey, id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return goerr.Wrap(model.ErrNotFound, "notification not found",
			goerr.V(model.NotificationIDKey, id), goerr.V(model.UserIDKey, userID))
	}
	return nil
}

func (x *notificationRepository) CountUnread(ctx context.Context, userID types.UserID) (int, error) {
	var count int
	if err := x.r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND read = 0",
		userID.String()).Scan(&count); err != nil {
		return 0, goerr.Wrap(err, "failed to count notifications", goerr.V(model.UserIDKey, userID))
	}
	return count, nil
}
