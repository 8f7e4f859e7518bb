package firestore

import (
	"context"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"google.golang.org/api/iterator"
)

type notificationRepository struct {
	f *Firestore
}

func collectNotifications(iter *firestore.DocumentIterator) ([]*model.Notification, error) {
	defer iter.Stop()

	var result []*model.Notification
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate notifications")
		}
		var n model.Notification
		if err := doc.DataTo(&n); err != nil {
			return nil, goerr.Wrap(err, "failed to decode notification", goerr.V("doc", doc.Ref.ID))
		}
		result = append(result, &n)
	}
	return result, nil
}

func (r *notificationRepository) List(ctx context.Context, userID types.UserID, unreadOnly bool) ([]*model.Notification, error) {
	query := r.f.collection(collNotifications).Where("RecipientID", "==", userID)
	if unreadOnly {
		query = query.Where("Read", "==", false)
	}

	result, err := collectNotifications(query.Documents(ctx))
	if err != nil {
		return nil, err
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
	doc, err := r.f.collection(collNotifications).Doc(id.String()).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(model.ErrNotFound, "notification not found", goerr.V(model.NotificationIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to get notification", goerr.V(model.NotificationIDKey, id))
	}

	var n model.Notification
	if err := doc.DataTo(&n); err != nil {
		return nil, goerr.Wrap(err, "failed to decode notification", goerr.V(model.NotificationIDKey, id))
	}
	return &n, nil
}

// ownedInTx loads a notification inside tx and checks its recipient
func (r *notificationRepository) ownedInTx(tx *firestore.Transaction, userID types.UserID, id types.NotificationID) (*model.Notification, *firestore.DocumentRef, error) {
	ref := r.f.collection(collNotifications).Doc(id.String())
	doc, err := tx.Get(ref)
	if err != nil {
		if isNotFound(err) {
			return nil, nil, goerr.Wrap(model.ErrNotFound, "notification not found", goerr.V(model.NotificationIDKey, id))
		}
		return nil, nil, goerr.Wrap(err, "failed to get notification", goerr.V(model.NotificationIDKey, id))
	}

	var n model.Notification
	if err := doc.DataTo(&n); err != nil {
		return nil, nil, goerr.Wrap(err, "failed to decode notification", goerr.V(model.NotificationIDKey, id))
	}
	if n.RecipientID != userID {
		return nil, nil, goerr.Wrap(model.ErrNotFound, "notification not found",
			goerr.V(model.NotificationIDKey, id), goerr.V(model.UserIDKey, userID))
	}
	return &n, ref, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, userID types.UserID, id types.NotificationID) error {
	return r.f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		n, ref, err := r.ownedInTx(tx, userID, id)
		if err != nil {
			return err
		}
		if n.Read {
			return nil
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "Read", Value: true},
			{Path: "UpdatedAt", Value: time.Now().UTC()},
		})
	})
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID types.UserID) (int, error) {
	iter := r.f.collection(collNotifications).
		Where("RecipientID", "==", userID).
		Where("Read", "==", false).
		Documents(ctx)
	defer iter.Stop()

	now := time.Now().UTC()
	bulkWriter := r.f.client.BulkWriter(ctx)
	count := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			bulkWriter.End()
			return count, goerr.Wrap(err, "failed to iterate notifications", goerr.V(model.UserIDKey, userID))
		}
		if _, err := bulkWriter.Update(doc.Ref, []firestore.Update{
			{Path: "Read", Value: true},
			{Path: "UpdatedAt", Value: now},
		}); err != nil {
			bulkWriter.End()
			return count, goerr.Wrap(err, "failed to mark notification read", goerr.V("doc", doc.Ref.ID))
		}
		count++
	}
	bulkWriter.End()

	return count, nil
}

func (r *notificationRepository) Delete(ctx context.Context, userID types.UserID, id types.NotificationID) error {
	return r.f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, ref, err := r.ownedInTx(tx, userID, id)
		if err != nil {
			return err
		}
		return tx.Delete(ref)
	})
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID types.UserID) (int, error) {
	unread, err := r.List(ctx, userID, true)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count notifications", goerr.V(model.UserIDKey, userID))
	}
	return len(unread), nil
}
