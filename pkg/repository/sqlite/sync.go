package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/repository/merge"
)

type syncRepository struct {
	r *Repository
}

func (x *syncRepository) Export(ctx context.Context, since time.Time, scope interfaces.SyncScope) (*model.SyncBatch, error) {
	batch := &model.SyncBatch{}
	cursor := toNanos(since)
	submitter := scope.SubmittedBy.String()
	recipient := scope.RecipientID.String()

	// Run all reads inside one transaction so the batch is a consistent snapshot
	err := x.r.runInTx(ctx, func(q querier) error {
		var err error
		batch.ChangeRequests, err = queryChangeRequests(ctx, q,
			selectChangeRequest+" WHERE updated_at > ? AND (? = '' OR submitted_by = ?) ORDER BY updated_at",
			cursor, submitter, submitter)
		if err != nil {
			return err
		}

		batch.Histories, err = queryHistories(ctx, q, selectHistory+` h WHERE h.created_at > ?
			AND (? = '' OR EXISTS (SELECT 1 FROM change_requests c WHERE c.id = h.change_request_id AND c.submitted_by = ?))
			ORDER BY h.change_request_id, h.sequence`, cursor, submitter, submitter)
		if err != nil {
			return err
		}

		rows, err := q.QueryContext(ctx, selectRiskAssessment+` r WHERE r.updated_at > ?
			AND (? = '' OR EXISTS (SELECT 1 FROM change_requests c WHERE c.id = r.change_request_id AND c.submitted_by = ?))`,
			cursor, submitter, submitter)
		if err != nil {
			return goerr.Wrap(err, "failed to query risk assessments")
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			ra, err := scanRiskAssessment(rows)
			if err != nil {
				return goerr.Wrap(err, "failed to scan risk assessment")
			}
			batch.RiskAssessments = append(batch.RiskAssessments, ra)
		}
		if err := rows.Err(); err != nil {
			return goerr.Wrap(err, "failed to iterate risk assessments")
		}

		batch.Notifications, err = queryNotifications(ctx, q,
			selectNotification+" WHERE updated_at > ? AND (? = '' OR recipient_id = ?) ORDER BY created_at",
			cursor, recipient, recipient)
		return err
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (x *syncRepository) Import(ctx context.Context, batch *model.SyncBatch) (*model.ImportResult, error) {
	var result *model.ImportResult
	err := x.r.runInTx(ctx, func(q querier) error {
		var err error
		result, err = merge.Apply(ctx, &txStore{q: q}, batch)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// txStore implements merge.Store on an open transaction
type txStore struct {
	q querier
}

func (s *txStore) GetChangeRequest(ctx context.Context, id types.ChangeRequestID) (*model.ChangeRequest, error) {
	cr, err := scanChangeRequest(s.q.QueryRowContext(ctx, selectChangeRequest+" WHERE id = ?", id.String()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get change request", goerr.V(model.ChangeRequestIDKey, id))
	}
	return cr, nil
}

func (s *txStore) LookupTicket(ctx context.Context, ticketID model.TicketID) (types.ChangeRequestID, bool, error) {
	var id string
	err := s.q.QueryRowContext(ctx, "SELECT id FROM change_requests WHERE ticket_id = ?", ticketID.String()).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, goerr.Wrap(err, "failed to look up ticket", goerr.V(model.TicketIDKey, ticketID))
	}
	return types.ChangeRequestID(id), true, nil
}

func (s *txStore) AllocateTicket(ctx context.Context, day string) (model.TicketID, error) {
	seq, err := nextTicketSeq(ctx, s.q, day)
	if err != nil {
		return "", err
	}
	return model.FormatTicketID(day, seq), nil
}

func (s *txStore) PutChangeRequest(ctx context.Context, cr *model.ChangeRequest, previous *model.ChangeRequest) error {
	if previous == nil || previous.TicketID != cr.TicketID {
		day, seq, err := model.ParseTicketID(cr.TicketID.String())
		if err != nil {
			return err
		}
		if err := raiseTicketCounter(ctx, s.q, day, seq); err != nil {
			return err
		}
	}
	return putChangeRequest(ctx, s.q, cr)
}

func (s *txStore) HasHistory(ctx context.Context, h *model.ApprovalHistory) (bool, error) {
	var exists int
	err := s.q.QueryRowContext(ctx, `SELECT 1 FROM approval_histories
		WHERE id = ? OR (change_request_id = ? AND sequence = ?) LIMIT 1`,
		h.ID.String(), h.ChangeRequestID.String(), h.Sequence).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "failed to check history", goerr.V(model.ChangeRequestIDKey, h.ChangeRequestID))
	}
	return true, nil
}

func (s *txStore) PutHistory(ctx context.Context, h *model.ApprovalHistory) error {
	return insertHistory(ctx, s.q, h)
}

func (s *txStore) GetRiskAssessment(ctx context.Context, id types.ChangeRequestID) (*model.RiskAssessment, error) {
	return findRiskAssessment(ctx, s.q, id)
}

func (s *txStore) PutRiskAssessment(ctx context.Context, ra *model.RiskAssessment) error {
	return putRiskAssessment(ctx, s.q, ra)
}

func (s *txStore) GetNotification(ctx context.Context, id types.NotificationID) (*model.Notification, error) {
	return findNotification(ctx, s.q, id)
}

func (s *txStore) PutNotification(ctx context.Context, n *model.Notification) error {
	return putNotification(ctx, s.q, n)
}
