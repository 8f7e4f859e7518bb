package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

var changeRequestColumns = []string{
	"id", "ticket_id", "submitted_by", "classification", "title", "justification",
	"purpose", "affected_assets", "implementation_plan", "rollback_plan", "scheduled_at",
	"assigned_technician_id", "photo_url", "estimated_cost", "estimated_minutes",
	"status", "revision", "created_at", "updated_at",
}

var (
	selectChangeRequest = "SELECT " + strings.Join(changeRequestColumns, ", ") + " FROM change_requests"
	upsertChangeRequest = buildUpsert("change_requests", changeRequestColumns, "id")
)

// buildUpsert updates in place on conflict; INSERT OR REPLACE would delete the
// row and cascade to its children.
func buildUpsert(table string, columns []string, key string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	var sets []string
	for _, c := range columns {
		if c != key {
			sets = append(sets, c+" = excluded."+c)
		}
	}
	return "INSERT INTO " + table + " (" + strings.Join(columns, ", ") + ") VALUES (" + placeholders +
		") ON CONFLICT(" + key + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChangeRequest(s scanner) (*model.ChangeRequest, error) {
	var (
		cr                   model.ChangeRequest
		scheduledAt          sql.NullInt64
		estimatedCost        sql.NullFloat64
		estimatedMinutes     sql.NullInt64
		createdAt, updatedAt int64
	)
	err := s.Scan(&cr.ID, &cr.TicketID, &cr.SubmittedBy, &cr.Classification, &cr.Title, &cr.Justification,
		&cr.Purpose, &cr.AffectedAssets, &cr.ImplementationPlan, &cr.RollbackPlan, &scheduledAt,
		&cr.AssignedTechnicianID, &cr.PhotoURL, &estimatedCost, &estimatedMinutes,
		&cr.Status, &cr.Revision, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if scheduledAt.Valid {
		t := fromNanos(scheduledAt.Int64)
		cr.ScheduledAt = &t
	}
	if estimatedCost.Valid {
		v := estimatedCost.Float64
		cr.EstimatedCost = &v
	}
	if estimatedMinutes.Valid {
		v := int(estimatedMinutes.Int64)
		cr.EstimatedMinutes = &v
	}
	cr.CreatedAt = fromNanos(createdAt)
	cr.UpdatedAt = fromNanos(updatedAt)
	return &cr, nil
}

func putChangeRequest(ctx context.Context, q querier, cr *model.ChangeRequest) error {
	var cost sql.NullFloat64
	if cr.EstimatedCost != nil {
		cost = sql.NullFloat64{Float64: *cr.EstimatedCost, Valid: true}
	}
	var minutes sql.NullInt64
	if cr.EstimatedMinutes != nil {
		minutes = sql.NullInt64{Int64: int64(*cr.EstimatedMinutes), Valid: true}
	}

	_, err := q.ExecContext(ctx, upsertChangeRequest,
		cr.ID.String(), cr.TicketID.String(), cr.SubmittedBy.String(), cr.Classification.String(), cr.Title, cr.Justification,
		cr.Purpose, cr.AffectedAssets, cr.ImplementationPlan, cr.RollbackPlan, nullNanos(cr.ScheduledAt),
		cr.AssignedTechnicianID.String(), cr.PhotoURL, cost, minutes,
		cr.Status.String(), cr.Revision, toNanos(cr.CreatedAt), toNanos(cr.UpdatedAt))
	if isUniqueViolation(err) {
		return goerr.Wrap(model.ErrConflict, "ticket ID already used", goerr.V(model.TicketIDKey, cr.TicketID))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to put change request", goerr.V(model.ChangeRequestIDKey, cr.ID))
	}
	return nil
}

func getChangeRequest(ctx context.Context, q querier, id types.ChangeRequestID) (*model.ChangeRequest, error) {
	cr, err := scanChangeRequest(q.QueryRowContext(ctx, selectChangeRequest+" WHERE id = ?", id.String()))
	if err == sql.ErrNoRows {
		return nil, goerr.Wrap(model.ErrNotFound, "change request not found", goerr.V(model.ChangeRequestIDKey, id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get change request", goerr.V(model.ChangeRequestIDKey, id))
	}
	return cr, nil
}

func nextTicketSeq(ctx context.Context, q querier, day string) (int64, error) {
	var seq int64
	if err := q.QueryRowContext(ctx, `INSERT INTO ticket_counters (day, seq) VALUES (?, 1)
		ON CONFLICT(day) DO UPDATE SET seq = seq + 1 RETURNING seq`, day).Scan(&seq); err != nil {
		return 0, goerr.Wrap(err, "failed to allocate ticket", goerr.V("day", day))
	}
	return seq, nil
}

// raiseTicketCounter keeps the per-day counter at or above seq
func raiseTicketCounter(ctx context.Context, q querier, day string, seq int64) error {
	_, err := q.ExecContext(ctx, `INSERT INTO ticket_counters (day, seq) VALUES (?, ?)
		ON CONFLICT(day) DO UPDATE SET seq = MAX(seq, excluded.seq)`, day, seq)
	if err != nil {
		return goerr.Wrap(err, "failed to raise ticket counter", goerr.V("day", day))
	}
	return nil
}

type changeRequestRepository struct {
	r *Repository
}

func (x *changeRequestRepository) Create(ctx context.Context, cr *model.ChangeRequest) (*model.ChangeRequest, error) {
	created := cr.Clone()
	err := x.r.runInTx(ctx, func(q querier) error {
		day := model.TicketDay(created.CreatedAt)
		seq, err := nextTicketSeq(ctx, q, day)
		if err != nil {
			return err
		}

		created.TicketID = model.FormatTicketID(day, seq)
		if x.r.provisionalTickets {
			created.TicketID = model.FormatProvisionalTicketID(day, seq)
		}
		if err := created.Validate(); err != nil {
			return err
		}

		var exists int
		err = q.QueryRowContext(ctx, "SELECT 1 FROM change_requests WHERE id = ?", created.ID.String()).Scan(&exists)
		if err == nil {
			return goerr.Wrap(model.ErrConflict, "change request already exists", goerr.V(model.ChangeRequestIDKey, created.ID))
		}
		if err != sql.ErrNoRows {
			return goerr.Wrap(err, "failed to check change request")
		}
		return putChangeRequest(ctx, q, created)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (x *changeRequestRepository) Get(ctx context.Context, id types.ChangeRequestID) (*model.ChangeRequest, error) {
	return getChangeRequest(ctx, x.r.db, id)
}

func (x *changeRequestRepository) GetByTicket(ctx context.Context, ticketID model.TicketID) (*model.ChangeRequest, error) {
	cr, err := scanChangeRequest(x.r.db.QueryRowContext(ctx, selectChangeRequest+" WHERE ticket_id = ?", ticketID.String()))
	if err == sql.ErrNoRows {
		return nil, goerr.Wrap(model.ErrNotFound, "change request not found", goerr.V(model.TicketIDKey, ticketID))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get change request", goerr.V(model.TicketIDKey, ticketID))
	}
	return cr, nil
}

func (x *changeRequestRepository) List(ctx context.Context, opts ...interfaces.ListChangeRequestOption) ([]*model.ChangeRequest, error) {
	cfg := interfaces.BuildListChangeRequestConfig(opts...)

	var (
		where []string
		args  []any
	)
	if s := cfg.Status(); s != nil {
		where = append(where, "status = ?")
		args = append(args, s.String())
	}
	if u := cfg.SubmittedBy(); u != nil {
		where = append(where, "submitted_by = ?")
		args = append(args, u.String())
	}
	if u := cfg.Assignee(); u != nil {
		where = append(where, "assigned_technician_id = ?")
		args = append(args, u.String())
	}

	query := selectChangeRequest
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	return queryChangeRequests(ctx, x.r.db, query, args...)
}

func queryChangeRequests(ctx context.Context, q querier, query string, args ...any) ([]*model.ChangeRequest, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query change requests")
	}
	defer func() { _ = rows.Close() }()

	result := []*model.ChangeRequest{}
	for rows.Next() {
		cr, err := scanChangeRequest(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan change request")
		}
		result = append(result, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate change requests")
	}
	return result, nil
}

func (x *changeRequestRepository) Transition(ctx context.Context, id types.ChangeRequestID, fn interfaces.TransitionFunc) (*model.TransitionResult, error) {
	var result *model.TransitionResult
	err := x.r.runInTx(ctx, func(q querier) error {
		current, err := getChangeRequest(ctx, q, id)
		if err != nil {
			return err
		}
		assessment, err := findRiskAssessment(ctx, q, id)
		if err != nil {
			return err
		}

		res, err := fn(current.Clone(), assessment)
		if err != nil {
			return err
		}
		if res.ChangeRequest.ID != id || res.ChangeRequest.TicketID != current.TicketID {
			return goerr.Wrap(model.ErrValidation, "transition must not change identity", goerr.V(model.ChangeRequestIDKey, id))
		}
		if err := res.ChangeRequest.Validate(); err != nil {
			return err
		}

		if err := putChangeRequest(ctx, q, res.ChangeRequest); err != nil {
			return err
		}
		if res.History != nil {
			if err := insertHistory(ctx, q, res.History); err != nil {
				return err
			}
		}
		if res.Notification != nil {
			if err := putNotification(ctx, q, res.Notification); err != nil {
				return err
			}
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (x *changeRequestRepository) Delete(ctx context.Context, id types.ChangeRequestID) error {
	res, err := x.r.db.ExecContext(ctx, "DELETE FROM change_requests WHERE id = ?", id.String())
	if err != nil {
		return goerr.Wrap(err, "failed to delete change request", goerr.V(model.ChangeRequestIDKey, id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return goerr.Wrap(model.ErrNotFound, "change request not found", goerr.V(model.ChangeRequestIDKey, id))
	}
	return nil
}

const selectHistory = `SELECT id, change_request_id, sequence, approver_id, from_status, to_status, notes, created_at
	FROM approval_histories`

func insertHistory(ctx context.Context, q querier, h *model.ApprovalHistory) error {
	_, err := q.ExecContext(ctx, `INSERT INTO approval_histories
		(id, change_request_id, sequence, approver_id, from_status, to_status, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID.String(), h.ChangeRequestID.String(), h.Sequence, h.ApproverID.String(),
		h.FromStatus.String(), h.ToStatus.String(), h.Notes, toNanos(h.CreatedAt))
	if isUniqueViolation(err) {
		return goerr.Wrap(model.ErrConflict, "history entry already exists",
			goerr.V(model.ChangeRequestIDKey, h.ChangeRequestID), goerr.V("sequence", h.Sequence))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to insert history", goerr.V(model.ChangeRequestIDKey, h.ChangeRequestID))
	}
	return nil
}

func queryHistories(ctx context.Context, q querier, query string, args ...any) ([]*model.ApprovalHistory, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query histories")
	}
	defer func() { _ = rows.Close() }()

	result := []*model.ApprovalHistory{}
	for rows.Next() {
		var (
			h         model.ApprovalHistory
			createdAt int64
		)
		if err := rows.Scan(&h.ID, &h.ChangeRequestID, &h.Sequence, &h.ApproverID,
			&h.FromStatus, &h.ToStatus, &h.Notes, &createdAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan history")
		}
		h.CreatedAt = fromNanos(createdAt)
		result = append(result, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate histories")
	}
	return result, nil
}

type approvalHistoryRepository struct {
	r *Repository
}

func (x *approvalHistoryRepository) List(ctx context.Context, id types.ChangeRequestID) ([]*model.ApprovalHistory, error) {
	return queryHistories(ctx, x.r.db, selectHistory+" WHERE change_request_id = ? ORDER BY sequence", id.String())
}
