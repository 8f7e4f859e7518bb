package firestore

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type ticketIndex struct {
	ChangeRequestID types.ChangeRequestID
}

// historyDocID keys history by position so that one sequence can only be taken once
func historyDocID(id types.ChangeRequestID, seq int) string {
	return fmt.Sprintf("%s_%06d", id, seq)
}

func ticketCounterDocID(day string) string {
	return "ticket_" + day
}

type changeRequestRepository struct {
	f *Firestore
}

func (r *changeRequestRepository) Create(ctx context.Context, cr *model.ChangeRequest) (*model.ChangeRequest, error) {
	created := cr.Clone()
	day := model.TicketDay(created.CreatedAt)
	counterRef := r.f.collection(collCounters).Doc(ticketCounterDocID(day))
	crRef := r.f.collection(collChangeRequests).Doc(created.ID.String())

	err := r.f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var seq int64 = 1
		doc, err := tx.Get(counterRef)
		switch {
		case err == nil:
			v, err := doc.DataAt("value")
			if err != nil {
				return goerr.Wrap(err, "failed to get counter value")
			}
			current, ok := v.(int64)
			if !ok {
				return goerr.New("counter value is not of type int64", goerr.V("value", v))
			}
			seq = current + 1
		case isNotFound(err):
		default:
			return goerr.Wrap(err, "failed to get counter", goerr.V("day", day))
		}

		created.TicketID = model.FormatTicketID(day, seq)
		if err := created.Validate(); err != nil {
			return err
		}

		if err := tx.Set(counterRef, map[string]any{"value": seq}); err != nil {
			return goerr.Wrap(err, "failed to update counter")
		}
		if err := tx.Create(r.f.collection(collTickets).Doc(created.TicketID.String()), &ticketIndex{ChangeRequestID: created.ID}); err != nil {
			return goerr.Wrap(err, "failed to reserve ticket", goerr.V(model.TicketIDKey, created.TicketID))
		}
		return tx.Create(crRef, created)
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, goerr.Wrap(model.ErrConflict, "change request already exists", goerr.V(model.ChangeRequestIDKey, created.ID))
		}
		return nil, goerr.Wrap(err, "failed to create change request", goerr.V(model.ChangeRequestIDKey, created.ID))
	}
	return created, nil
}

func decodeChangeRequest(doc *firestore.DocumentSnapshot) (*model.ChangeRequest, error) {
	var cr model.ChangeRequest
	if err := doc.DataTo(&cr); err != nil {
		return nil, goerr.Wrap(err, "failed to decode change request", goerr.V("doc", doc.Ref.ID))
	}
	return &cr, nil
}

func (r *changeRequestRepository) Get(ctx context.Context, id types.ChangeRequestID) (*model.ChangeRequest, error) {
	doc, err := r.f.collection(collChangeRequests).Doc(id.String()).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(model.ErrNotFound, "change request not found", goerr.V(model.ChangeRequestIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to get change request", goerr.V(model.ChangeRequestIDKey, id))
	}
	return decodeChangeRequest(doc)
}

func (r *changeRequestRepository) GetByTicket(ctx context.Context, ticketID model.TicketID) (*model.ChangeRequest, error) {
	doc, err := r.f.collection(collTickets).Doc(ticketID.String()).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(model.ErrNotFound, "change request not found", goerr.V(model.TicketIDKey, ticketID))
		}
		return nil, goerr.Wrap(err, "failed to get ticket", goerr.V(model.TicketIDKey, ticketID))
	}

	var idx ticketIndex
	if err := doc.DataTo(&idx); err != nil {
		return nil, goerr.Wrap(err, "failed to decode ticket", goerr.V(model.TicketIDKey, ticketID))
	}
	return r.Get(ctx, idx.ChangeRequestID)
}

func (r *changeRequestRepository) List(ctx context.Context, opts ...interfaces.ListChangeRequestOption) ([]*model.ChangeRequest, error) {
	cfg := interfaces.BuildListChangeRequestConfig(opts...)

	query := r.f.collection(collChangeRequests).Query
	if s := cfg.Status(); s != nil {
		query = query.Where("Status", "==", *s)
	}
	if u := cfg.SubmittedBy(); u != nil {
		query = query.Where("SubmittedBy", "==", *u)
	}
	if u := cfg.Assignee(); u != nil {
		query = query.Where("AssignedTechnicianID", "==", *u)
	}

	result, err := collectChangeRequests(query.Documents(ctx))
	if err != nil {
		return nil, err
	}

	// Sorted here rather than in the query to avoid one composite index per filter combination
	slices.SortFunc(result, func(a, b *model.ChangeRequest) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(b.ID), string(a.ID))
	})
	return result, nil
}

func collectChangeRequests(iter *firestore.DocumentIterator) ([]*model.ChangeRequest, error) {
	defer iter.Stop()

	result := []*model.ChangeRequest{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate change requests")
		}
		cr, err := decodeChangeRequest(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, cr)
	}
	return result, nil
}

func (r *changeRequestRepository) Transition(ctx context.Context, id types.ChangeRequestID, fn interfaces.TransitionFunc) (*model.TransitionResult, error) {
	crRef := r.f.collection(collChangeRequests).Doc(id.String())
	riskRef := r.f.collection(collRiskAssessments).Doc(id.String())

	var result *model.TransitionResult
	err := r.f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(crRef)
		if err != nil {
			if isNotFound(err) {
				return goerr.Wrap(model.ErrNotFound, "change request not found", goerr.V(model.ChangeRequestIDKey, id))
			}
			return goerr.Wrap(err, "failed to get change request", goerr.V(model.ChangeRequestIDKey, id))
		}
		current, err := decodeChangeRequest(doc)
		if err != nil {
			return err
		}

		var assessment *model.RiskAssessment
		riskDoc, err := tx.Get(riskRef)
		switch {
		case err == nil:
			assessment = &model.RiskAssessment{}
			if err := riskDoc.DataTo(assessment); err != nil {
				return goerr.Wrap(err, "failed to decode risk assessment")
			}
		case isNotFound(err):
		default:
			return goerr.Wrap(err, "failed to get risk assessment", goerr.V(model.ChangeRequestIDKey, id))
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

		if err := tx.Set(crRef, res.ChangeRequest); err != nil {
			return goerr.Wrap(err, "failed to update change request")
		}
		if h := res.History; h != nil {
			if err := tx.Create(r.f.collection(collHistories).Doc(historyDocID(id, h.Sequence)), h); err != nil {
				return goerr.Wrap(err, "failed to create history")
			}
		}
		if n := res.Notification; n != nil {
			if err := tx.Set(r.f.collection(collNotifications).Doc(n.ID.String()), n); err != nil {
				return goerr.Wrap(err, "failed to create notification")
			}
		}
		result = res
		return nil
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, goerr.Wrap(model.ErrConflict, "history entry already exists", goerr.V(model.ChangeRequestIDKey, id))
		}
		return nil, err
	}
	return result, nil
}

func (r *changeRequestRepository) Delete(ctx context.Context, id types.ChangeRequestID) error {
	crRef := r.f.collection(collChangeRequests).Doc(id.String())

	return r.f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(crRef)
		if err != nil {
			if isNotFound(err) {
				return goerr.Wrap(model.ErrNotFound, "change request not found", goerr.V(model.ChangeRequestIDKey, id))
			}
			return goerr.Wrap(err, "failed to get change request", goerr.V(model.ChangeRequestIDKey, id))
		}
		cr, err := decodeChangeRequest(doc)
		if err != nil {
			return err
		}

		histories, err := tx.Documents(r.f.collection(collHistories).Where("ChangeRequestID", "==", id)).GetAll()
		if err != nil {
			return goerr.Wrap(err, "failed to list histories", goerr.V(model.ChangeRequestIDKey, id))
		}
		notifications, err := tx.Documents(r.f.collection(collNotifications).Where("ChangeRequestID", "==", id)).GetAll()
		if err != nil {
			return goerr.Wrap(err, "failed to list notifications", goerr.V(model.ChangeRequestIDKey, id))
		}

		refs := []*firestore.DocumentRef{
			crRef,
			r.f.collection(collRiskAssessments).Doc(id.String()),
			r.f.collection(collTickets).Doc(cr.TicketID.String()),
		}
		for _, d := range histories {
			refs = append(refs, d.Ref)
		}
		for _, d := range notifications {
			refs = append(refs, d.Ref)
		}
		for _, ref := range refs {
			if err := tx.Delete(ref); err != nil {
				return goerr.Wrap(err, "failed to delete document", goerr.V("path", ref.Path))
			}
		}
		return nil
	})
}

type approvalHistoryRepository struct {
	f *Firestore
}

func (r *approvalHistoryRepository) List(ctx context.Context, id types.ChangeRequestID) ([]*model.ApprovalHistory, error) {
	iter := r.f.collection(collHistories).Where("ChangeRequestID", "==", id).Documents(ctx)
	result, err := collectHistories(iter)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(result, func(a, b *model.ApprovalHistory) int {
		return a.Sequence - b.Sequence
	})
	return result, nil
}

func collectHistories(iter *firestore.DocumentIterator) ([]*model.ApprovalHistory, error) {
	defer iter.Stop()

	result := []*model.ApprovalHistory{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate histories")
		}
		var h model.ApprovalHistory
		if err := doc.DataTo(&h); err != nil {
			return nil, goerr.Wrap(err, "failed to decode history", goerr.V("doc", doc.Ref.ID))
		}
		result = append(result, &h)
	}
	return result, nil
}
