package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

type changeRequestRepository struct {
	m *Memory
}

func (r *changeRequestRepository) Create(ctx context.Context, cr *model.ChangeRequest) (*model.ChangeRequest, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if _, exists := r.m.changeRequests[cr.ID]; exists {
		return nil, goerr.Wrap(model.ErrConflict, "change request already exists", goerr.V(model.ChangeRequestIDKey, cr.ID))
	}

	day := model.TicketDay(cr.CreatedAt)
	seq := r.m.counters[day] + 1

	created := cr.Clone()
	created.TicketID = model.FormatTicketID(day, seq)
	if r.m.provisionalTickets {
		created.TicketID = model.FormatProvisionalTicketID(day, seq)
	}
	if err := created.Validate(); err != nil {
		return nil, err
	}

	r.m.counters[day] = seq
	r.m.changeRequests[created.ID] = created
	r.m.tickets[created.TicketID] = created.ID
	return created.Clone(), nil
}

func (r *changeRequestRepository) Get(ctx context.Context, id types.ChangeRequestID) (*model.ChangeRequest, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	cr, exists := r.m.changeRequests[id]
	if !exists {
		return nil, goerr.Wrap(model.ErrNotFound, "change request not found", goerr.V(model.ChangeRequestIDKey, id))
	}
	return cr.Clone(), nil
}

func (r *changeRequestRepository) GetByTicket(ctx context.Context, ticketID model.TicketID) (*model.ChangeRequest, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	id, exists := r.m.tickets[ticketID]
	if !exists {
		return nil, goerr.Wrap(model.ErrNotFound, "change request not found", goerr.V(model.TicketIDKey, ticketID))
	}
	return r.m.changeRequests[id].Clone(), nil
}

func (r *changeRequestRepository) List(ctx context.Context, opts ...interfaces.ListChangeRequestOption) ([]*model.ChangeRequest, error) {
	cfg := interfaces.BuildListChangeRequestConfig(opts...)

	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	result := make([]*model.ChangeRequest, 0, len(r.m.changeRequests))
	for _, cr := range r.m.changeRequests {
		if s := cfg.Status(); s != nil && cr.Status != *s {
			continue
		}
		if u := cfg.SubmittedBy(); u != nil && cr.SubmittedBy != *u {
			continue
		}
		if u := cfg.Assignee(); u != nil && cr.AssignedTechnicianID != *u {
			continue
		}
		result = append(result, cr.Clone())
	}

	slices.SortFunc(result, newestFirst)
	return result, nil
}

func newestFirst(a, b *model.ChangeRequest) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(string(b.ID), string(a.ID))
}

func (r *changeRequestRepository) Transition(ctx context.Context, id types.ChangeRequestID, fn interfaces.TransitionFunc) (*model.TransitionResult, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	current, exists := r.m.changeRequests[id]
	if !exists {
		return nil, goerr.Wrap(model.ErrNotFound, "change request not found", goerr.V(model.ChangeRequestIDKey, id))
	}

	var assessment *model.RiskAssessment
	if ra, ok := r.m.assessments[id]; ok {
		assessment = copyAssessment(ra)
	}

	result, err := fn(current.Clone(), assessment)
	if err != nil {
		return nil, err
	}
	if result.ChangeRequest.ID != id || result.ChangeRequest.TicketID != current.TicketID {
		return nil, goerr.Wrap(model.ErrValidation, "transition must not change identity", goerr.V(model.ChangeRequestIDKey, id))
	}
	if err := result.ChangeRequest.Validate(); err != nil {
		return nil, err
	}

	r.m.changeRequests[id] = result.ChangeRequest.Clone()
	if result.History != nil {
		r.m.histories[id] = append(r.m.histories[id], copyHistory(result.History))
		r.m.historyIDs[result.History.ID] = struct{}{}
	}
	if result.Notification != nil {
		r.m.notifications[result.Notification.ID] = copyNotification(result.Notification)
	}
	return result, nil
}

func (r *changeRequestRepository) Delete(ctx context.Context, id types.ChangeRequestID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	cr, exists := r.m.changeRequests[id]
	if !exists {
		return goerr.Wrap(model.ErrNotFound, "change request not found", goerr.V(model.ChangeRequestIDKey, id))
	}

	for _, h := range r.m.histories[id] {
		delete(r.m.historyIDs, h.ID)
	}
	for nid, n := range r.m.notifications {
		if n.ChangeRequestID == id {
			delete(r.m.notifications, nid)
		}
	}
	delete(r.m.histories, id)
	delete(r.m.assessments, id)
	delete(r.m.tickets, cr.TicketID)
	delete(r.m.changeRequests, id)
	return nil
}

type approvalHistoryRepository struct {
	m *Memory
}

func (r *approvalHistoryRepository) List(ctx context.Context, id types.ChangeRequestID) ([]*model.ApprovalHistory, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	histories := r.m.histories[id]
	result := make([]*model.ApprovalHistory, 0, len(histories))
	for _, h := range histories {
		result = append(result, copyHistory(h))
	}
	slices.SortFunc(result, func(a, b *model.ApprovalHistory) int {
		return a.Sequence - b.Sequence
	})
	return result, nil
}

type riskAssessmentRepository struct {
	m *Memory
}

func (r *riskAssessmentRepository) Put(ctx context.Context, ra *model.RiskAssessment) error {
	if err := ra.Validate(); err != nil {
		return err
	}

	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if _, exists := r.m.changeRequests[ra.ChangeRequestID]; !exists {
		return goerr.Wrap(model.ErrNotFound, "change request not found", goerr.V(model.ChangeRequestIDKey, ra.ChangeRequestID))
	}
	r.m.assessments[ra.ChangeRequestID] = copyAssessment(ra)
	return nil
}

func (r *riskAssessmentRepository) Get(ctx context.Context, id types.ChangeRequestID) (*model.RiskAssessment, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	ra, exists := r.m.assessments[id]
	if !exists {
		return nil, goerr.Wrap(model.ErrNotFound, "risk assessment not found", goerr.V(model.ChangeRequestIDKey, id))
	}
	return copyAssessment(ra), nil
}
