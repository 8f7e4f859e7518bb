package memory

import (
	"context"
	"time"

	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/repository/merge"
)

type syncRepository struct {
	m *Memory
}

func (r *syncRepository) Export(ctx context.Context, since time.Time, scope interfaces.SyncScope) (*model.SyncBatch, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	batch := &model.SyncBatch{}
	inScope := func(id types.ChangeRequestID) bool {
		cr, ok := r.m.changeRequests[id]
		return ok && (scope.SubmittedBy == "" || cr.SubmittedBy == scope.SubmittedBy)
	}

	for id, cr := range r.m.changeRequests {
		if !inScope(id) {
			continue
		}
		if cr.UpdatedAt.After(since) {
			batch.ChangeRequests = append(batch.ChangeRequests, cr.Clone())
		}
		for _, h := range r.m.histories[id] {
			if h.CreatedAt.After(since) {
				batch.Histories = append(batch.Histories, copyHistory(h))
			}
		}
		if ra, ok := r.m.assessments[id]; ok && ra.UpdatedAt.After(since) {
			batch.RiskAssessments = append(batch.RiskAssessments, copyAssessment(ra))
		}
	}

	for _, n := range r.m.notifications {
		if scope.RecipientID != "" && n.RecipientID != scope.RecipientID {
			continue
		}
		if n.UpdatedAt.After(since) {
			batch.Notifications = append(batch.Notifications, copyNotification(n))
		}
	}

	return batch, nil
}

func (r *syncRepository) Import(ctx context.Context, batch *model.SyncBatch) (*model.ImportResult, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	return merge.Apply(ctx, &lockedStore{m: r.m}, batch)
}

// lockedStore implements merge.Store while the caller holds the write lock
type lockedStore struct {
	m *Memory
}

func (s *lockedStore) GetChangeRequest(ctx context.Context, id types.ChangeRequestID) (*model.ChangeRequest, error) {
	if cr, ok := s.m.changeRequests[id]; ok {
		return cr.Clone(), nil
	}
	return nil, nil
}

func (s *lockedStore) LookupTicket(ctx context.Context, ticketID model.TicketID) (types.ChangeRequestID, bool, error) {
	id, ok := s.m.tickets[ticketID]
	return id, ok, nil
}

func (s *lockedStore) AllocateTicket(ctx context.Context, day string) (model.TicketID, error) {
	s.m.counters[day]++
	return model.FormatTicketID(day, s.m.counters[day]), nil
}

func (s *lockedStore) PutChangeRequest(ctx context.Context, cr *model.ChangeRequest, previous *model.ChangeRequest) error {
	if previous == nil || previous.TicketID != cr.TicketID {
		day, seq, err := model.ParseTicketID(cr.TicketID.String())
		if err != nil {
			return err
		}
		if seq > s.m.counters[day] {
			s.m.counters[day] = seq
		}
		if previous != nil {
			delete(s.m.tickets, previous.TicketID)
		}
		s.m.tickets[cr.TicketID] = cr.ID
	}
	s.m.changeRequests[cr.ID] = cr.Clone()
	return nil
}

func (s *lockedStore) HasHistory(ctx context.Context, h *model.ApprovalHistory) (bool, error) {
	if _, ok := s.m.historyIDs[h.ID]; ok {
		return true, nil
	}
	for _, existing := range s.m.histories[h.ChangeRequestID] {
		if existing.Sequence == h.Sequence {
			return true, nil
		}
	}
	return false, nil
}

func (s *lockedStore) PutHistory(ctx context.Context, h *model.ApprovalHistory) error {
	s.m.histories[h.ChangeRequestID] = append(s.m.histories[h.ChangeRequestID], copyHistory(h))
	s.m.historyIDs[h.ID] = struct{}{}
	return nil
}

func (s *lockedStore) GetRiskAssessment(ctx context.Context, id types.ChangeRequestID) (*model.RiskAssessment, error) {
	if ra, ok := s.m.assessments[id]; ok {
		return copyAssessment(ra), nil
	}
	return nil, nil
}

func (s *lockedStore) PutRiskAssessment(ctx context.Context, ra *model.RiskAssessment) error {
	s.m.assessments[ra.ChangeRequestID] = copyAssessment(ra)
	return nil
}

func (s *lockedStore) GetNotification(ctx context.Context, id types.NotificationID) (*model.Notification, error) {
	if n, ok := s.m.notifications[id]; ok {
		return copyNotification(n), nil
	}
	return nil, nil
}

func (s *lockedStore) PutNotification(ctx context.Context, n *model.Notification) error {
	s.m.notifications[n.ID] = copyNotification(n)
	return nil
}
