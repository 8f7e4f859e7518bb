package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/repository/merge"
	"google.golang.org/api/iterator"
)

type syncRepository struct {
	f *Firestore
}

func (r *syncRepository) Export(ctx context.Context, since time.Time, scope interfaces.SyncScope) (*model.SyncBatch, error) {
	batch := &model.SyncBatch{}

	var owned map[types.ChangeRequestID]bool
	if scope.SubmittedBy != "" {
		all, err := collectChangeRequests(r.f.collection(collChangeRequests).
			Where("SubmittedBy", "==", scope.SubmittedBy).Documents(ctx))
		if err != nil {
			return nil, err
		}
		owned = make(map[types.ChangeRequestID]bool, len(all))
		for _, cr := range all {
			owned[cr.ID] = true
			if cr.UpdatedAt.After(since) {
				batch.ChangeRequests = append(batch.ChangeRequests, cr)
			}
		}
	} else {
		updated, err := collectChangeRequests(r.f.collection(collChangeRequests).
			Where("UpdatedAt", ">", since).Documents(ctx))
		if err != nil {
			return nil, err
		}
		batch.ChangeRequests = updated
	}
	inScope := func(id types.ChangeRequestID) bool {
		return owned == nil || owned[id]
	}

	histories, err := collectHistories(r.f.collection(collHistories).Where("CreatedAt", ">", since).Documents(ctx))
	if err != nil {
		return nil, err
	}
	for _, h := range histories {
		if inScope(h.ChangeRequestID) {
			batch.Histories = append(batch.Histories, h)
		}
	}

	iter := r.f.collection(collRiskAssessments).Where("UpdatedAt", ">", since).Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate risk assessments")
		}
		var ra model.RiskAssessment
		if err := doc.DataTo(&ra); err != nil {
			return nil, goerr.Wrap(err, "failed to decode risk assessment", goerr.V("doc", doc.Ref.ID))
		}
		if inScope(ra.ChangeRequestID) {
			batch.RiskAssessments = append(batch.RiskAssessments, &ra)
		}
	}

	query := r.f.collection(collNotifications).Where("UpdatedAt", ">", since)
	if scope.RecipientID != "" {
		query = query.Where("RecipientID", "==", scope.RecipientID)
	}
	batch.Notifications, err = collectNotifications(query.Documents(ctx))
	if err != nil {
		return nil, err
	}

	return batch, nil
}

// Import applies the batch one change request at a time, each in its own
// transaction, to stay within the per-transaction write limit.
func (r *syncRepository) Import(ctx context.Context, batch *model.SyncBatch) (*model.ImportResult, error) {
	result := &model.ImportResult{}
	for _, group := range merge.GroupByChangeRequest(batch) {
		var groupResult *model.ImportResult
		err := r.f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			store := newStagingStore(r.f, tx)
			res, err := merge.Apply(ctx, store, group)
			if err != nil {
				return err
			}
			if err := store.flush(); err != nil {
				return err
			}
			groupResult = res
			return nil
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to import sync batch")
		}
		merge.Combine(result, groupResult)
	}
	return result, nil
}

// stagingStore implements merge.Store on a Firestore transaction. Firestore
// requires every read before the first write, so writes are buffered and
// replayed by flush; reads see buffered writes first.
type stagingStore struct {
	f  *Firestore
	tx *firestore.Transaction

	changeRequests map[types.ChangeRequestID]*model.ChangeRequest
	tickets        map[model.TicketID]types.ChangeRequestID
	counters       map[string]int64
	released       []model.TicketID
	histories      map[string]*model.ApprovalHistory
	assessments    map[types.ChangeRequestID]*model.RiskAssessment
	notifications  map[types.NotificationID]*model.Notification
}

func newStagingStore(f *Firestore, tx *firestore.Transaction) *stagingStore {
	return &stagingStore{
		f:              f,
		tx:             tx,
		changeRequests: make(map[types.ChangeRequestID]*model.ChangeRequest),
		tickets:        make(map[model.TicketID]types.ChangeRequestID),
		counters:       make(map[string]int64),
		histories:      make(map[string]*model.ApprovalHistory),
		assessments:    make(map[types.ChangeRequestID]*model.RiskAssessment),
		notifications:  make(map[types.NotificationID]*model.Notification),
	}
}

// get reads ref into v and reports whether the document exists
func (s *stagingStore) get(ref *firestore.DocumentRef, v any) (bool, error) {
	doc, err := s.tx.Get(ref)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, goerr.Wrap(err, "failed to read document", goerr.V("path", ref.Path))
	}
	if err := doc.DataTo(v); err != nil {
		return false, goerr.Wrap(err, "failed to decode document", goerr.V("path", ref.Path))
	}
	return true, nil
}

func (s *stagingStore) GetChangeRequest(ctx context.Context, id types.ChangeRequestID) (*model.ChangeRequest, error) {
	if cr, ok := s.changeRequests[id]; ok {
		return cr.Clone(), nil
	}
	var cr model.ChangeRequest
	found, err := s.get(s.f.collection(collChangeRequests).Doc(id.String()), &cr)
	if err != nil || !found {
		return nil, err
	}
	return &cr, nil
}

func (s *stagingStore) LookupTicket(ctx context.Context, ticketID model.TicketID) (types.ChangeRequestID, bool, error) {
	if id, ok := s.tickets[ticketID]; ok {
		return id, true, nil
	}
	var idx ticketIndex
	found, err := s.get(s.f.collection(collTickets).Doc(ticketID.String()), &idx)
	if err != nil || !found {
		return "", false, err
	}
	return idx.ChangeRequestID, true, nil
}

// counter returns the per-day ticket counter, read once per transaction
func (s *stagingStore) counter(day string) (int64, error) {
	if current, ok := s.counters[day]; ok {
		return current, nil
	}
	var current int64
	doc, err := s.tx.Get(s.f.collection(collCounters).Doc(ticketCounterDocID(day)))
	switch {
	case err == nil:
		if v, err := doc.DataAt("value"); err == nil {
			current, _ = v.(int64)
		}
	case isNotFound(err):
	default:
		return 0, goerr.Wrap(err, "failed to get counter", goerr.V("day", day))
	}
	s.counters[day] = current
	return current, nil
}

func (s *stagingStore) AllocateTicket(ctx context.Context, day string) (model.TicketID, error) {
	current, err := s.counter(day)
	if err != nil {
		return "", err
	}
	s.counters[day] = current + 1
	return model.FormatTicketID(day, current+1), nil
}

func (s *stagingStore) PutChangeRequest(ctx context.Context, cr *model.ChangeRequest, previous *model.ChangeRequest) error {
	if previous == nil || previous.TicketID != cr.TicketID {
		day, seq, err := model.ParseTicketID(cr.TicketID.String())
		if err != nil {
			return err
		}
		current, err := s.counter(day)
		if err != nil {
			return err
		}
		s.counters[day] = max(current, seq)
		s.tickets[cr.TicketID] = cr.ID
		if previous != nil {
			s.released = append(s.released, previous.TicketID)
		}
	}
	s.changeRequests[cr.ID] = cr.Clone()
	return nil
}

func (s *stagingStore) HasHistory(ctx context.Context, h *model.ApprovalHistory) (bool, error) {
	key := historyDocID(h.ChangeRequestID, h.Sequence)
	if _, ok := s.histories[key]; ok {
		return true, nil
	}
	var existing model.ApprovalHistory
	return s.get(s.f.collection(collHistories).Doc(key), &existing)
}

func (s *stagingStore) PutHistory(ctx context.Context, h *model.ApprovalHistory) error {
	c := *h
	s.histories[historyDocID(h.ChangeRequestID, h.Sequence)] = &c
	return nil
}

func (s *stagingStore) GetRiskAssessment(ctx context.Context, id types.ChangeRequestID) (*model.RiskAssessment, error) {
	if ra, ok := s.assessments[id]; ok {
		c := *ra
		return &c, nil
	}
	var ra model.RiskAssessment
	found, err := s.get(s.f.collection(collRiskAssessments).Doc(id.String()), &ra)
	if err != nil || !found {
		return nil, err
	}
	return &ra, nil
}

func (s *stagingStore) PutRiskAssessment(ctx context.Context, ra *model.RiskAssessment) error {
	c := *ra
	s.assessments[ra.ChangeRequestID] = &c
	return nil
}

func (s *stagingStore) GetNotification(ctx context.Context, id types.NotificationID) (*model.Notification, error) {
	if n, ok := s.notifications[id]; ok {
		c := *n
		return &c, nil
	}
	var n model.Notification
	found, err := s.get(s.f.collection(collNotifications).Doc(id.String()), &n)
	if err != nil || !found {
		return nil, err
	}
	return &n, nil
}

func (s *stagingStore) PutNotification(ctx context.Context, n *model.Notification) error {
	c := *n
	s.notifications[n.ID] = &c
	return nil
}

func (s *stagingStore) flush() error {
	for day, seq := range s.counters {
		if err := s.tx.Set(s.f.collection(collCounters).Doc(ticketCounterDocID(day)), map[string]any{"value": seq}); err != nil {
			return goerr.Wrap(err, "failed to write counter", goerr.V("day", day))
		}
	}
	for ticketID, id := range s.tickets {
		if err := s.tx.Set(s.f.collection(collTickets).Doc(ticketID.String()), &ticketIndex{ChangeRequestID: id}); err != nil {
			return goerr.Wrap(err, "failed to write ticket", goerr.V(model.TicketIDKey, ticketID))
		}
	}
	for _, ticketID := range s.released {
		if err := s.tx.Delete(s.f.collection(collTickets).Doc(ticketID.String())); err != nil {
			return goerr.Wrap(err, "failed to release ticket", goerr.V(model.TicketIDKey, ticketID))
		}
	}
	for id, cr := range s.changeRequests {
		if err := s.tx.Set(s.f.collection(collChangeRequests).Doc(id.String()), cr); err != nil {
			return goerr.Wrap(err, "failed to write change request", goerr.V(model.ChangeRequestIDKey, id))
		}
	}
	for key, h := range s.histories {
		if err := s.tx.Create(s.f.collection(collHistories).Doc(key), h); err != nil {
			return goerr.Wrap(err, "failed to write history", goerr.V("key", key))
		}
	}
	for id, ra := range s.assessments {
		if err := s.tx.Set(s.f.collection(collRiskAssessments).Doc(id.String()), ra); err != nil {
			return goerr.Wrap(err, "failed to write risk assessment", goerr.V(model.ChangeRequestIDKey, id))
		}
	}
	for id, n := range s.notifications {
		if err := s.tx.Set(s.f.collection(collNotifications).Doc(id.String()), n); err != nil {
			return goerr.Wrap(err, "failed to write notification", goerr.V(model.NotificationIDKey, id))
		}
	}
	return nil
}
