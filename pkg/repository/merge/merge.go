// Package merge reconciles a sync batch into a store. Backends provide the
// record primitives inside their own transaction; the merge rules live here
// once.
package merge

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

// Store is the record level view of a backend transaction. Getters return
// nil without error when the record does not exist.
type Store interface {
	GetChangeRequest(ctx context.Context, id types.ChangeRequestID) (*model.ChangeRequest, error)
	LookupTicket(ctx context.Context, ticketID model.TicketID) (types.ChangeRequestID, bool, error)
	// AllocateTicket takes the next number of the per-day ticket counter
	AllocateTicket(ctx context.Context, day string) (model.TicketID, error)
	// PutChangeRequest upserts cr; previous is the stored record or nil. When
	// the ticket is new the store indexes it, drops the previous one and raises
	// the per-day counter to at least the ticket's sequence.
	PutChangeRequest(ctx context.Context, cr *model.ChangeRequest, previous *model.ChangeRequest) error

	// HasHistory reports whether an entry with the same ID, or another entry at
	// the same sequence of the same change request, is stored
	HasHistory(ctx context.Context, h *model.ApprovalHistory) (bool, error)
	PutHistory(ctx context.Context, h *model.ApprovalHistory) error

	GetRiskAssessment(ctx context.Context, id types.ChangeRequestID) (*model.RiskAssessment, error)
	PutRiskAssessment(ctx context.Context, ra *model.RiskAssessment) error

	GetNotification(ctx context.Context, id types.NotificationID) (*model.Notification, error)
	PutNotification(ctx context.Context, n *model.Notification) error
}

// Apply merges batch into s and reports what happened to every record.
// Records failing validation and ticket collisions become conflicts; their
// dependent records are skipped. A new change request carrying a provisional
// ticket gets the next number of the store's counter, reported in Assigned.
func Apply(ctx context.Context, s Store, batch *model.SyncBatch) (*model.ImportResult, error) {
	result := &model.ImportResult{}
	if batch == nil {
		return result, nil
	}
	rejected := make(map[types.ChangeRequestID]bool)

	for _, cr := range batch.ChangeRequests {
		applied, assigned, reason, err := applyChangeRequest(ctx, s, cr)
		if err != nil {
			return nil, err
		}
		if assigned != "" {
			result.Assigned = append(result.Assigned, model.TicketAssignment{
				ChangeRequestID: cr.ID,
				Provisional:     cr.TicketID,
				TicketID:        assigned,
			})
		}
		switch {
		case reason != "":
			rejected[cr.ID] = true
			result.Conflicts = append(result.Conflicts, model.ImportConflict{
				ChangeRequestID: cr.ID,
				TicketID:        cr.TicketID,
				Reason:          reason,
			})
		case applied:
			result.Applied++
		default:
			result.Skipped++
		}
	}

	lookup := func(id types.ChangeRequestID) (*model.ChangeRequest, error) {
		if rejected[id] {
			return nil, nil
		}
		return s.GetChangeRequest(ctx, id)
	}
	known := func(id types.ChangeRequestID) (bool, error) {
		cr, err := lookup(id)
		return cr != nil, err
	}

	for _, h := range batch.Histories {
		ok, err := known(h.ChangeRequestID)
		if err != nil {
			return nil, err
		}
		if !ok || h.ID.Validate() != nil {
			result.Skipped++
			continue
		}
		exists, err := s.HasHistory(ctx, h)
		if err != nil {
			return nil, err
		}
		if exists {
			result.Skipped++
			continue
		}
		if err := s.PutHistory(ctx, h); err != nil {
			return nil, err
		}
		result.Applied++
	}

	for _, ra := range batch.RiskAssessments {
		ok, err := known(ra.ChangeRequestID)
		if err != nil {
			return nil, err
		}
		if !ok || ra.Validate() != nil {
			result.Skipped++
			continue
		}
		existing, err := s.GetRiskAssessment(ctx, ra.ChangeRequestID)
		if err != nil {
			return nil, err
		}
		if existing != nil && !ra.UpdatedAt.After(existing.UpdatedAt) {
			result.Skipped++
			continue
		}
		if err := s.PutRiskAssessment(ctx, ra); err != nil {
			return nil, err
		}
		result.Applied++
	}

	for _, n := range batch.Notifications {
		cr, err := lookup(n.ChangeRequestID)
		if err != nil {
			return nil, err
		}
		if cr == nil || n.ID.Validate() != nil {
			result.Skipped++
			continue
		}
		incoming := n
		if n.TicketID != cr.TicketID && !cr.TicketID.IsProvisional() {
			incoming = n.WithTicket(cr.TicketID)
		}
		existing, err := s.GetNotification(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		merged, changed := mergeNotification(existing, incoming)
		if !changed {
			result.Skipped++
			continue
		}
		if err := s.PutNotification(ctx, merged); err != nil {
			return nil, err
		}
		result.Applied++
	}

	return result, nil
}

// applyChangeRequest merges cr by last-write-wins. assigned is the server
// ticket of a provisional cr.
func applyChangeRequest(ctx context.Context, s Store, cr *model.ChangeRequest) (applied bool, assigned model.TicketID, reason string, err error) {
	if verr := cr.Validate(); verr != nil {
		return false, "", verr.Error(), nil
	}

	existing, err := s.GetChangeRequest(ctx, cr.ID)
	if err != nil {
		return false, "", "", goerr.Wrap(err, "failed to read change request", goerr.V(model.ChangeRequestIDKey, cr.ID))
	}

	if existing == nil {
		incoming := cr
		if cr.TicketID.IsProvisional() {
			day, _, _ := model.ParseTicketID(cr.TicketID.String())
			ticketID, err := s.AllocateTicket(ctx, day)
			if err != nil {
				return false, "", "", goerr.Wrap(err, "failed to allocate ticket", goerr.V(model.ChangeRequestIDKey, cr.ID))
			}
			incoming = cr.Clone()
			incoming.TicketID = ticketID
			assigned = ticketID
		} else {
			owner, taken, err := s.LookupTicket(ctx, cr.TicketID)
			if err != nil {
				return false, "", "", goerr.Wrap(err, "failed to look up ticket", goerr.V(model.TicketIDKey, cr.TicketID))
			}
			if taken && owner != cr.ID {
				return false, "", model.ErrConflict.Error() + ": ticket ID already used by " + owner.String(), nil
			}
		}
		if err := s.PutChangeRequest(ctx, incoming, nil); err != nil {
			return false, "", "", err
		}
		return true, assigned, "", nil
	}

	incoming := cr
	adoptTicket := false
	switch {
	case existing.TicketID == cr.TicketID:
	case cr.TicketID.IsProvisional() && !existing.TicketID.IsProvisional():
		// pushed again before the device learned its number
		incoming = cr.Clone()
		incoming.TicketID = existing.TicketID
		assigned = existing.TicketID
	case existing.TicketID.IsProvisional() && !cr.TicketID.IsProvisional():
		// the server number replaces the local one regardless of UpdatedAt
		adoptTicket = true
	default:
		return false, "", model.ErrConflict.Error() + ": ticket ID differs from stored record", nil
	}

	if !incoming.NewerThan(existing) {
		if !adoptTicket {
			return false, assigned, "", nil
		}
		incoming = existing.Clone()
		incoming.TicketID = cr.TicketID
	}
	if err := s.PutChangeRequest(ctx, incoming, existing); err != nil {
		return false, "", "", err
	}
	return true, assigned, "", nil
}

// mergeNotification inserts missing notifications, ORs the read flag of
// existing ones and replaces a provisional ticket with the server one
func mergeNotification(existing, incoming *model.Notification) (*model.Notification, bool) {
	if existing == nil {
		c := *incoming
		return &c, true
	}
	merged := *existing
	changed := false
	if existing.TicketID.IsProvisional() && !incoming.TicketID.IsProvisional() {
		merged = *existing.WithTicket(incoming.TicketID)
		changed = true
	}
	if !existing.Read && incoming.Read {
		merged.Read = true
		if incoming.UpdatedAt.After(merged.UpdatedAt) {
			merged.UpdatedAt = incoming.UpdatedAt
		}
		changed = true
	}
	if !changed {
		return existing, false
	}
	return &merged, true
}

// GroupByChangeRequest splits batch into one batch per change request so that
// backends with bounded transactions can apply them one at a time. Records
// whose change request is not in the batch are grouped under their own ID.
func GroupByChangeRequest(batch *model.SyncBatch) []*model.SyncBatch {
	if batch == nil {
		return nil
	}
	groups := make(map[types.ChangeRequestID]*model.SyncBatch)
	var order []types.ChangeRequestID
	group := func(id types.ChangeRequestID) *model.SyncBatch {
		g, ok := groups[id]
		if !ok {
			g = &model.SyncBatch{Until: batch.Until}
			groups[id] = g
			order = append(order, id)
		}
		return g
	}

	for _, cr := range batch.ChangeRequests {
		g := group(cr.ID)
		g.ChangeRequests = append(g.ChangeRequests, cr)
	}
	for _, h := range batch.Histories {
		g := group(h.ChangeRequestID)
		g.Histories = append(g.Histories, h)
	}
	for _, ra := range batch.RiskAssessments {
		g := group(ra.ChangeRequestID)
		g.RiskAssessments = append(g.RiskAssessments, ra)
	}
	for _, n := range batch.Notifications {
		g := group(n.ChangeRequestID)
		g.Notifications = append(g.Notifications, n)
	}

	result := make([]*model.SyncBatch, 0, len(order))
	for _, id := range order {
		result = append(result, groups[id])
	}
	return result
}

// Combine adds the counts and conflicts of other into r
func Combine(r, other *model.ImportResult) {
	r.Applied += other.Applied
	r.Skipped += other.Skipped
	r.Conflicts = append(r.Conflicts, other.Conflicts...)
	r.Assigned = append(r.Assigned, other.Assigned...)
}
