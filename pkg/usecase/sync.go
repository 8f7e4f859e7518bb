package usecase

import (
	"context"
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/model/auth"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/utils/logging"
	"github.com/secmon-lab/changegate/pkg/utils/metrics"
)

// SyncUseCase is the server side of device sync
type SyncUseCase struct {
	uc *UseCases
}

// Export returns every record visible to actor that changed after since.
// Until of the batch is the cursor the device should send next time; it lags
// the clock by model.SyncOverlap so the next pull covers writes that were in
// flight during this one.
func (s *SyncUseCase) Export(ctx context.Context, actor auth.Actor, since time.Time) (*model.SyncBatch, error) {
	if err := actor.Validate(); err != nil {
		return nil, goerr.Wrap(model.ErrUnauthorized, "invalid actor", goerr.V(model.UserIDKey, actor.ID))
	}

	scope := interfaces.SyncScope{RecipientID: actor.ID}
	if actor.Role == types.RoleUser {
		scope.SubmittedBy = actor.ID
	}

	until := s.uc.clock().Add(-model.SyncOverlap)

	batch, err := s.uc.repo.Sync().Export(ctx, since, scope)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to export", goerr.V(model.UserIDKey, actor.ID), goerr.V("since", since))
	}
	batch.Until = until

	metrics.RecordSyncRecords("export", batch.Len())
	logging.From(ctx).Debug("sync export", "actor", actor.ID, "since", since, "records", batch.Len())
	return batch, nil
}

// Import reconciles a batch pushed by actor's device. Records actor may not
// write and change requests whose history is not a valid walk are reported
// as conflicts; the rest is merged.
func (s *SyncUseCase) Import(ctx context.Context, actor auth.Actor, batch *model.SyncBatch) (*model.ImportResult, error) {
	if err := actor.Validate(); err != nil {
		return nil, goerr.Wrap(model.ErrUnauthorized, "invalid actor", goerr.V(model.UserIDKey, actor.ID))
	}
	if batch == nil {
		return &model.ImportResult{}, nil
	}

	histories := make(map[types.ChangeRequestID][]*model.ApprovalHistory)
	for _, h := range batch.Histories {
		histories[h.ChangeRequestID] = append(histories[h.ChangeRequestID], h)
	}

	accepted := &model.SyncBatch{Until: batch.Until}
	dropped := &model.ImportResult{}
	keep := make(map[types.ChangeRequestID]bool)

	for _, cr := range batch.ChangeRequests {
		if reason, err := s.checkPushedChangeRequest(ctx, actor, cr, histories[cr.ID]); err != nil {
			return nil, err
		} else if reason != "" {
			dropped.Conflicts = append(dropped.Conflicts, model.ImportConflict{
				ChangeRequestID: cr.ID,
				TicketID:        cr.TicketID,
				Reason:          reason,
			})
			continue
		}
		keep[cr.ID] = true
		accepted.ChangeRequests = append(accepted.ChangeRequests, cr)
	}

	for _, h := range batch.Histories {
		if keep[h.ChangeRequestID] {
			accepted.Histories = append(accepted.Histories, h)
		} else {
			dropped.Skipped++
		}
	}
	for _, ra := range batch.RiskAssessments {
		if actor.Role.IsStaff() && (keep[ra.ChangeRequestID] || s.exists(ctx, ra.ChangeRequestID)) {
			accepted.RiskAssessments = append(accepted.RiskAssessments, ra)
		} else {
			dropped.Skipped++
		}
	}
	for _, n := range batch.Notifications {
		if n.RecipientID == actor.ID {
			accepted.Notifications = append(accepted.Notifications, n)
		} else {
			dropped.Skipped++
		}
	}

	result, err := s.uc.repo.Sync().Import(ctx, accepted)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to import", goerr.V(model.UserIDKey, actor.ID))
	}
	result.Skipped += dropped.Skipped
	result.Conflicts = append(dropped.Conflicts, result.Conflicts...)

	metrics.RecordSyncRecords("import", result.Applied)
	logging.From(ctx).Info("sync import",
		"actor", actor.ID,
		"records", batch.Len(),
		"applied", result.Applied,
		"skipped", result.Skipped,
		"conflicts", len(result.Conflicts),
		"assigned", len(result.Assigned),
	)
	return result, nil
}

// checkPushedChangeRequest returns a conflict reason, or "" when cr may be merged
func (s *SyncUseCase) checkPushedChangeRequest(ctx context.Context, actor auth.Actor, cr *model.ChangeRequest, pushed []*model.ApprovalHistory) (string, error) {
	if err := cr.Validate(); err != nil {
		return "invalid: " + err.Error(), nil
	}
	if actor.Role == types.RoleUser && cr.SubmittedBy != actor.ID {
		return "unauthorized: change request of another user", nil
	}

	existing, err := s.uc.repo.ChangeRequest().Get(ctx, cr.ID)
	switch {
	case err == nil:
		if existing.SubmittedBy != cr.SubmittedBy {
			return "conflict: submitter differs from server", nil
		}
	case isNotFound(err):
		existing = nil
	default:
		return "", goerr.Wrap(err, "failed to load change request", goerr.V(model.ChangeRequestIDKey, cr.ID))
	}

	var stored []*model.ApprovalHistory
	if existing != nil {
		stored, err = s.uc.repo.ApprovalHistory().List(ctx, cr.ID)
		if err != nil {
			return "", goerr.Wrap(err, "failed to load history", goerr.V(model.ChangeRequestIDKey, cr.ID))
		}
	}

	merged, reason := mergeHistories(stored, pushed)
	if reason != "" {
		return reason, nil
	}
	if _, err := s.uc.workflow.ValidateWalk(merged); err != nil {
		return "invalid history: " + err.Error(), nil
	}
	if len(merged) < cr.Revision {
		return "invalid history: missing entries", nil
	}
	end, _ := s.uc.workflow.ValidateWalk(merged[:cr.Revision])
	if end != cr.Status {
		return "invalid history: walk does not end at " + cr.Status.String(), nil
	}
	return "", nil
}

// mergeHistories unions stored and pushed entries by sequence. A pushed entry
// taking a slot already used by a different stored entry is a conflict.
func mergeHistories(stored, pushed []*model.ApprovalHistory) ([]*model.ApprovalHistory, string) {
	bySeq := make(map[int]*model.ApprovalHistory, len(stored)+len(pushed))
	for _, h := range stored {
		bySeq[h.Sequence] = h
	}
	for _, h := range pushed {
		if cur, ok := bySeq[h.Sequence]; ok {
			if cur.ID != h.ID {
				return nil, "conflict: history diverges from server"
			}
			continue
		}
		bySeq[h.Sequence] = h
	}

	merged := make([]*model.ApprovalHistory, 0, len(bySeq))
	for _, h := range bySeq {
		merged = append(merged, h)
	}
	slices.SortFunc(merged, func(a, b *model.ApprovalHistory) int {
		return a.Sequence - b.Sequence
	})
	return merged, ""
}

func (s *SyncUseCase) exists(ctx context.Context, id types.ChangeRequestID) bool {
	_, err := s.uc.repo.ChangeRequest().Get(ctx, id)
	return err == nil
}
