package usecase

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/model/auth"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/utils/async"
	"github.com/secmon-lab/changegate/pkg/utils/errutil"
	"github.com/secmon-lab/changegate/pkg/utils/logging"
	"github.com/secmon-lab/changegate/pkg/utils/metrics"
)

type WorkflowUseCase struct {
	uc *UseCases
}

// Transition moves a change request to status `to` on behalf of actor. The
// status change, its history entry and the submitter notification are
// persisted in one repository transaction.
func (w *WorkflowUseCase) Transition(ctx context.Context, id types.ChangeRequestID, to types.ChangeStatus, actor auth.Actor, notes string) (*model.TransitionResult, error) {
	return w.transition(ctx, id, to, actor, notes, nil)
}

// Resubmit applies form edits and moves a request from REVISION back to
// SUBMITTED in the same transaction
func (w *WorkflowUseCase) Resubmit(ctx context.Context, id types.ChangeRequestID, actor auth.Actor, form ChangeRequestForm, notes string) (*model.TransitionResult, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	return w.transition(ctx, id, types.ChangeStatusSubmitted, actor, notes, func(cr *model.ChangeRequest) error {
		if cr.Status != types.ChangeStatusRevision {
			return goerr.Wrap(model.ErrInvalidTransition, "only requests in revision can be resubmitted",
				goerr.V(model.ChangeRequestIDKey, cr.ID), goerr.V(model.FromStatusKey, cr.Status))
		}
		form.apply(cr)
		return nil
	})
}

func (w *WorkflowUseCase) transition(ctx context.Context, id types.ChangeRequestID, to types.ChangeStatus, actor auth.Actor, notes string, edit func(*model.ChangeRequest) error) (*model.TransitionResult, error) {
	if err := actor.Validate(); err != nil {
		return nil, goerr.Wrap(model.ErrUnauthorized, "invalid actor", goerr.V(model.UserIDKey, actor.ID))
	}
	if !to.IsValid() {
		return nil, goerr.Wrap(model.ErrValidation, "invalid target status", goerr.V(model.ToStatusKey, to))
	}

	now := w.uc.clock()
	var from types.ChangeStatus

	result, err := w.uc.repo.ChangeRequest().Transition(ctx, id, func(current *model.ChangeRequest, assessment *model.RiskAssessment) (*model.TransitionResult, error) {
		from = current.Status

		if err := checkVisible(current, actor); err != nil {
			return nil, err
		}
		rule, err := w.uc.workflow.Authorize(current, to, actor)
		if err != nil {
			return nil, err
		}
		if rule.RequiresRiskAssessment && assessment == nil {
			return nil, goerr.Wrap(model.ErrValidation, "risk assessment is required before this transition",
				goerr.V(model.ChangeRequestIDKey, current.ID),
				goerr.V(model.FromStatusKey, from),
				goerr.V(model.ToStatusKey, to))
		}

		next := current.Clone()
		if edit != nil {
			if err := edit(next); err != nil {
				return nil, err
			}
		}
		if actor.Role == types.RoleTechnician && next.AssignedTechnicianID == "" {
			next.AssignedTechnicianID = actor.ID
		}
		next.Status = to
		next.Revision++
		next.UpdatedAt = now
		if next.UpdatedAt.Before(current.UpdatedAt) {
			next.UpdatedAt = current.UpdatedAt
		}

		res := &model.TransitionResult{
			ChangeRequest: next,
			History: &model.ApprovalHistory{
				ID:              types.NewHistoryID(),
				ChangeRequestID: next.ID,
				Sequence:        next.Revision,
				ApproverID:      actor.ID,
				FromStatus:      from,
				ToStatus:        to,
				Notes:           notes,
				CreatedAt:       next.UpdatedAt,
			},
		}
		if rule.Notify && actor.ID != current.SubmittedBy {
			res.Notification = model.NewStatusNotification(next, from, to, notes, next.UpdatedAt)
		}
		return res, nil
	})
	if err != nil {
		metrics.RecordTransition(from.String(), to.String(), transitionResult(err))
		return nil, goerr.Wrap(err, "transition failed",
			goerr.V(model.ChangeRequestIDKey, id),
			goerr.V(model.ToStatusKey, to),
			goerr.V(model.UserIDKey, actor.ID))
	}

	metrics.RecordTransition(from.String(), to.String(), metrics.ResultOK)
	logging.From(ctx).Info("change request transitioned",
		"id", id,
		"ticket_id", result.ChangeRequest.TicketID,
		"from", from,
		"to", to,
		"actor", actor.ID,
	)

	w.fanOut(ctx, result)
	return result, nil
}

// fanOut delivers side effects of a committed transition. Failures are only logged.
func (w *WorkflowUseCase) fanOut(ctx context.Context, result *model.TransitionResult) {
	if n := result.Notification; n != nil {
		metrics.RecordNotificationCreated()
		if w.uc.broker != nil {
			if err := w.uc.broker.Publish(ctx, n); err != nil {
				_ = errutil.Handle(ctx, err, "failed to publish notification")
			}
		}
	}

	if w.uc.notifier != nil {
		cr := result.ChangeRequest.Clone()
		h := *result.History
		async.Dispatch(ctx, func(ctx context.Context) error {
			return w.uc.notifier.NotifyTransition(ctx, cr, &h)
		})
	}
}

func transitionResult(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidTransition):
		return metrics.ResultInvalid
	case errors.Is(err, model.ErrUnauthorized):
		return metrics.ResultUnauthorized
	case errors.Is(err, model.ErrNotFound):
		return metrics.ResultNotFound
	default:
		return metrics.ResultError
	}
}
