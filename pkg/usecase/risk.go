package usecase

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/model/auth"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/utils/logging"
)

type RiskUseCase struct {
	uc *UseCases
}

// Assess scores a change request and replaces any previous assessment
func (r *RiskUseCase) Assess(ctx context.Context, id types.ChangeRequestID, actor auth.Actor, impact, likelihood, exposure int) (*model.RiskAssessment, error) {
	if !actor.Role.IsStaff() {
		return nil, goerr.Wrap(model.ErrUnauthorized, "only technicians may assess risk",
			goerr.V(model.UserIDKey, actor.ID), goerr.V(model.RoleKey, actor.Role))
	}

	score, err := model.AssessRisk(impact, likelihood, exposure)
	if err != nil {
		return nil, err
	}

	cr, err := r.uc.repo.ChangeRequest().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cr.Status.IsTerminal() {
		return nil, goerr.Wrap(model.ErrInvalidTransition, "change request is already finished",
			goerr.V(model.ChangeRequestIDKey, id), goerr.V("status", cr.Status))
	}
	if actor.Role == types.RoleTechnician && cr.AssignedTechnicianID != "" && cr.AssignedTechnicianID != actor.ID {
		return nil, goerr.Wrap(model.ErrUnauthorized, "change request is assigned to another technician",
			goerr.V(model.ChangeRequestIDKey, id),
			goerr.V(AssessorKey, actor.ID),
			goerr.V(AssigneeKey, cr.AssignedTechnicianID))
	}

	now := r.uc.clock()
	ra := &model.RiskAssessment{
		ChangeRequestID: id,
		TechnicianID:    actor.ID,
		Impact:          impact,
		Likelihood:      likelihood,
		Exposure:        exposure,
		Score:           score.Score,
		Level:           score.Level,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if prev, err := r.uc.repo.RiskAssessment().Get(ctx, id); err == nil {
		ra.CreatedAt = prev.CreatedAt
	}

	if err := r.uc.repo.RiskAssessment().Put(ctx, ra); err != nil {
		return nil, goerr.Wrap(err, "failed to save risk assessment", goerr.V(model.ChangeRequestIDKey, id))
	}

	logging.From(ctx).Info("risk assessed",
		"id", id,
		"score", ra.Score,
		"level", ra.Level,
		"technician", actor.ID,
	)
	return ra, nil
}

// Get returns the current assessment of a change request visible to actor
func (r *RiskUseCase) Get(ctx context.Context, actor auth.Actor, id types.ChangeRequestID) (*model.RiskAssessment, error) {
	if _, err := r.uc.ChangeRequest.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return r.uc.repo.RiskAssessment().Get(ctx, id)
}
