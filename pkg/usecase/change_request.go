package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/model/auth"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/utils/logging"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ChangeRequestForm is the user-editable part of a change request
type ChangeRequestForm struct {
	Classification     types.ChangeClass `json:"classification" validate:"required"`
	Title              string            `json:"title" validate:"required,max=200"`
	Justification      string            `json:"justification" validate:"required"`
	Purpose            string            `json:"purpose" validate:"required"`
	AffectedAssets     string            `json:"affected_assets" validate:"required"`
	ImplementationPlan string            `json:"implementation_plan" validate:"required"`
	RollbackPlan       string            `json:"rollback_plan" validate:"required"`
	ScheduledAt        *time.Time        `json:"scheduled_at" validate:"required"`
	PhotoURL           string            `json:"photo_url,omitempty" validate:"omitempty,url"`
	EstimatedCost      *float64          `json:"estimated_cost,omitempty" validate:"omitempty,gte=0"`
	EstimatedMinutes   *int              `json:"estimated_minutes,omitempty" validate:"omitempty,gte=0"`
}

// Validate checks required fields of the form
func (f *ChangeRequestForm) Validate() error {
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return goerr.Wrap(model.ErrValidation, "invalid change request form",
				goerr.V(FieldKey, verrs[0].Field()),
				goerr.V(ValidatorKey, verrs[0].Tag()))
		}
		return goerr.Wrap(model.ErrValidation, err.Error())
	}
	if !f.Classification.IsValid() {
		return goerr.Wrap(model.ErrValidation, "invalid classification", goerr.V("classification", f.Classification))
	}
	return nil
}

func (f *ChangeRequestForm) apply(cr *model.ChangeRequest) {
	cr.Classification = f.Classification
	cr.Title = f.Title
	cr.Justification = f.Justification
	cr.Purpose = f.Purpose
	cr.AffectedAssets = f.AffectedAssets
	cr.ImplementationPlan = f.ImplementationPlan
	cr.RollbackPlan = f.RollbackPlan
	cr.PhotoURL = f.PhotoURL
	cr.ScheduledAt = nil
	if f.ScheduledAt != nil {
		v := f.ScheduledAt.UTC()
		cr.ScheduledAt = &v
	}
	cr.EstimatedCost = nil
	if f.EstimatedCost != nil {
		v := *f.EstimatedCost
		cr.EstimatedCost = &v
	}
	cr.EstimatedMinutes = nil
	if f.EstimatedMinutes != nil {
		v := *f.EstimatedMinutes
		cr.EstimatedMinutes = &v
	}
}

// ChangeRequestFilter narrows List
type ChangeRequestFilter struct {
	Status      types.ChangeStatus
	SubmittedBy types.UserID
	Assignee    types.UserID
}

type ChangeRequestUseCase struct {
	uc *UseCases
}

// Create files a new change request in SUBMITTED. The ticket ID is allocated
// by the store.
func (c *ChangeRequestUseCase) Create(ctx context.Context, actor auth.Actor, form ChangeRequestForm) (*model.ChangeRequest, error) {
	if err := actor.Validate(); err != nil {
		return nil, goerr.Wrap(model.ErrUnauthorized, "invalid actor", goerr.V(model.UserIDKey, actor.ID))
	}
	if err := form.Validate(); err != nil {
		return nil, err
	}

	now := c.uc.clock()
	cr := &model.ChangeRequest{
		ID:          types.NewChangeRequestID(),
		SubmittedBy: actor.ID,
		Status:      types.ChangeStatusSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	form.apply(cr)

	created, err := c.uc.repo.ChangeRequest().Create(ctx, cr)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create change request", goerr.V(model.UserIDKey, actor.ID))
	}

	logging.From(ctx).Info("change request submitted",
		"id", created.ID,
		"ticket_id", created.TicketID,
		"submitted_by", created.SubmittedBy,
	)
	return created, nil
}

// Get returns a change request visible to actor
func (c *ChangeRequestUseCase) Get(ctx context.Context, actor auth.Actor, id types.ChangeRequestID) (*model.ChangeRequest, error) {
	cr, err := c.uc.repo.ChangeRequest().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkVisible(cr, actor); err != nil {
		return nil, err
	}
	return cr, nil
}

// GetByTicket returns a change request visible to actor by its ticket ID
func (c *ChangeRequestUseCase) GetByTicket(ctx context.Context, actor auth.Actor, ticketID model.TicketID) (*model.ChangeRequest, error) {
	if err := ticketID.Validate(); err != nil {
		return nil, goerr.Wrap(model.ErrValidation, "invalid ticket ID", goerr.V(model.TicketIDKey, ticketID))
	}
	cr, err := c.uc.repo.ChangeRequest().GetByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := checkVisible(cr, actor); err != nil {
		return nil, err
	}
	return cr, nil
}

// List returns change requests matching filter. USER actors only see their own.
func (c *ChangeRequestUseCase) List(ctx context.Context, actor auth.Actor, filter ChangeRequestFilter) ([]*model.ChangeRequest, error) {
	var opts []interfaces.ListChangeRequestOption
	if filter.Status != "" {
		if !filter.Status.IsValid() {
			return nil, goerr.Wrap(model.ErrValidation, "invalid status filter", goerr.V("status", filter.Status))
		}
		opts = append(opts, interfaces.WithStatus(filter.Status))
	}

	submitter := filter.SubmittedBy
	if actor.Role == types.RoleUser {
		if submitter != "" && submitter != actor.ID {
			return []*model.ChangeRequest{}, nil
		}
		submitter = actor.ID
	}
	if submitter != "" {
		opts = append(opts, interfaces.WithSubmittedBy(submitter))
	}
	if filter.Assignee != "" {
		opts = append(opts, interfaces.WithAssignee(filter.Assignee))
	}

	return c.uc.repo.ChangeRequest().List(ctx, opts...)
}

// History returns the approval trail of a change request ordered by sequence
func (c *ChangeRequestUseCase) History(ctx context.Context, actor auth.Actor, id types.ChangeRequestID) ([]*model.ApprovalHistory, error) {
	if _, err := c.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return c.uc.repo.ApprovalHistory().List(ctx, id)
}

// Delete removes a change request with all of its side records. ADMIN only.
func (c *ChangeRequestUseCase) Delete(ctx context.Context, actor auth.Actor, id types.ChangeRequestID) error {
	if actor.Role != types.RoleAdmin {
		return goerr.Wrap(model.ErrUnauthorized, "only admin may delete change requests",
			goerr.V(model.UserIDKey, actor.ID), goerr.V(model.RoleKey, actor.Role))
	}
	if err := c.uc.repo.ChangeRequest().Delete(ctx, id); err != nil {
		return err
	}

	logging.From(ctx).Warn("change request deleted", "id", id, "by", actor.ID)
	return nil
}

func checkVisible(cr *model.ChangeRequest, actor auth.Actor) error {
	if actor.Role == types.RoleUser && cr.SubmittedBy != actor.ID {
		// other users' requests are reported as missing
		return goerr.Wrap(model.ErrNotFound, "change request not found",
			goerr.V(model.ChangeRequestIDKey, cr.ID), goerr.V(model.UserIDKey, actor.ID))
	}
	return nil
}
