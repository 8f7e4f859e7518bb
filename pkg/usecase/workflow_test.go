package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/model/auth"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/usecase"
)

func TestTransition_FirstReview(t *testing.T) {
	broker := &recordingBroker{}
	f := newFixture(t, usecase.WithBroker(broker))
	ctx := context.Background()

	cr := f.submit(t, requester)
	gt.Value(t, cr.TicketID).Equal(model.TicketID("CR-20240115-0001"))
	gt.Value(t, cr.Status).Equal(types.ChangeStatusSubmitted)

	result, err := f.uc.Workflow.Transition(ctx, cr.ID, types.ChangeStatusReviewed, technician, "looks fine")
	gt.NoError(t, err).Required()
	gt.Value(t, result.ChangeRequest.Status).Equal(types.ChangeStatusReviewed)
	gt.Value(t, result.ChangeRequest.AssignedTechnicianID).Equal(technician.ID)
	gt.Number(t, result.ChangeRequest.Revision).Equal(1)

	histories, err := f.uc.ChangeRequest.History(ctx, technician, cr.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, histories).Length(1).Required()
	gt.Value(t, histories[0].FromStatus).Equal(types.ChangeStatusSubmitted)
	gt.Value(t, histories[0].ToStatus).Equal(types.ChangeStatusReviewed)
	gt.Value(t, histories[0].ApproverID).Equal(technician.ID)
	gt.Value(t, histories[0].Notes).Equal("looks fine")
	gt.Number(t, histories[0].Sequence).Equal(1)

	notifications, err := f.uc.Notification.List(ctx, requester, false)
	gt.NoError(t, err).Required()
	gt.Array(t, notifications).Length(1).Required()
	gt.Value(t, notifications[0].FromStatus).Equal(types.ChangeStatusSubmitted)
	gt.Value(t, notifications[0].ToStatus).Equal(types.ChangeStatusReviewed)
	gt.Value(t, notifications[0].RecipientID).Equal(requester.ID)
	gt.Bool(t, notifications[0].Read).False()

	gt.Number(t, broker.count()).Equal(1)
}

func TestTransition_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   []step
		to      types.ChangeStatus
		actor   auth.Actor
		wantErr error
	}{
		{
			name:    "skipping to completed",
			to:      types.ChangeStatusCompleted,
			actor:   technician,
			wantErr: model.ErrInvalidTransition,
		},
		{
			name:    "requester cannot review",
			to:      types.ChangeStatusReviewed,
			actor:   requester,
			wantErr: model.ErrUnauthorized,
		},
		{
			name:    "technician cannot close",
			to:      types.ChangeStatusClosed,
			actor:   technician,
			wantErr: model.ErrUnauthorized,
		},
		{
			name:    "other technician on assigned request",
			setup:   []step{{types.ChangeStatusReviewed, technician}},
			to:      types.ChangeStatusRevision,
			actor:   otherTech,
			wantErr: model.ErrUnauthorized,
		},
		{
			name:    "other user cannot see the request to withdraw it",
			setup:   []step{{types.ChangeStatusRevision, technician}},
			to:      types.ChangeStatusClosed,
			actor:   otherUser,
			wantErr: model.ErrNotFound,
		},
		{
			name:    "approval without risk assessment",
			setup:   []step{{types.ChangeStatusReviewed, technician}},
			to:      types.ChangeStatusApproved,
			actor:   technician,
			wantErr: model.ErrValidation,
		},
		{
			name: "terminal status",
			setup: []step{
				{types.ChangeStatusReviewed, technician},
				{types.ChangeStatusApproved, technician},
				{types.ChangeStatusScheduled, technician},
				{types.ChangeStatusImplementing, technician},
				{types.ChangeStatusFailed, technician},
			},
			to:      types.ChangeStatusImplementing,
			actor:   technician,
			wantErr: model.ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := &recordingBroker{}
			f := newFixture(t, usecase.WithBroker(broker))
			ctx := context.Background()

			cr := f.submit(t, requester)
			f.walk(t, cr.ID, tt.setup...)

			before, err := f.uc.ChangeRequest.Get(ctx, admin, cr.ID)
			gt.NoError(t, err).Required()
			historyBefore, err := f.uc.ChangeRequest.History(ctx, admin, cr.ID)
			gt.NoError(t, err).Required()
			published := broker.count()

			_, err = f.uc.Workflow.Transition(ctx, cr.ID, tt.to, tt.actor, "")
			gt.Error(t, err).Is(tt.wantErr)

			after, err := f.uc.ChangeRequest.Get(ctx, admin, cr.ID)
			gt.NoError(t, err).Required()
			gt.Value(t, after.Status).Equal(before.Status)
			gt.Number(t, after.Revision).Equal(before.Revision)

			historyAfter, err := f.uc.ChangeRequest.History(ctx, admin, cr.ID)
			gt.NoError(t, err).Required()
			gt.Array(t, historyAfter).Length(len(historyBefore))
			gt.Number(t, broker.count()).Equal(published)
		})
	}
}

func TestTransition_UnknownChangeRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.uc.Workflow.Transition(context.Background(), types.NewChangeRequestID(), types.ChangeStatusReviewed, technician, "")
	gt.Error(t, err).Is(model.ErrNotFound)
}

func TestTransition_FullWalkIsValid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cr := f.submit(t, requester)
	f.walk(t, cr.ID,
		step{types.ChangeStatusRevision, technician},
		step{types.ChangeStatusSubmitted, requester},
		step{types.ChangeStatusReviewed, technician},
		step{types.ChangeStatusApproved, technician},
		step{types.ChangeStatusScheduled, technician},
		step{types.ChangeStatusImplementing, technician},
		step{types.ChangeStatusCompleted, technician},
	)

	histories, err := f.uc.ChangeRequest.History(ctx, requester, cr.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, histories).Length(7)

	end, err := f.uc.TransitionTable().ValidateWalk(histories)
	gt.NoError(t, err).Required()
	gt.Value(t, end).Equal(types.ChangeStatusCompleted)

	// resubmission by the requester does not notify the requester
	notifications, err := f.uc.Notification.List(ctx, requester, false)
	gt.NoError(t, err).Required()
	gt.Array(t, notifications).Length(6)
}

func TestTransition_NoNotificationForOwnAction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cr := f.submit(t, admin)
	result, err := f.uc.Workflow.Transition(ctx, cr.ID, types.ChangeStatusClosed, admin, "duplicate")
	gt.NoError(t, err).Required()
	gt.Value(t, result.Notification).Nil()
	gt.Value(t, result.History).NotNil()

	count, err := f.uc.Notification.CountUnread(ctx, admin)
	gt.NoError(t, err).Required()
	gt.Number(t, count).Equal(0)
}

func TestTransition_AdminClosingRevisionNotifiesRequester(t *testing.T) {
	broker := &recordingBroker{}
	f := newFixture(t, usecase.WithBroker(broker))
	ctx := context.Background()

	cr := f.submit(t, requester)
	f.walk(t, cr.ID, step{types.ChangeStatusRevision, technician})
	published := broker.count()

	f.clock.Advance(time.Minute)
	result, err := f.uc.Workflow.Transition(ctx, cr.ID, types.ChangeStatusClosed, admin, "out of scope")
	gt.NoError(t, err).Required()
	gt.Value(t, result.Notification).NotNil().Required()
	gt.Value(t, result.Notification.RecipientID).Equal(requester.ID)
	gt.Value(t, result.Notification.ToStatus).Equal(types.ChangeStatusClosed)
	gt.Number(t, broker.count()).Equal(published + 1)

	notifications, err := f.uc.Notification.List(ctx, requester, true)
	gt.NoError(t, err).Required()
	gt.Array(t, notifications).Length(2).Required()
	gt.Value(t, notifications[0].ToStatus).Equal(types.ChangeStatusClosed)
}

func TestTransition_OtherUsersRequestIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cr := f.submit(t, requester)
	f.walk(t, cr.ID, step{types.ChangeStatusRevision, technician})

	_, err := f.uc.Workflow.Transition(ctx, cr.ID, types.ChangeStatusClosed, otherUser, "")
	gt.Error(t, err).Is(model.ErrNotFound)

	// the same request for the requester is allowed, so only visibility differs
	_, err = f.uc.Workflow.Transition(ctx, cr.ID, types.ChangeStatusClosed, requester, "withdrawn")
	gt.NoError(t, err)
}

func TestTransition_NotifierIsCalled(t *testing.T) {
	notifier := &channelNotifier{ch: make(chan *model.ApprovalHistory, 1)}
	f := newFixture(t, usecase.WithNotifier(notifier))

	cr := f.submit(t, requester)
	_, err := f.uc.Workflow.Transition(context.Background(), cr.ID, types.ChangeStatusReviewed, technician, "")
	gt.NoError(t, err).Required()

	select {
	case h := <-notifier.ch:
		gt.Value(t, h.ToStatus).Equal(types.ChangeStatusReviewed)
	case <-time.After(5 * time.Second):
		t.Fatal("notifier was not called")
	}
}

func TestResubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cr := f.submit(t, requester)
	f.walk(t, cr.ID, step{types.ChangeStatusRevision, technician})

	form := validForm()
	form.RollbackPlan = "Fail over to sw-core-02"

	t.Run("other user cannot resubmit", func(t *testing.T) {
		_, err := f.uc.Workflow.Resubmit(ctx, cr.ID, otherUser, form, "")
		gt.Error(t, err).Is(model.ErrNotFound)
	})

	t.Run("invalid form is rejected before any transition", func(t *testing.T) {
		broken := form
		broken.Title = ""
		_, err := f.uc.Workflow.Resubmit(ctx, cr.ID, requester, broken, "")
		gt.Error(t, err).Is(model.ErrValidation)
	})

	t.Run("requester resubmits with edits", func(t *testing.T) {
		result, err := f.uc.Workflow.Resubmit(ctx, cr.ID, requester, form, "added failover")
		gt.NoError(t, err).Required()
		gt.Value(t, result.ChangeRequest.Status).Equal(types.ChangeStatusSubmitted)
		gt.Value(t, result.ChangeRequest.RollbackPlan).Equal("Fail over to sw-core-02")
		gt.Value(t, result.ChangeRequest.TicketID).Equal(cr.TicketID)
		gt.Value(t, result.Notification).Nil()
	})

	t.Run("resubmit outside revision", func(t *testing.T) {
		_, err := f.uc.Workflow.Resubmit(ctx, cr.ID, requester, form, "")
		gt.Error(t, err).Is(model.ErrInvalidTransition)
	})
}

func TestTransition_CustomWorkflow(t *testing.T) {
	w, err := model.NewWorkflow([]model.Rule{
		{From: types.ChangeStatusSubmitted, To: types.ChangeStatusCompleted, Roles: []types.Role{types.RoleAdmin}, Notify: true},
	})
	gt.NoError(t, err).Required()

	f := newFixture(t, usecase.WithWorkflow(w))
	cr := f.submit(t, requester)

	_, err = f.uc.Workflow.Transition(context.Background(), cr.ID, types.ChangeStatusReviewed, technician, "")
	gt.Error(t, err).Is(model.ErrInvalidTransition)

	result, err := f.uc.Workflow.Transition(context.Background(), cr.ID, types.ChangeStatusCompleted, admin, "")
	gt.NoError(t, err).Required()
	gt.Value(t, result.ChangeRequest.Status).Equal(types.ChangeStatusCompleted)
}
