package usecase_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/usecase"
)

func TestSyncUseCase_Export(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mine := f.submit(t, requester)
	f.submit(t, otherUser)
	f.walk(t, mine.ID, step{types.ChangeStatusReviewed, technician})

	t.Run("user gets own records only", func(t *testing.T) {
		batch, err := f.uc.Sync.Export(ctx, requester, time.Time{})
		gt.NoError(t, err).Required()
		gt.Array(t, batch.ChangeRequests).Length(1).Required()
		gt.Value(t, batch.ChangeRequests[0].ID).Equal(mine.ID)
		gt.Array(t, batch.Histories).Length(1)
		gt.Array(t, batch.Notifications).Length(1)
		gt.Value(t, batch.Until).Equal(f.clock.Now().Add(-model.SyncOverlap))
	})

	t.Run("technician gets every request", func(t *testing.T) {
		batch, err := f.uc.Sync.Export(ctx, technician, time.Time{})
		gt.NoError(t, err).Required()
		gt.Array(t, batch.ChangeRequests).Length(2)
		gt.Array(t, batch.Notifications).Length(0)
	})

	t.Run("cursor excludes older records", func(t *testing.T) {
		batch, err := f.uc.Sync.Export(ctx, technician, f.clock.Now())
		gt.NoError(t, err).Required()
		gt.Number(t, batch.Len()).Equal(0)
	})

	t.Run("write stamped before the pull but committed after is pulled next time", func(t *testing.T) {
		first, err := f.uc.Sync.Export(ctx, technician, f.clock.Now())
		gt.NoError(t, err).Required()

		stamped := f.clock.Now().Add(-time.Second)
		late := &model.ChangeRequest{
			ID:             types.NewChangeRequestID(),
			TicketID:       "CR-20240115-0009",
			SubmittedBy:    otherUser.ID,
			Classification: types.ChangeClassMinor,
			Title:          "Replace edge router",
			Status:         types.ChangeStatusSubmitted,
			CreatedAt:      stamped,
			UpdatedAt:      stamped,
		}
		_, err = f.repo.Sync().Import(ctx, &model.SyncBatch{ChangeRequests: []*model.ChangeRequest{late}})
		gt.NoError(t, err).Required()

		next, err := f.uc.Sync.Export(ctx, technician, first.Until)
		gt.NoError(t, err).Required()
		var ids []types.ChangeRequestID
		for _, cr := range next.ChangeRequests {
			ids = append(ids, cr.ID)
		}
		gt.Array(t, ids).Has(late.ID)
	})
}

// offlineDevice builds records the way the agent does while disconnected
func offlineDevice(t *testing.T) (*fixture, *model.ChangeRequest) {
	t.Helper()
	device := newDeviceFixture(t)
	cr := device.submit(t, requester)
	return device, cr
}

func exportAll(t *testing.T, f *fixture) *model.SyncBatch {
	t.Helper()
	batch, err := f.repo.Sync().Export(context.Background(), time.Time{}, interfaces.SyncScope{})
	gt.NoError(t, err).Required()
	return batch
}

func TestSyncUseCase_Import(t *testing.T) {
	ctx := context.Background()

	t.Run("offline submission and resubmission is accepted", func(t *testing.T) {
		server := newFixture(t)
		device, cr := offlineDevice(t)

		// first push
		result, err := server.uc.Sync.Import(ctx, requester, exportAll(t, device))
		gt.NoError(t, err).Required()
		gt.Number(t, result.Applied).Equal(1)
		gt.Array(t, result.Conflicts).Length(0)
		gt.Array(t, result.Assigned).Length(1)

		// technician sends it back for revision on the server, device pulls it
		server.clock.Advance(time.Hour)
		server.walk(t, cr.ID, step{types.ChangeStatusRevision, technician})
		pulled, err := server.uc.Sync.Export(ctx, requester, time.Time{})
		gt.NoError(t, err).Required()
		_, err = device.repo.Sync().Import(ctx, pulled)
		gt.NoError(t, err).Required()

		// requester resubmits offline, then pushes
		device.clock.Advance(2 * time.Hour)
		_, err = device.uc.Workflow.Resubmit(ctx, cr.ID, requester, validForm(), "fixed")
		gt.NoError(t, err).Required()

		result, err = server.uc.Sync.Import(ctx, requester, exportAll(t, device))
		gt.NoError(t, err).Required()
		gt.Array(t, result.Conflicts).Length(0)

		got, err := server.uc.ChangeRequest.Get(ctx, admin, cr.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Status).Equal(types.ChangeStatusSubmitted)
		gt.Number(t, got.Revision).Equal(2)
		gt.Value(t, got.TicketID).Equal(model.TicketID("CR-20240115-0001"))

		local, err := device.repo.ChangeRequest().Get(ctx, cr.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, local.TicketID).Equal(got.TicketID)

		histories, err := server.uc.ChangeRequest.History(ctx, admin, cr.ID)
		gt.NoError(t, err).Required()
		end, err := server.uc.TransitionTable().ValidateWalk(histories)
		gt.NoError(t, err).Required()
		gt.Value(t, end).Equal(types.ChangeStatusSubmitted)
	})

	t.Run("user cannot push another user's request", func(t *testing.T) {
		server := newFixture(t)
		device, cr := offlineDevice(t)

		result, err := server.uc.Sync.Import(ctx, otherUser, exportAll(t, device))
		gt.NoError(t, err).Required()
		gt.Number(t, result.Applied).Equal(0)
		gt.Array(t, result.Conflicts).Length(1).Required()
		gt.Value(t, result.Conflicts[0].ChangeRequestID).Equal(cr.ID)

		_, err = server.uc.ChangeRequest.Get(ctx, admin, cr.ID)
		gt.Error(t, err).Is(model.ErrNotFound)
	})

	t.Run("status without matching history is rejected", func(t *testing.T) {
		server := newFixture(t)
		device, _ := offlineDevice(t)

		batch := exportAll(t, device)
		batch.ChangeRequests[0].Status = types.ChangeStatusApproved
		batch.ChangeRequests[0].Revision = 0

		result, err := server.uc.Sync.Import(ctx, requester, batch)
		gt.NoError(t, err).Required()
		gt.Array(t, result.Conflicts).Length(1).Required()
		gt.Bool(t, strings.Contains(result.Conflicts[0].Reason, "invalid history")).True()
	})

	t.Run("forged transition in history is rejected", func(t *testing.T) {
		server := newFixture(t)
		device, cr := offlineDevice(t)

		batch := exportAll(t, device)
		batch.ChangeRequests[0].Status = types.ChangeStatusCompleted
		batch.ChangeRequests[0].Revision = 1
		batch.Histories = append(batch.Histories, &model.ApprovalHistory{
			ID:              types.NewHistoryID(),
			ChangeRequestID: cr.ID,
			Sequence:        1,
			ApproverID:      requester.ID,
			FromStatus:      types.ChangeStatusSubmitted,
			ToStatus:        types.ChangeStatusCompleted,
			CreatedAt:       cr.CreatedAt,
		})

		result, err := server.uc.Sync.Import(ctx, requester, batch)
		gt.NoError(t, err).Required()
		gt.Array(t, result.Conflicts).Length(1)
		gt.Number(t, result.Skipped).Equal(1)
	})

	t.Run("diverging history is a conflict", func(t *testing.T) {
		server := newFixture(t)
		device, cr := offlineDevice(t)

		_, err := server.uc.Sync.Import(ctx, requester, exportAll(t, device))
		gt.NoError(t, err).Required()

		// both sides take sequence 1 independently
		server.walk(t, cr.ID, step{types.ChangeStatusReviewed, technician})
		device.walk(t, cr.ID, step{types.ChangeStatusClosed, admin})

		result, err := server.uc.Sync.Import(ctx, admin, exportAll(t, device))
		gt.NoError(t, err).Required()
		gt.Array(t, result.Conflicts).Length(1).Required()
		gt.Bool(t, strings.Contains(result.Conflicts[0].Reason, "diverges")).True()

		got, err := server.uc.ChangeRequest.Get(ctx, admin, cr.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Status).Equal(types.ChangeStatusReviewed)
	})

	t.Run("notifications of other users are skipped", func(t *testing.T) {
		server := newFixture(t)
		batch := &model.SyncBatch{Notifications: []*model.Notification{{
			ID:          types.NewNotificationID(),
			RecipientID: otherUser.ID,
			Read:        true,
		}}}

		result, err := server.uc.Sync.Import(ctx, requester, batch)
		gt.NoError(t, err).Required()
		gt.Number(t, result.Skipped).Equal(1)
		gt.Number(t, result.Applied).Equal(0)
	})
}

func TestSyncUseCase_ImportFromTwoDevices(t *testing.T) {
	ctx := context.Background()
	server := newFixture(t)
	deviceA := newDeviceFixture(t)
	deviceB := newDeviceFixture(t)

	// both devices are offline and number their first request of the day alike
	crA := deviceA.submit(t, requester)
	crB := deviceB.submit(t, otherUser)
	gt.Value(t, crA.TicketID).Equal(model.TicketID("CR-20240115-L0001"))
	gt.Value(t, crB.TicketID).Equal(crA.TicketID)

	resultA, err := server.uc.Sync.Import(ctx, requester, exportAll(t, deviceA))
	gt.NoError(t, err).Required()
	gt.Array(t, resultA.Conflicts).Length(0)
	gt.Array(t, resultA.Assigned).Length(1).Required()
	gt.Value(t, resultA.Assigned[0]).Equal(model.TicketAssignment{
		ChangeRequestID: crA.ID,
		Provisional:     crA.TicketID,
		TicketID:        "CR-20240115-0001",
	})

	resultB, err := server.uc.Sync.Import(ctx, otherUser, exportAll(t, deviceB))
	gt.NoError(t, err).Required()
	gt.Array(t, resultB.Conflicts).Length(0)
	gt.Array(t, resultB.Assigned).Length(1).Required()
	gt.Value(t, resultB.Assigned[0].TicketID).Equal(model.TicketID("CR-20240115-0002"))

	for id, want := range map[types.ChangeRequestID]model.TicketID{
		crA.ID: "CR-20240115-0001",
		crB.ID: "CR-20240115-0002",
	} {
		got, err := server.uc.ChangeRequest.Get(ctx, admin, id)
		gt.NoError(t, err).Required()
		gt.Value(t, got.TicketID).Equal(want)
	}

	t.Run("push repeated before the device learns its number", func(t *testing.T) {
		again, err := server.uc.Sync.Import(ctx, requester, exportAll(t, deviceA))
		gt.NoError(t, err).Required()
		gt.Array(t, again.Conflicts).Length(0)
		gt.Number(t, again.Applied).Equal(0)
		gt.Array(t, again.Assigned).Length(1).Required()
		gt.Value(t, again.Assigned[0].TicketID).Equal(model.TicketID("CR-20240115-0001"))
	})

	t.Run("pull gives the device the server number", func(t *testing.T) {
		pulled, err := server.uc.Sync.Export(ctx, otherUser, time.Time{})
		gt.NoError(t, err).Required()
		result, err := deviceB.repo.Sync().Import(ctx, pulled)
		gt.NoError(t, err).Required()
		gt.Array(t, result.Conflicts).Length(0)

		local, err := deviceB.repo.ChangeRequest().Get(ctx, crB.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, local.TicketID).Equal(model.TicketID("CR-20240115-0002"))

		// the next offline request does not reuse a confirmed number
		next := deviceB.submit(t, otherUser)
		gt.Value(t, next.TicketID).Equal(model.TicketID("CR-20240115-L0003"))
	})
}

func TestMergeHistories(t *testing.T) {
	crID := types.NewChangeRequestID()
	h := func(id types.HistoryID, seq int) *model.ApprovalHistory {
		return &model.ApprovalHistory{ID: id, ChangeRequestID: crID, Sequence: seq}
	}
	a, b, c := types.NewHistoryID(), types.NewHistoryID(), types.NewHistoryID()

	merged, reason := usecase.MergeHistories([]*model.ApprovalHistory{h(a, 1)}, []*model.ApprovalHistory{h(c, 3), h(a, 1), h(b, 2)})
	gt.Value(t, reason).Equal("")
	gt.Array(t, merged).Length(3).Required()
	gt.Number(t, merged[0].Sequence).Equal(1)
	gt.Number(t, merged[2].Sequence).Equal(3)

	_, reason = usecase.MergeHistories([]*model.ApprovalHistory{h(a, 1)}, []*model.ApprovalHistory{h(b, 1)})
	gt.String(t, reason).Contains("diverges")
}
