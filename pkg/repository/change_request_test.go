package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

func runChangeRequestRepositoryTest(t *testing.T, newRepo repoFactory) {
	t.Helper()

	t.Run("Create allocates the first ticket of the day", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		created, err := repo.ChangeRequest().Create(ctx, newChangeRequest("alice", baseTime))
		gt.NoError(t, err).Required()
		gt.Value(t, created.TicketID).Equal(model.TicketID("CR-20240115-0001"))
		gt.Value(t, created.Status).Equal(types.ChangeStatusSubmitted)

		got, err := repo.ChangeRequest().Get(ctx, created.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.TicketID).Equal(created.TicketID)
		gt.Value(t, got.Title).Equal(created.Title)
		gt.Value(t, *got.EstimatedMinutes).Equal(45)
		gt.Bool(t, got.CreatedAt.Equal(baseTime)).True()

		byTicket, err := repo.ChangeRequest().GetByTicket(ctx, created.TicketID)
		gt.NoError(t, err).Required()
		gt.Value(t, byTicket.ID).Equal(created.ID)
	})

	t.Run("same-day tickets strictly increase and days restart", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		var prev int64
		for i := range 5 {
			created, err := repo.ChangeRequest().Create(ctx, newChangeRequest("alice", baseTime.Add(time.Duration(i)*time.Minute)))
			gt.NoError(t, err).Required()
			day, seq, err := model.ParseTicketID(created.TicketID.String())
			gt.NoError(t, err).Required()
			gt.Value(t, day).Equal("20240115")
			gt.Bool(t, seq > prev).True()
			prev = seq
		}

		nextDay, err := repo.ChangeRequest().Create(ctx, newChangeRequest("alice", baseTime.Add(24*time.Hour)))
		gt.NoError(t, err).Required()
		gt.Value(t, nextDay.TicketID).Equal(model.TicketID("CR-20240116-0001"))
	})

	t.Run("concurrent creates never share a ticket", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		const n = 5
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			tickets = map[model.TicketID]bool{}
		)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				created, err := repo.ChangeRequest().Create(ctx, newChangeRequest("alice", baseTime))
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				tickets[created.TicketID] = true
				mu.Unlock()
			}()
		}
		wg.Wait()
		gt.Number(t, len(tickets)).Equal(n)
	})

	t.Run("Get returns ErrNotFound for unknown ID", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.ChangeRequest().Get(context.Background(), types.NewChangeRequestID())
		gt.Error(t, err).Is(model.ErrNotFound)

		_, err = repo.ChangeRequest().GetByTicket(context.Background(), "CR-20240115-0999")
		gt.Error(t, err).Is(model.ErrNotFound)
	})

	t.Run("List filters and orders newest first", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		a1, err := repo.ChangeRequest().Create(ctx, newChangeRequest("alice", baseTime))
		gt.NoError(t, err).Required()
		b1, err := repo.ChangeRequest().Create(ctx, newChangeRequest("bob", baseTime.Add(time.Minute)))
		gt.NoError(t, err).Required()
		a2, err := repo.ChangeRequest().Create(ctx, newChangeRequest("alice", baseTime.Add(2*time.Minute)))
		gt.NoError(t, err).Required()

		_, err = repo.ChangeRequest().Transition(ctx, b1.ID, transitionTo(types.ChangeStatusReviewed, "tom", baseTime.Add(time.Hour), false))
		gt.NoError(t, err).Required()

		all, err := repo.ChangeRequest().List(ctx)
		gt.NoError(t, err).Required()
		gt.Array(t, all).Length(3)
		gt.Value(t, all[0].ID).Equal(a2.ID)
		gt.Value(t, all[2].ID).Equal(a1.ID)

		alices, err := repo.ChangeRequest().List(ctx, interfaces.WithSubmittedBy("alice"))
		gt.NoError(t, err).Required()
		gt.Array(t, alices).Length(2)

		reviewed, err := repo.ChangeRequest().List(ctx, interfaces.WithStatus(types.ChangeStatusReviewed))
		gt.NoError(t, err).Required()
		gt.Array(t, reviewed).Length(1)
		gt.Value(t, reviewed[0].ID).Equal(b1.ID)
	})

	t.Run("Transition persists request, history and notification together", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		created, err := repo.ChangeRequest().Create(ctx, newChangeRequest("alice", baseTime))
		gt.NoError(t, err).Required()

		at := baseTime.Add(time.Hour)
		result, err := repo.ChangeRequest().Transition(ctx, created.ID, transitionTo(types.ChangeStatusReviewed, "tom", at, true))
		gt.NoError(t, err).Required()
		gt.Value(t, result.ChangeRequest.Status).Equal(types.ChangeStatusReviewed)

		got, err := repo.ChangeRequest().Get(ctx, created.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Status).Equal(types.ChangeStatusReviewed)
		gt.Value(t, got.Revision).Equal(1)
		gt.Bool(t, got.UpdatedAt.Equal(at)).True()

		histories, err := repo.ApprovalHistory().List(ctx, created.ID)
		gt.NoError(t, err).Required()
		gt.Array(t, histories).Length(1)
		gt.Value(t, histories[0].FromStatus).Equal(types.ChangeStatusSubmitted)
		gt.Value(t, histories[0].ToStatus).Equal(types.ChangeStatusReviewed)
		gt.Value(t, histories[0].Sequence).Equal(1)

		notifications, err := repo.Notification().List(ctx, "alice", false)
		gt.NoError(t, err).Required()
		gt.Array(t, notifications).Length(1)
		gt.Value(t, notifications[0].ToStatus).Equal(types.ChangeStatusReviewed)
	})

	t.Run("failed TransitionFunc writes nothing", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		created, err := repo.ChangeRequest().Create(ctx, newChangeRequest("alice", baseTime))
		gt.NoError(t, err).Required()

		_, err = repo.ChangeRequest().Transition(ctx, created.ID, func(*model.ChangeRequest, *model.RiskAssessment) (*model.TransitionResult, error) {
			return nil, model.ErrInvalidTransition
		})
		gt.Error(t, err).Is(model.ErrInvalidTransition)

		got, err := repo.ChangeRequest().Get(ctx, created.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Status).Equal(types.ChangeStatusSubmitted)

		histories, err := repo.ApprovalHistory().List(ctx, created.ID)
		gt.NoError(t, err).Required()
		gt.Array(t, histories).Length(0)
	})

	t.Run("Transition passes the risk assessment to the callback", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		created, err := repo.ChangeRequest().Create(ctx, newChangeRequest("alice", baseTime))
		gt.NoError(t, err).Required()

		var seen *model.RiskAssessment
		probe := func(current *model.ChangeRequest, ra *model.RiskAssessment) (*model.TransitionResult, error) {
			seen = ra
			return nil, errors.New("probe only")
		}
		_, _ = repo.ChangeRequest().Transition(ctx, created.ID, probe)
		gt.Value(t, seen).Nil()

		gt.NoError(t, repo.RiskAssessment().Put(ctx, &model.RiskAssessment{
			ChangeRequestID: created.ID, TechnicianID: "tom",
			Impact: 3, Likelihood: 4, Exposure: 2, Score: 24, Level: types.RiskLevelMedium,
			CreatedAt: baseTime, UpdatedAt: baseTime,
		})).Required()

		_, _ = repo.ChangeRequest().Transition(ctx, created.ID, probe)
		gt.Value(t, seen).NotNil()
		gt.Value(t, seen.Score).Equal(24)
	})

	t.Run("Transition of unknown request returns ErrNotFound", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.ChangeRequest().Transition(context.Background(), types.NewChangeRequestID(),
			transitionTo(types.ChangeStatusReviewed, "tom", baseTime, false))
		gt.Error(t, err).Is(model.ErrNotFound)
	})

	t.Run("Delete cascades to side records", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		created, err := repo.ChangeRequest().Create(ctx, newChangeRequest("alice", baseTime))
		gt.NoError(t, err).Required()
		_, err = repo.ChangeRequest().Transition(ctx, created.ID, transitionTo(types.ChangeStatusReviewed, "tom", baseTime.Add(time.Hour), true))
		gt.NoError(t, err).Required()

		gt.NoError(t, repo.ChangeRequest().Delete(ctx, created.ID)).Required()

		_, err = repo.ChangeRequest().Get(ctx, created.ID)
		gt.Error(t, err).Is(model.ErrNotFound)
		_, err = repo.ChangeRequest().GetByTicket(ctx, created.TicketID)
		gt.Error(t, err).Is(model.ErrNotFound)

		histories, err := repo.ApprovalHistory().List(ctx, created.ID)
		gt.NoError(t, err).Required()
		gt.Array(t, histories).Length(0)

		notifications, err := repo.Notification().List(ctx, "alice", false)
		gt.NoError(t, err).Required()
		gt.Array(t, notifications).Length(0)

		gt.Error(t, repo.ChangeRequest().Delete(ctx, created.ID)).Is(model.ErrNotFound)
	})

	t.Run("RiskAssessment Put replaces and Get returns ErrNotFound when absent", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		created, err := repo.ChangeRequest().Create(ctx, newChangeRequest("alice", baseTime))
		gt.NoError(t, err).Required()

		_, err = repo.RiskAssessment().Get(ctx, created.ID)
		gt.Error(t, err).Is(model.ErrNotFound)

		ra := &model.RiskAssessment{
			ChangeRequestID: created.ID, TechnicianID: "tom",
			Impact: 1, Likelihood: 1, Exposure: 1, Score: 1, Level: types.RiskLevelLow,
			CreatedAt: baseTime, UpdatedAt: baseTime,
		}
		gt.NoError(t, repo.RiskAssessment().Put(ctx, ra)).Required()

		ra.Impact, ra.Likelihood, ra.Exposure, ra.Score, ra.Level = 5, 5, 5, 125, types.RiskLevelCritical
		gt.NoError(t, repo.RiskAssessment().Put(ctx, ra)).Required()

		got, err := repo.RiskAssessment().Get(ctx, created.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Score).Equal(125)
		gt.Value(t, got.Level).Equal(types.RiskLevelCritical)

		ra.Score = 3
		gt.Error(t, repo.RiskAssessment().Put(ctx, ra)).Is(model.ErrValidation)
	})

	t.Run("SyncState round trips", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		empty, err := repo.GetSyncState(ctx)
		gt.NoError(t, err).Required()
		gt.Value(t, empty.Token).Equal("")

		state := &model.SyncState{
			Token:     "token-value",
			UserID:    "alice",
			Role:      types.RoleUser,
			ExpiresAt: baseTime.Add(time.Hour),
			PulledAt:  baseTime,
		}
		gt.NoError(t, repo.PutSyncState(ctx, state)).Required()

		got, err := repo.GetSyncState(ctx)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Token).Equal("token-value")
		gt.Value(t, got.UserID).Equal(types.UserID("alice"))
		gt.Bool(t, got.ExpiresAt.Equal(state.ExpiresAt)).True()
		gt.Bool(t, got.PulledAt.Equal(baseTime)).True()
	})
}

func TestChangeRequestRepository_Memory(t *testing.T) {
	runChangeRequestRepositoryTest(t, newMemoryRepo)
}

func TestChangeRequestRepository_SQLite(t *testing.T) {
	runChangeRequestRepositoryTest(t, newSQLiteRepo)
}

func TestChangeRequestRepository_SQLiteFile(t *testing.T) {
	runChangeRequestRepositoryTest(t, newSQLiteFileRepo)
}

func TestChangeRequestRepository_Firestore(t *testing.T) {
	runChangeRequestRepositoryTest(t, firestoreFactory(t))
}
