package repository_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/repository/firestore"
	"github.com/secmon-lab/changegate/pkg/repository/memory"
	"github.com/secmon-lab/changegate/pkg/repository/sqlite"
)

type repoFactory func(t *testing.T) interfaces.Repository

func newMemoryRepo(t *testing.T) interfaces.Repository {
	return memory.New()
}

func newSQLiteRepo(t *testing.T) interfaces.Repository {
	repo, err := sqlite.New(context.Background(), ":memory:")
	gt.NoError(t, err).Required()
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newMemoryDeviceRepo(t *testing.T) interfaces.Repository {
	return memory.New(memory.WithProvisionalTickets())
}

func newSQLiteDeviceRepo(t *testing.T) interfaces.Repository {
	repo, err := sqlite.New(context.Background(), ":memory:", sqlite.WithProvisionalTickets())
	gt.NoError(t, err).Required()
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newSQLiteFileRepo(t *testing.T) interfaces.Repository {
	repo, err := sqlite.New(context.Background(), t.TempDir()+"/changegate.db")
	gt.NoError(t, err).Required()
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// firestoreFactory returns nil when no test project is configured
func firestoreFactory(t *testing.T) repoFactory {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	if projectID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID not set")
	}
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")

	return func(t *testing.T) interfaces.Repository {
		// Each test gets its own collections so runs do not interfere
		prefix := "test_" + uuid.NewString()[:8]
		repo, err := firestore.New(context.Background(), projectID, databaseID, firestore.WithCollectionPrefix(prefix))
		gt.NoError(t, err).Required()
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	}
}

var baseTime = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func newChangeRequest(submitter types.UserID, createdAt time.Time) *model.ChangeRequest {
	minutes := 45
	return &model.ChangeRequest{
		ID:                 types.NewChangeRequestID(),
		SubmittedBy:        submitter,
		Classification:     types.ChangeClassMinor,
		Title:              "Upgrade core switch firmware",
		Justification:      "Vendor security advisory",
		Purpose:            "Patch CVE",
		AffectedAssets:     "core-sw-01",
		ImplementationPlan: "Failover, upgrade, fail back",
		RollbackPlan:       "Reflash previous image",
		EstimatedMinutes:   &minutes,
		Status:             types.ChangeStatusSubmitted,
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}
}

// transitionTo returns a TransitionFunc that moves the request to status
// without consulting the workflow
func transitionTo(to types.ChangeStatus, actor types.UserID, at time.Time, notify bool) interfaces.TransitionFunc {
	return func(current *model.ChangeRequest, _ *model.RiskAssessment) (*model.TransitionResult, error) {
		from := current.Status
		next := current.Clone()
		next.Status = to
		next.Revision++
		next.UpdatedAt = at

		result := &model.TransitionResult{
			ChangeRequest: next,
			History: &model.ApprovalHistory{
				ID:              types.NewHistoryID(),
				ChangeRequestID: current.ID,
				Sequence:        next.Revision,
				ApproverID:      actor,
				FromStatus:      from,
				ToStatus:        to,
				CreatedAt:       at,
			},
		}
		if notify {
			result.Notification = model.NewStatusNotification(next, from, to, "", at)
		}
		return result, nil
	}
}
