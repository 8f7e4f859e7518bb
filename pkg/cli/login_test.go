package cli_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/changegate/pkg/cli"
	httpctrl "github.com/secmon-lab/changegate/pkg/controller/http"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/model/auth"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/repository/memory"
	"github.com/secmon-lab/changegate/pkg/repository/sqlite"
	"github.com/secmon-lab/changegate/pkg/usecase"
	"golang.org/x/crypto/bcrypt"
)

func newRemoteServer(t *testing.T) (*httptest.Server, *usecase.UseCases) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("pw-alice"), bcrypt.MinCost)
	gt.NoError(t, err).Required()
	users := model.NewUserDirectory(&model.User{ID: "alice", Role: types.RoleUser, PasswordHash: string(hash)})

	uc := usecase.New(memory.New(),
		usecase.WithUsers(users),
		usecase.WithAuth(usecase.NewAuthUseCase(users, []byte("0123456789abcdef0123456789abcdef"))),
	)
	ts := httptest.NewServer(httpctrl.New(uc))
	t.Cleanup(ts.Close)
	return ts, uc
}

func TestRun_Login(t *testing.T) {
	ts, uc := newRemoteServer(t)
	ctx := context.Background()

	scheduled := time.Date(2024, 1, 20, 22, 0, 0, 0, time.UTC)
	_, err := uc.ChangeRequest.Create(ctx, auth.Actor{ID: "alice", Role: types.RoleUser}, usecase.ChangeRequestForm{
		Classification:     types.ChangeClassMinor,
		Title:              "Replace core switch",
		Justification:      "End of support",
		Purpose:            "Keep the network supported",
		AffectedAssets:     "sw-core-01",
		ImplementationPlan: "Swap during maintenance window",
		RollbackPlan:       "Reinstall the old switch",
		ScheduledAt:        &scheduled,
	})
	gt.NoError(t, err).Required()

	dbPath := filepath.Join(t.TempDir(), "device.db")
	args := func(password string) []string {
		return []string{
			"changegate", "login",
			"--user", "alice", "--password", password,
			"--server-url", ts.URL,
			"--repository-backend", "sqlite", "--sqlite-path", dbPath,
		}
	}

	t.Run("wrong password", func(t *testing.T) {
		gt.Value(t, cli.Run(ctx, args("nope"), "test")).NotNil()
	})

	t.Run("login stores the token and pulls", func(t *testing.T) {
		gt.NoError(t, cli.Run(ctx, args("pw-alice"), "test")).Required()

		repo, err := sqlite.New(ctx, dbPath)
		gt.NoError(t, err).Required()
		defer repo.Close()

		state, err := repo.GetSyncState(ctx)
		gt.NoError(t, err).Required()
		gt.Value(t, state.UserID).Equal(types.UserID("alice"))
		gt.Value(t, state.Role).Equal(types.RoleUser)
		gt.Bool(t, state.HasValidToken(time.Now())).True()
		gt.Bool(t, state.LastSuccessAt.IsZero()).False()

		crs, err := repo.ChangeRequest().List(ctx)
		gt.NoError(t, err).Required()
		gt.Array(t, crs).Length(1)
	})

	t.Run("changes lists the device store", func(t *testing.T) {
		err := cli.Run(ctx, []string{
			"changegate", "changes", "--status", "SUBMITTED",
			"--repository-backend", "sqlite", "--sqlite-path", dbPath,
		}, "test")
		gt.NoError(t, err)
	})

	t.Run("changes rejects unknown status", func(t *testing.T) {
		err := cli.Run(ctx, []string{
			"changegate", "changes", "--status", "SHIPPED",
			"--repository-backend", "sqlite", "--sqlite-path", dbPath,
		}, "test")
		gt.Value(t, err).NotNil()
	})
}
