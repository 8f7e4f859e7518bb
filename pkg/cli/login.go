package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/cli/config"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdLogin() *cli.Command {
	var userID string
	var password string
	var syncNow bool
	var syncCfg config.Sync
	repoCfg := config.NewDeviceRepository()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "user",
			Aliases:     []string{"u"},
			Usage:       "User ID",
			Required:    true,
			Sources:     cli.EnvVars("CHANGEGATE_USER"),
			Destination: &userID,
		},
		&cli.StringFlag{
			Name:        "password",
			Usage:       "Password",
			Required:    true,
			Sources:     cli.EnvVars("CHANGEGATE_PASSWORD"),
			Destination: &password,
		},
		&cli.BoolFlag{
			Name:        "sync",
			Usage:       "Run one sync cycle after login",
			Value:       true,
			Destination: &syncNow,
		},
	}
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, syncCfg.Flags()...)

	return &cli.Command{
		Name:  "login",
		Usage: "Obtain a bearer token from the server and store it in the device store",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			client, err := syncCfg.Remote()
			if err != nil {
				return err
			}

			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer func() {
				if err := repo.Close(); err != nil {
					logging.Default().Error("failed to close repository", "error", err.Error())
				}
			}()

			token, err := client.Authenticate(ctx, types.UserID(userID), password)
			if err != nil {
				return goerr.Wrap(err, "login failed", goerr.V("user_id", userID))
			}

			state, err := repo.GetSyncState(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to load sync state")
			}
			if state.UserID != "" && state.UserID != token.UserID {
				// cursors of another user say nothing about what this user has seen
				logging.Default().Info("Switching user, sync cursors reset", "previous", state.UserID)
				state = &model.SyncState{}
			}
			state.Token = token.Value
			state.UserID = token.UserID
			state.Role = token.Role
			state.ExpiresAt = token.ExpiresAt

			if err := repo.PutSyncState(ctx, state); err != nil {
				return goerr.Wrap(err, "failed to store token")
			}
			logging.Default().Info("Logged in", "user_id", token.UserID, "role", token.Role, "expires_at", token.ExpiresAt)
			_, _ = fmt.Fprintf(c.Root().Writer, "Logged in as %s (%s)\n", token.UserID, token.Role)

			if !syncNow {
				return nil
			}
			syncWorker, err := syncCfg.Configure(repo)
			if err != nil {
				return err
			}
			if err := syncWorker.RunOnce(ctx); err != nil {
				return goerr.Wrap(err, "initial sync failed")
			}
			return nil
		},
	}
}
