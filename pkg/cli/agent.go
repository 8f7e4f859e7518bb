package cli

import (
	"context"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/cli/config"
	httpctrl "github.com/secmon-lab/changegate/pkg/controller/http"
	"github.com/secmon-lab/changegate/pkg/service/stream"
	"github.com/secmon-lab/changegate/pkg/usecase"
	"github.com/secmon-lab/changegate/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func cmdAgent() *cli.Command {
	var addr string
	var appCfg config.App
	var syncCfg config.Sync
	repoCfg := config.NewDeviceRepository()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Loopback address of the local API",
			Value:       "127.0.0.1:8765",
			Sources:     cli.EnvVars("CHANGEGATE_AGENT_ADDR"),
			Destination: &addr,
		},
	}
	flags = append(flags, appCfg.Flags()...)
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, syncCfg.Flags()...)

	return &cli.Command{
		Name:    "agent",
		Aliases: []string{"a"},
		Usage:   "Run the device agent: local API over the device store with background sync",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			app, err := appCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to load configuration")
			}
			workflow, err := app.Workflow()
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

			syncWorker, err := syncCfg.Configure(repo)
			if err != nil {
				return err
			}
			logging.Default().Info("Sync configured", "sync", syncCfg)

			uc := usecase.New(repo,
				usecase.WithWorkflow(workflow),
				usecase.WithBroker(stream.NewHub()),
			)

			server := &http.Server{
				Addr:              addr,
				Handler:           httpctrl.New(uc, httpctrl.WithSyncTrigger(syncWorker.Trigger)),
				ReadHeaderTimeout: 30 * time.Second,
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				defer cancel()
				return listenAndServe(ctx, server, nil)
			})
			g.Go(func() error {
				if err := syncWorker.Start(ctx); err != nil {
					return goerr.Wrap(err, "failed to start sync worker")
				}
				<-ctx.Done()
				syncWorker.Stop()
				return nil
			})

			return g.Wait()
		},
	}
}
