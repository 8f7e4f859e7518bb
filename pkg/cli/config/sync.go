package config

import (
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/service/remote"
	"github.com/secmon-lab/changegate/pkg/service/worker"
	"github.com/urfave/cli/v3"
)

// Sync holds the device agent's background sync settings
type Sync struct {
	serverURL      string
	interval       time.Duration
	maxElapsedTime time.Duration
	disabled       bool
}

func (x *Sync) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "server-url",
			Usage:       "Base URL of the changegate server",
			Category:    "Sync",
			Sources:     cli.EnvVars("CHANGEGATE_SERVER_URL"),
			Destination: &x.serverURL,
		},
		&cli.DurationFlag{
			Name:        "sync-interval",
			Usage:       "Interval of background sync",
			Value:       worker.DefaultSyncInterval,
			Category:    "Sync",
			Sources:     cli.EnvVars("CHANGEGATE_SYNC_INTERVAL"),
			Destination: &x.interval,
		},
		&cli.DurationFlag{
			Name:        "sync-max-retry",
			Usage:       "Maximum time a failing sync cycle is retried",
			Value:       worker.DefaultMaxElapsedTime,
			Category:    "Sync",
			Sources:     cli.EnvVars("CHANGEGATE_SYNC_MAX_RETRY"),
			Destination: &x.maxElapsedTime,
		},
		&cli.BoolFlag{
			Name:        "sync-disabled",
			Usage:       "Work offline only",
			Category:    "Sync",
			Sources:     cli.EnvVars("CHANGEGATE_SYNC_DISABLED"),
			Destination: &x.disabled,
		},
	}
}

func (x Sync) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("server_url", x.serverURL),
		slog.Duration("interval", x.interval),
		slog.Bool("disabled", x.disabled),
	)
}

// ServerURL returns the configured server URL
func (x *Sync) ServerURL() string {
	return x.serverURL
}

// Remote returns a client for the configured server
func (x *Sync) Remote() (*remote.Client, error) {
	if x.serverURL == "" {
		return nil, goerr.Wrap(ErrMissingServerURL, "set --server-url")
	}
	client, err := remote.New(x.serverURL)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create remote client")
	}
	return client, nil
}

// Configure builds the sync worker over repo. Without a server URL the worker
// is created disabled so the agent keeps working offline.
func (x *Sync) Configure(repo interfaces.Repository) (*worker.SyncWorker, error) {
	var client interfaces.RemoteClient
	if x.serverURL != "" {
		c, err := x.Remote()
		if err != nil {
			return nil, err
		}
		client = c
	}

	w := worker.NewSyncWorker(repo, client,
		worker.WithSyncInterval(x.interval),
		worker.WithMaxElapsedTime(x.maxElapsedTime),
	)
	w.SetEnabled(!x.disabled && client != nil)
	return w, nil
}
