package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/service/stream"
	"github.com/secmon-lab/changegate/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Broker selects how notifications are fanned out to stream subscribers
type Broker struct {
	redisURL      string
	channelPrefix string
}

func (x *Broker) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "redis-url",
			Usage:       "Redis URL for notification fan-out across server instances (e.g. redis://localhost:6379/0)",
			Category:    "Notification",
			Sources:     cli.EnvVars("CHANGEGATE_REDIS_URL"),
			Destination: &x.redisURL,
		},
		&cli.StringFlag{
			Name:        "redis-channel-prefix",
			Usage:       "Prefix of the Redis pub/sub channels",
			Category:    "Notification",
			Sources:     cli.EnvVars("CHANGEGATE_REDIS_CHANNEL_PREFIX"),
			Destination: &x.channelPrefix,
		},
	}
}

func (x Broker) LogValue() slog.Value {
	backend := "memory"
	if x.redisURL != "" {
		backend = "redis"
	}
	return slog.GroupValue(slog.String("backend", backend))
}

// Configure returns the Redis broker when a URL is set, the in-process hub
// otherwise. The returned function releases the broker.
func (x *Broker) Configure(ctx context.Context) (interfaces.NotificationBroker, func(), error) {
	if x.redisURL == "" {
		logging.Default().Info("Using in-process notification hub")
		return stream.NewHub(), func() {}, nil
	}

	var opts []stream.RedisOption
	if x.channelPrefix != "" {
		opts = append(opts, stream.WithChannelPrefix(x.channelPrefix))
	}
	broker, err := stream.NewRedisBroker(ctx, x.redisURL, opts...)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to connect notification broker")
	}
	logging.Default().Info("Using Redis notification broker")

	return broker, func() {
		if err := broker.Close(); err != nil {
			logging.Default().Error("failed to close redis broker", "error", err.Error())
		}
	}, nil
}
