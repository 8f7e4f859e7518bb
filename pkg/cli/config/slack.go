package config

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/service/slack"
	"github.com/urfave/cli/v3"
)

// Slack holds the settings of transition messages posted to a channel
type Slack struct {
	botToken  string
	channelID string
	baseURL   string
}

func (x *Slack) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "slack-bot-token",
			Usage:       "Slack Bot User OAuth Token",
			Category:    "Slack",
			Destination: &x.botToken,
			Sources:     cli.EnvVars("CHANGEGATE_SLACK_BOT_TOKEN"),
		},
		&cli.StringFlag{
			Name:        "slack-channel-id",
			Usage:       "Channel that receives a message on every transition",
			Category:    "Slack",
			Destination: &x.channelID,
			Sources:     cli.EnvVars("CHANGEGATE_SLACK_CHANNEL_ID"),
		},
		&cli.StringFlag{
			Name:        "base-url",
			Usage:       "Base URL of the web UI used for links in messages (e.g. https://changes.example.com)",
			Destination: &x.baseURL,
			Sources:     cli.EnvVars("CHANGEGATE_BASE_URL"),
		},
	}
}

func (x Slack) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("enabled", x.IsConfigured()),
		slog.String("channel_id", x.channelID),
	)
}

// IsConfigured reports whether both token and channel are set
func (x *Slack) IsConfigured() bool {
	return x.botToken != "" && x.channelID != ""
}

// Configure returns the notifier, or nil when Slack is not configured
func (x *Slack) Configure() (*slack.Notifier, error) {
	if !x.IsConfigured() {
		if x.botToken != "" || x.channelID != "" {
			return nil, goerr.Wrap(ErrInvalidConfig, "both --slack-bot-token and --slack-channel-id are required")
		}
		return nil, nil
	}

	var opts []slack.Option
	if x.baseURL != "" {
		opts = append(opts, slack.WithLinkURL(x.baseURL))
	}
	n, err := slack.New(x.botToken, x.channelID, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create slack notifier")
	}
	return n, nil
}
