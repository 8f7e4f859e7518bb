package slack

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/utils/logging"
	"github.com/slack-go/slack"
)

// poster is the part of the Slack API the notifier uses
type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier posts committed transitions to a Slack channel
type Notifier struct {
	api     poster
	apiURL  string
	channel string
	linkURL string
}

var _ interfaces.TransitionNotifier = (*Notifier)(nil)

// Option is a functional option for Notifier configuration
type Option func(*Notifier)

// WithLinkURL sets the base URL used to link tickets, e.g. the agent UI
func WithLinkURL(u string) Option {
	return func(n *Notifier) {
		n.linkURL = u
	}
}

// WithAPIURL points the Slack client at another endpoint
func WithAPIURL(u string) Option {
	return func(n *Notifier) {
		n.apiURL = u
	}
}

// New creates a notifier posting to channelID with the given bot token
func New(token, channelID string, opts ...Option) (*Notifier, error) {
	if token == "" {
		return nil, goerr.New("Slack bot token is required")
	}
	if channelID == "" {
		return nil, goerr.New("Slack channel ID is required")
	}

	n := &Notifier{channel: channelID}
	for _, opt := range opts {
		opt(n)
	}

	var clientOpts []slack.Option
	if n.apiURL != "" {
		clientOpts = append(clientOpts, slack.OptionAPIURL(n.apiURL))
	}
	n.api = slack.New(token, clientOpts...)
	return n, nil
}

// NotifyTransition posts one message for the transition recorded in h
func (n *Notifier) NotifyTransition(ctx context.Context, cr *model.ChangeRequest, h *model.ApprovalHistory) error {
	blocks, text := buildTransitionMessage(cr, h, n.linkURL)

	_, ts, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to post transition to Slack",
			goerr.V(model.ChangeRequestIDKey, cr.ID),
			goerr.V(model.TicketIDKey, cr.TicketID),
			goerr.V("channel", n.channel))
	}

	logging.From(ctx).Debug("transition posted to Slack", "ticket_id", cr.TicketID, "ts", ts)
	return nil
}
