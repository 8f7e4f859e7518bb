package slack

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/slack-go/slack"
)

// Slack rejects section texts longer than 3000 characters
const maxSectionBytes = 2900

func buildTransitionMessage(cr *model.ChangeRequest, h *model.ApprovalHistory, linkURL string) ([]slack.Block, string) {
	ticket := string(cr.TicketID)
	if linkURL != "" {
		ticket = fmt.Sprintf("<%s/change-requests/%s|%s>", strings.TrimSuffix(linkURL, "/"), cr.ID, cr.TicketID)
	}

	text := fmt.Sprintf("%s moved from %s to %s", cr.TicketID, h.FromStatus.Label(), h.ToStatus.Label())
	headline := fmt.Sprintf("*%s* %s\n%s → *%s*",
		ticket, escape(cr.Title), h.FromStatus.Label(), h.ToStatus.Label())

	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, truncateToMaxBytes(headline, maxSectionBytes), false, false), nil, nil),
	}
	if h.Notes != "" {
		notes := "> " + strings.ReplaceAll(escape(h.Notes), "\n", "\n> ")
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, truncateToMaxBytes(notes, maxSectionBytes), false, false), nil, nil))
	}
	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("by %s · %s · requested by %s", h.ApproverID, cr.Classification, cr.SubmittedBy), false, false),
	))

	return blocks, text
}

// escape neutralizes Slack mrkdwn control characters
func escape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// truncateToMaxBytes cuts s to at most maxBytes without splitting a UTF-8 sequence
func truncateToMaxBytes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
