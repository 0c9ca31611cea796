package notify

import (
	"context"
	"fmt"
	"time"

	goslack "github.com/slack-go/slack"
)

const slackPostTimeout = 10 * time.Second

var severityEmoji = map[string]string{
	"info":     ":information_source:",
	"warning":  ":warning:",
	"critical": ":rotating_light:",
}

// slackSink posts Block Kit messages to one channel.
type slackSink struct {
	api       *goslack.Client
	channelID string
}

func newSlackSink(token, channelID string) *slackSink {
	return &slackSink{api: goslack.New(token), channelID: channelID}
}

// newSlackSinkWithAPIURL targets a custom API URL for tests.
func newSlackSinkWithAPIURL(token, channelID, apiURL string) *slackSink {
	return &slackSink{
		api:       goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channelID: channelID,
	}
}

func (s *slackSink) Name() string { return "slack" }

func (s *slackSink) Deliver(ctx context.Context, a Alert, suppressed int) error {
	ctx, cancel := context.WithTimeout(ctx, slackPostTimeout)
	defer cancel()

	blocks := buildAlertBlocks(a, suppressed)
	_, _, err := s.api.PostMessageContext(ctx, s.channelID, goslack.MsgOptionBlocks(blocks...))
	if err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return nil
}

func buildAlertBlocks(a Alert, suppressed int) []goslack.Block {
	emoji := severityEmoji[a.Severity]
	if emoji == "" {
		emoji = ":bell:"
	}

	header := fmt.Sprintf("%s *[%s] %s*", emoji, a.Cluster, a.Component)
	if a.Kind != "" {
		header += fmt.Sprintf(" — %s", a.Kind)
	}
	body := header + "\n" + a.Summary
	if suppressed > 0 {
		body += fmt.Sprintf("\n_%d identical alert(s) suppressed in the last 15 minutes_", suppressed)
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, body, false, false),
			nil, nil,
		),
	}

	var links string
	if a.TicketURL != "" {
		links = fmt.Sprintf("<%s|Ticket>", a.TicketURL)
	}
	if a.ReportURL != "" {
		if links != "" {
			links += "  |  "
		}
		links += fmt.Sprintf("<%s|Cycle Report>", a.ReportURL)
	}
	if links != "" {
		blocks = append(blocks, goslack.NewContextBlock("",
			goslack.NewTextBlockObject(goslack.MarkdownType, links, false, false)))
	}
	return blocks
}
