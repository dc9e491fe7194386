package notifier

import (
	"fmt"
	"sort"
	"strings"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// slackMessage represents the Slack webhook payload.
type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

// slackBlock represents a Slack Block Kit block.
type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

func buildSlackPayload(msg *Message) slackMessage {
	emoji := severityEmoji(msg.Severity)
	timestamp := msg.TriggeredAt.Format("2006-01-02 15:04:05 MST")

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{
				Type:  "plain_text",
				Text:  fmt.Sprintf("%s LogNexus Alert: %s", emoji, msg.AlertName),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Severity:*\n%s %s", emoji, strings.ToUpper(string(msg.Severity)))},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Time:*\n%s", timestamp)},
			},
		},
		{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Message:*\n%s", truncate(msg.Text, 2900))},
		},
	}

	var scope []slackText
	if msg.ServerName != "" {
		scope = append(scope, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Server:*\n%s", msg.ServerName)})
	}
	if msg.JobID != "" {
		scope = append(scope, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Job:*\n%s", msg.JobID)})
	}
	if len(scope) > 0 {
		blocks = append(blocks, slackBlock{Type: "section", Fields: scope})
	}

	if msg.Description != "" {
		blocks = append(blocks, slackBlock{
			Type:     "context",
			Elements: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("Alert: %s", msg.Description)}},
		})
	}

	if len(msg.Context) > 0 {
		keys := make([]string, 0, len(msg.Context))
		for k := range msg.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("`%s=%v`", k, msg.Context[k])
		}
		blocks = append(blocks, slackBlock{
			Type:     "context",
			Elements: []slackText{{Type: "mrkdwn", Text: strings.Join(parts, " ")}},
		})
	}

	return slackMessage{
		Text:   fmt.Sprintf("[%s] %s: %s", msg.Severity, msg.AlertName, msg.Text),
		Blocks: blocks,
	}
}

func severityEmoji(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "\U0001F534"
	case models.SeverityHigh:
		return "\U0001F7E0"
	case models.SeverityMedium:
		return "\U0001F7E1"
	case models.SeverityLow:
		return "\U0001F7E2"
	default:
		return "⚪"
	}
}

// truncate truncates a string to max bytes with an ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
