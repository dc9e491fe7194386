package notifier

import (
	"fmt"
	"sort"
	"strings"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// teamsMessage represents the Teams webhook payload with an Adaptive Card.
type teamsMessage struct {
	Type        string            `json:"type"`
	Attachments []teamsAttachment `json:"attachments"`
}

type teamsAttachment struct {
	ContentType string       `json:"contentType"`
	ContentURL  *string      `json:"contentUrl"`
	Content     adaptiveCard `json:"content"`
}

type adaptiveCard struct {
	Schema  string `json:"$schema"`
	Type    string `json:"type"`
	Version string `json:"version"`
	Body    []any  `json:"body"`
}

type textBlock struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Size   string `json:"size,omitempty"`
	Weight string `json:"weight,omitempty"`
	Color  string `json:"color,omitempty"`
	Wrap   bool   `json:"wrap,omitempty"`
}

type factSet struct {
	Type  string `json:"type"`
	Facts []fact `json:"facts"`
}

type fact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type container struct {
	Type  string `json:"type"`
	Style string `json:"style,omitempty"`
	Items []any  `json:"items"`
}

func buildTeamsPayload(msg *Message) teamsMessage {
	emoji := severityEmoji(msg.Severity)

	body := []any{
		container{
			Type:  "Container",
			Style: teamsSeverityStyle(msg.Severity),
			Items: []any{
				textBlock{
					Type:   "TextBlock",
					Text:   fmt.Sprintf("%s LogNexus Alert: %s", emoji, msg.AlertName),
					Size:   "Large",
					Weight: "Bolder",
					Wrap:   true,
				},
			},
		},
	}

	facts := []fact{
		{Title: "Severity", Value: fmt.Sprintf("%s %s", emoji, strings.ToUpper(string(msg.Severity)))},
		{Title: "Time", Value: msg.TriggeredAt.Format("2006-01-02 15:04:05 MST")},
	}
	if msg.ServerName != "" {
		facts = append(facts, fact{Title: "Server", Value: msg.ServerName})
	}
	if msg.JobID != "" {
		facts = append(facts, fact{Title: "Job", Value: msg.JobID})
	}

	body = append(body,
		factSet{Type: "FactSet", Facts: facts},
		textBlock{Type: "TextBlock", Text: fmt.Sprintf("**Message:** %s", msg.Text), Wrap: true},
	)

	if msg.Description != "" {
		body = append(body, textBlock{
			Type:  "TextBlock",
			Text:  fmt.Sprintf("_Alert: %s_", msg.Description),
			Wrap:  true,
			Color: "light",
		})
	}

	if len(msg.Context) > 0 {
		keys := make([]string, 0, len(msg.Context))
		for k := range msg.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxFacts := make([]fact, len(keys))
		for i, k := range keys {
			ctxFacts[i] = fact{Title: k, Value: fmt.Sprint(msg.Context[k])}
		}
		body = append(body, factSet{Type: "FactSet", Facts: ctxFacts})
	}

	return teamsMessage{
		Type: "message",
		Attachments: []teamsAttachment{
			{
				ContentType: "application/vnd.microsoft.card.adaptive",
				Content: adaptiveCard{
					Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
					Type:    "AdaptiveCard",
					Version: "1.4",
					Body:    body,
				},
			},
		},
	}
}

// teamsSeverityStyle returns an Adaptive Card container style.
func teamsSeverityStyle(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "attention"
	case models.SeverityHigh:
		return "warning"
	case models.SeverityMedium:
		return "accent"
	case models.SeverityLow:
		return "good"
	default:
		return "default"
	}
}
