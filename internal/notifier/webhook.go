package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Webhook payload formats.
const (
	FormatGeneric = "generic"
	FormatSlack   = "slack"
	FormatTeams   = "teams"
)

// WebhookConfig configures outbound webhook delivery.
type WebhookConfig struct {
	Timeout time.Duration
	// AllowHTTP permits plain http:// targets.
	AllowHTTP bool
	Client    *http.Client
}

// WebhookNotifier posts alert payloads to webhook URLs. The payload shape
// follows the target: Slack and Teams incoming webhooks get their native
// card formats, anything else a flat JSON document.
type WebhookNotifier struct {
	httpClient *http.Client
	allowHTTP  bool
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(config WebhookConfig) *WebhookNotifier {
	client := config.Client
	if client == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &WebhookNotifier{httpClient: client, allowHTTP: config.AllowHTTP}
}

// ValidateURL checks that raw is an acceptable webhook target.
func (w *WebhookNotifier) ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("webhook URL has no host")
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !w.allowHTTP {
			return nil, fmt.Errorf("webhook URL must use HTTPS")
		}
	default:
		return nil, fmt.Errorf("unsupported webhook scheme %q", u.Scheme)
	}
	return u, nil
}

// DetectFormat picks the payload format for a webhook URL.
func DetectFormat(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "hooks.slack.com":
		return FormatSlack
	case strings.HasSuffix(host, ".webhook.office.com"), host == "outlook.office.com":
		return FormatTeams
	}
	return FormatGeneric
}

// genericPayload is the JSON document posted to non-chat webhooks.
type genericPayload struct {
	Event       string         `json:"event"`
	AlertID     string         `json:"alert_id"`
	AlertName   string         `json:"alert_name"`
	AlertType   string         `json:"alert_type"`
	InstanceID  string         `json:"instance_id"`
	Severity    string         `json:"severity"`
	Message     string         `json:"message"`
	TriggeredAt time.Time      `json:"triggered_at"`
	JobID       string         `json:"job_id,omitempty"`
	ServerName  string         `json:"server_name,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

func buildGenericPayload(msg *Message) genericPayload {
	return genericPayload{
		Event:       "alert.triggered",
		AlertID:     msg.AlertID,
		AlertName:   msg.AlertName,
		AlertType:   string(msg.Type),
		InstanceID:  msg.InstanceID,
		Severity:    string(msg.Severity),
		Message:     msg.Text,
		TriggeredAt: msg.TriggeredAt,
		JobID:       msg.JobID,
		ServerName:  msg.ServerName,
		Context:     msg.Context,
	}
}

// SendWebhook implements WebhookSender.
func (w *WebhookNotifier) SendWebhook(ctx context.Context, target string, msg *Message) error {
	u, err := w.ValidateURL(target)
	if err != nil {
		return err
	}

	var payload any
	format := DetectFormat(u)
	switch format {
	case FormatSlack:
		payload = buildSlackPayload(msg)
	case FormatTeams:
		payload = buildTeamsPayload(msg)
	default:
		payload = buildGenericPayload(msg)
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s webhook error: status %d, body: %s", format, resp.StatusCode, string(body))
	}
	return nil
}
