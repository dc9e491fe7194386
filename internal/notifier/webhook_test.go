package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestWebhookNotifierSendsGenericPayload(t *testing.T) {
	var received genericPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("failed to parse payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewWebhookNotifier(WebhookConfig{AllowHTTP: true})
	if err := n.SendWebhook(context.Background(), server.URL+"/hook", testMessage()); err != nil {
		t.Fatalf("SendWebhook failed: %v", err)
	}

	if received.Event != "alert.triggered" {
		t.Errorf("event = %q", received.Event)
	}
	if received.InstanceID != "i-1" || received.AlertName != "Backup failures" {
		t.Errorf("unexpected payload: %+v", received)
	}
	if received.AlertType != "JobFailure" || received.ServerName != "SRV01" {
		t.Errorf("unexpected payload: %+v", received)
	}
}

func TestWebhookNotifierHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	n := NewWebhookNotifier(WebhookConfig{AllowHTTP: true})
	err := n.SendWebhook(context.Background(), server.URL, testMessage())
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "status 500") || !strings.Contains(err.Error(), "boom") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWebhookNotifierContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	n := NewWebhookNotifier(WebhookConfig{AllowHTTP: true})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := n.SendWebhook(ctx, server.URL, testMessage()); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestWebhookValidateURL(t *testing.T) {
	strict := NewWebhookNotifier(WebhookConfig{})
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://hooks.example.com/x", false},
		{"http://hooks.example.com/x", true},
		{"ftp://hooks.example.com/x", true},
		{"https://", true},
		{"::not a url", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := strict.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://hooks.slack.com/services/T000/B000/XXX", FormatSlack},
		{"https://contoso.webhook.office.com/webhookb2/abc", FormatTeams},
		{"https://outlook.office.com/webhook/abc", FormatTeams},
		{"https://ops.example.com/hooks/alerts", FormatGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.want+" "+tt.url, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			if err != nil {
				t.Fatal(err)
			}
			if got := DetectFormat(u); got != tt.want {
				t.Errorf("DetectFormat(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestSlackPayload(t *testing.T) {
	payload := buildSlackPayload(testMessage())

	if len(payload.Blocks) < 4 {
		t.Fatalf("expected at least 4 blocks, got %d", len(payload.Blocks))
	}
	header := payload.Blocks[0]
	if header.Type != "header" || !strings.Contains(header.Text.Text, "Backup failures") {
		t.Errorf("unexpected header block: %+v", header)
	}
	if !strings.Contains(payload.Blocks[1].Fields[0].Text, "HIGH") {
		t.Errorf("severity field missing: %+v", payload.Blocks[1].Fields)
	}
	if !strings.HasPrefix(payload.Text, "[High] Backup failures") {
		t.Errorf("fallback text = %q", payload.Text)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "consecutive_failures=3") {
		t.Error("context block missing")
	}
}

func TestTeamsPayload(t *testing.T) {
	payload := buildTeamsPayload(testMessage())

	if payload.Type != "message" || len(payload.Attachments) != 1 {
		t.Fatalf("unexpected envelope: %+v", payload)
	}
	card := payload.Attachments[0].Content
	if card.Type != "AdaptiveCard" || card.Version != "1.4" {
		t.Errorf("unexpected card: %s %s", card.Type, card.Version)
	}
	header, ok := card.Body[0].(container)
	if !ok {
		t.Fatalf("first body element is %T", card.Body[0])
	}
	if header.Style != "warning" {
		t.Errorf("header style = %q, want warning", header.Style)
	}
	facts := card.Body[1].(factSet).Facts
	var sawServer bool
	for _, f := range facts {
		if f.Title == "Server" && f.Value == "SRV01" {
			sawServer = true
		}
	}
	if !sawServer {
		t.Errorf("server fact missing: %+v", facts)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("abcdefghij", 8); got != "abcde..." {
		t.Errorf("truncate long = %q", got)
	}
}
