package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

func TestExprMatcher_Compile(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		wantErr    bool
	}{
		{name: "simple equality", expression: `level == "error"`},
		{name: "rank comparison", expression: `level_rank >= 4`},
		{name: "boolean AND", expression: `level == "error" && server_name == "SRV01"`},
		{name: "boolean OR", expression: `level == "error" || level == "critical"`},
		{name: "contains operator", expression: `message contains "timeout"`},
		{name: "property access", expression: `properties["tenant"] == "acme"`},
		{name: "invalid syntax", expression: `level == `, wantErr: true},
		{name: "undefined variable", expression: `unknown_field == "test"`, wantErr: true},
		{name: "not boolean", expression: `level_rank + 1`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExprMatcher(tt.expression)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewExprMatcher() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExprMatcher_Match(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		entry      *models.LogEntry
		want       bool
	}{
		{
			name:       "level equals error",
			expression: `level == "error"`,
			entry:      &models.LogEntry{Level: models.LevelError},
			want:       true,
		},
		{
			name:       "level equals error - no match",
			expression: `level == "error"`,
			entry:      &models.LogEntry{Level: models.LevelWarning},
		},
		{
			name:       "rank covers critical",
			expression: `level_rank >= 4`,
			entry:      &models.LogEntry{Level: models.LevelCritical},
			want:       true,
		},
		{
			name:       "message contains",
			expression: `message contains "deadlock" && job_id == "nightly"`,
			entry:      &models.LogEntry{Message: "deadlock detected", JobID: "nightly"},
			want:       true,
		},
		{
			name:       "exception present",
			expression: `exception != ""`,
			entry:      &models.LogEntry{Exception: "System.TimeoutException"},
			want:       true,
		},
		{
			name:       "property match",
			expression: `properties["tenant"] == "acme"`,
			entry:      &models.LogEntry{Properties: map[string]any{"tenant": "acme"}},
			want:       true,
		},
		{
			name:       "missing property",
			expression: `properties["tenant"] == "acme"`,
			entry:      &models.LogEntry{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewExprMatcher(tt.expression)
			if err != nil {
				t.Fatalf("NewExprMatcher() error = %v", err)
			}
			got, err := m.Match(tt.entry)
			if err != nil {
				t.Fatalf("Match() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExprQueryExecutor_CountPages(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)

	var entries []*models.LogEntry
	for i := 0; i < 25; i++ {
		level := models.LevelInformation
		if i%5 == 0 {
			level = models.LevelError
		}
		entries = append(entries, &models.LogEntry{
			Timestamp:  testNow.Add(-time.Duration(i) * time.Second),
			Level:      level,
			Message:    "entry",
			ServerName: "SRV01",
		})
	}
	entries = append(entries, &models.LogEntry{
		Timestamp: testNow, Level: models.LevelError, Message: "elsewhere", ServerName: "SRV02",
	})
	if err := store.Logs().InsertBatch(ctx, entries); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	x := NewExprQueryExecutor(store.Logs(), 0)
	x.pageSize = 4

	got, err := x.Count(ctx, `level == "error"`, testNow.Add(-time.Minute), testNow, models.Scope{ServerName: "SRV01"})
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if got != 5 {
		t.Errorf("Count() = %d, want 5", got)
	}

	if _, err := x.Count(ctx, `level ==`, testNow.Add(-time.Minute), testNow, models.Scope{}); err == nil {
		t.Error("Count() with invalid expression should fail")
	}
}
