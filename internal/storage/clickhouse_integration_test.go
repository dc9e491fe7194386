//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// Integration tests require running ClickHouse.
// Run with: go test -tags=integration ./internal/storage/...

func setupClickHouseTest(t *testing.T) (*ClickHouseStorage, func()) {
	t.Helper()

	store := NewClickHouseStorage(&ClickHouseConfig{
		Addresses:     []string{"localhost:9000"},
		Database:      "lognexus_test",
		Username:      "default",
		MaxOpenConns:  2,
		MaxIdleConns:  2,
		DialTimeout:   5 * time.Second,
		Compression:   true,
		RetentionDays: 1,
	})
	if err := store.Open(); err != nil {
		t.Skipf("ClickHouse not available: %v", err)
	}
	require.NoError(t, store.Migrate())

	cleanup := func() {
		store.db.Exec("TRUNCATE TABLE logs")
		store.Close()
	}
	return store, cleanup
}

func TestClickHouseStorage_InsertAndCount_Integration(t *testing.T) {
	store, cleanup := setupClickHouseTest(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now().UTC()

	entries := []*models.LogEntry{
		{Timestamp: now, Level: models.LevelError, Message: "Connection TIMEOUT", ServerName: "web-1"},
		{Timestamp: now, Level: models.LevelWarning, Message: "slow query", ServerName: "web-1"},
		{Timestamp: now, Level: models.LevelCritical, Message: "disk failure", ServerName: "db-1"},
	}
	require.NoError(t, store.Logs().InsertBatch(ctx, entries))

	window := &LogFilter{StartTime: now.Add(-time.Minute), EndTime: now.Add(time.Minute)}

	count, err := store.Logs().Count(ctx, &LogFilter{
		StartTime: window.StartTime, EndTime: window.EndTime, MinLevel: models.LevelError,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	result, err := store.Logs().Query(ctx, &LogFilter{
		StartTime: window.StartTime, EndTime: window.EndTime, MessageContains: "timeout",
	})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "web-1", result.Entries[0].ServerName)
}
