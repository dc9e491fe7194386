package alerting

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openTestStore(t *testing.T, path string) *storage.SQLiteStorage {
	t.Helper()
	store := storage.NewSQLiteStorage(path)
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())
	return store
}

func setupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	return openTestStore(t, filepath.Join(t.TempDir(), "alerting.db"))
}

func createAlert(t *testing.T, store storage.Storage, name string, cond models.Condition, throttle int) *models.Alert {
	t.Helper()
	alert := models.NewAlert(name, models.SeverityHigh, cond, throttle)
	require.NoError(t, store.Alerts().Create(context.Background(), alert))
	return alert
}

func insertLogs(t *testing.T, logs storage.LogRepository, level models.LogLevel, message string, times ...time.Time) {
	t.Helper()
	entries := make([]*models.LogEntry, len(times))
	for i, ts := range times {
		entries[i] = &models.LogEntry{Timestamp: ts, Level: level, Message: message}
	}
	require.NoError(t, logs.InsertBatch(context.Background(), entries))
}

// minutesAgo returns n timestamps spread over the minutes before now.
func minutesAgo(now time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = now.Add(-time.Duration(i+1) * time.Minute)
	}
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []*models.AlertInstance
	fail  bool
}

func (n *recordingNotifier) Notify(_ context.Context, alert *models.Alert, inst *models.AlertInstance) []models.NotificationRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, inst)
	rec := models.NotificationRecord{Channel: "webhook", Recipient: "https://hooks.example.com/a", Success: !n.fail, SentAt: testNow}
	if n.fail {
		rec.Error = "connection refused"
	}
	return []models.NotificationRecord{rec}
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func newDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
