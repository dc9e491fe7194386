package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/internal/broadcast"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

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

type memorySink struct {
	mu      sync.Mutex
	entries []*models.LogEntry
	err     error
}

func (m *memorySink) AddBatch(entries []*models.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entries...)
	return nil
}

type fixture struct {
	store *storage.SQLiteStorage
	sink  *memorySink
	hub   *broadcast.Hub
	clock *testClock
	svc   *Service
}

func newFixture(t *testing.T, withAlerts bool) *fixture {
	t.Helper()
	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	f := &fixture{
		store: store,
		sink:  &memorySink{},
		hub:   broadcast.NewHub(16, nil),
		clock: &testClock{now: t0},
	}
	var alerts AlertEvaluator
	if withAlerts {
		eval := alerting.NewEvaluator(alerting.NewStoreFacts(store, store.Logs()), alerting.EvaluatorConfig{Clock: f.clock.Now})
		alerts = alerting.NewTriggerService(store, eval, nil, nil, alerting.TriggerConfig{Clock: f.clock.Now})
	}
	f.svc = NewService(store, f.sink, alerts, f.hub, Config{Clock: f.clock.Now})
	return f
}

func nextEvent(t *testing.T, sub *broadcast.Subscription) broadcast.Event {
	t.Helper()
	select {
	case ev := <-sub.Events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return broadcast.Event{}
	}
}

func TestRecordHeartbeat(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	sub := f.hub.Subscribe(broadcast.EventServerStatusChanged)

	srv, err := f.svc.RecordHeartbeat(ctx, Heartbeat{ServerName: "SRV01", AgentVersion: "1.2.0"})
	require.NoError(t, err)
	assert.Equal(t, models.ServerStatusOnline, srv.Status)
	require.NotNil(t, srv.LastHeartbeat)
	assert.True(t, srv.LastHeartbeat.Equal(t0))
	assert.Equal(t, "1.2.0", srv.AgentVersion)

	ev := nextEvent(t, sub)
	change := ev.Data.(broadcast.ServerStatusChange)
	assert.Equal(t, "SRV01", change.ServerName)
	assert.Equal(t, models.ServerStatus(""), change.PreviousStatus)
	assert.Equal(t, models.ServerStatusOnline, change.Status)

	// A second heartbeat does not change the status and is not broadcast.
	f.clock.Advance(30 * time.Second)
	srv, err = f.svc.RecordHeartbeat(ctx, Heartbeat{ServerName: "SRV01"})
	require.NoError(t, err)
	assert.True(t, srv.LastHeartbeat.Equal(t0.Add(30*time.Second)))
	assert.Equal(t, "1.2.0", srv.AgentVersion)
	select {
	case ev := <-sub.Events:
		t.Fatalf("unexpected event %v", ev.Type)
	default:
	}
}

func TestRecordHeartbeatRejectsMissingName(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.RecordHeartbeat(context.Background(), Heartbeat{ServerName: "  "})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRecordHeartbeatRecoversOfflineServer(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.svc.RecordHeartbeat(ctx, Heartbeat{ServerName: "SRV01"})
	require.NoError(t, err)
	require.NoError(t, f.store.Servers().SetStatus(ctx, "SRV01", models.ServerStatusOffline, t0))

	sub := f.hub.Subscribe()
	srv, err := f.svc.RecordHeartbeat(ctx, Heartbeat{ServerName: "SRV01"})
	require.NoError(t, err)
	assert.Equal(t, models.ServerStatusOnline, srv.Status)

	change := nextEvent(t, sub).Data.(broadcast.ServerStatusChange)
	assert.Equal(t, models.ServerStatusOffline, change.PreviousStatus)
	assert.Equal(t, models.ServerStatusOnline, change.Status)
}

func TestSetMaintenance(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.svc.RecordHeartbeat(ctx, Heartbeat{ServerName: "SRV01"})
	require.NoError(t, err)

	srv, err := f.svc.SetMaintenance(ctx, "SRV01", true)
	require.NoError(t, err)
	assert.Equal(t, models.ServerStatusMaintenance, srv.Status)

	// Heartbeats keep a server in maintenance.
	srv, err = f.svc.RecordHeartbeat(ctx, Heartbeat{ServerName: "SRV01"})
	require.NoError(t, err)
	assert.Equal(t, models.ServerStatusMaintenance, srv.Status)

	srv, err = f.svc.SetMaintenance(ctx, "SRV01", false)
	require.NoError(t, err)
	assert.Equal(t, models.ServerStatusUnknown, srv.Status)

	_, err = f.svc.SetMaintenance(ctx, "missing", true)
	assert.ErrorIs(t, err, alerting.ErrNotFound)
}

func TestIngestLogsNormalizesEntries(t *testing.T) {
	f := newFixture(t, false)
	entries := []*models.LogEntry{
		{Level: "warn", Message: "disk almost full"},
		{Level: models.LevelError, Message: "write failed", Timestamp: t0.Add(-time.Minute), ID: "keep-me"},
	}

	n, err := f.svc.IngestLogs(context.Background(), entries)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, f.sink.entries, 2)
	first := f.sink.entries[0]
	assert.Equal(t, models.LevelWarning, first.Level)
	assert.True(t, first.Timestamp.Equal(t0))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "keep-me", f.sink.entries[1].ID)
}

func TestIngestLogsValidation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.IngestLogs(ctx, []*models.LogEntry{{Level: models.LevelError, Message: ""}})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = f.svc.IngestLogs(ctx, []*models.LogEntry{nil})
	assert.ErrorIs(t, err, ErrInvalid)

	big := make([]*models.LogEntry, MaxBatchSize+1)
	_, err = f.svc.IngestLogs(ctx, big)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Empty(t, f.sink.entries)

	n, err := f.svc.IngestLogs(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIngestLogsSinkError(t *testing.T) {
	f := newFixture(t, false)
	f.sink.err = errors.New("buffer closed")
	_, err := f.svc.IngestLogs(context.Background(), []*models.LogEntry{{Message: "x"}})
	assert.ErrorContains(t, err, "buffer closed")
}

func TestStartExecutionRegistersUnknownJob(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	exec, err := f.svc.StartExecution(ctx, &models.JobExecution{JobID: "backup", ServerName: "SRV01"})
	require.NoError(t, err)
	assert.NotEmpty(t, exec.ID)
	assert.Equal(t, models.ExecutionRunning, exec.Status)

	job, err := f.store.Jobs().GetByID(ctx, "backup")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "SRV01", job.ServerName)
	assert.True(t, job.IsActive)

	_, err = f.svc.StartExecution(ctx, &models.JobExecution{})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestCompleteExecution(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	exec, err := f.svc.StartExecution(ctx, &models.JobExecution{JobID: "backup"})
	require.NoError(t, err)
	f.clock.Advance(1500 * time.Millisecond)

	done, err := f.svc.CompleteExecution(ctx, exec.ID, models.ExecutionSuccess, "", "ok")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSuccess, done.Status)
	require.NotNil(t, done.DurationMs)
	assert.Equal(t, int64(1500), *done.DurationMs)

	_, err = f.svc.CompleteExecution(ctx, exec.ID, models.ExecutionFailed, "", "")
	assert.ErrorIs(t, err, ErrExecutionFinished)

	_, err = f.svc.CompleteExecution(ctx, "missing", models.ExecutionFailed, "", "")
	assert.ErrorIs(t, err, alerting.ErrNotFound)

	_, err = f.svc.CompleteExecution(ctx, exec.ID, models.ExecutionRunning, "", "")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSetJobActive(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.svc.RegisterJob(ctx, &models.Job{ID: "backup", IsActive: true}))
	f.clock.Advance(time.Minute)

	job, err := f.svc.SetJobActive(ctx, "backup", false)
	require.NoError(t, err)
	assert.False(t, job.IsActive)

	stored, err := f.store.Jobs().GetByID(ctx, "backup")
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.True(t, stored.UpdatedAt.Equal(t0.Add(time.Minute)))

	job, err = f.svc.SetJobActive(ctx, "backup", false)
	require.NoError(t, err)
	assert.False(t, job.IsActive)

	_, err = f.svc.SetJobActive(ctx, "missing", true)
	assert.ErrorIs(t, err, alerting.ErrNotFound)
}

func TestRunningExecutions(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	first, err := f.svc.StartExecution(ctx, &models.JobExecution{JobID: "backup"})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	second, err := f.svc.StartExecution(ctx, &models.JobExecution{JobID: "report"})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	done, err := f.svc.StartExecution(ctx, &models.JobExecution{JobID: "backup"})
	require.NoError(t, err)
	_, err = f.svc.CompleteExecution(ctx, done.ID, models.ExecutionSuccess, "", "")
	require.NoError(t, err)

	running, err := f.svc.RunningExecutions(ctx, "")
	require.NoError(t, err)
	require.Len(t, running, 2)
	assert.Equal(t, second.ID, running[0].ID)
	assert.Equal(t, first.ID, running[1].ID)

	running, err = f.svc.RunningExecutions(ctx, "backup")
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, first.ID, running[0].ID)
}

func TestCompleteExecutionFiresJobFailureAlert(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	alert := models.NewAlert("backup failing", models.SeverityHigh, &models.JobFailureCondition{ConsecutiveFailures: 2}, 15)
	alert.Scope = models.Scope{JobID: "backup"}
	require.NoError(t, f.store.Alerts().Create(ctx, alert))

	fail := func() {
		exec, err := f.svc.StartExecution(ctx, &models.JobExecution{JobID: "backup"})
		require.NoError(t, err)
		f.clock.Advance(time.Second)
		_, err = f.svc.CompleteExecution(ctx, exec.ID, models.ExecutionFailed, "exit 1", "")
		require.NoError(t, err)
	}

	fail()
	list, err := f.store.Instances().List(ctx, storage.InstanceFilter{AlertID: alert.ID})
	require.NoError(t, err)
	assert.Empty(t, list)

	fail()
	list, err = f.store.Instances().List(ctx, storage.InstanceFilter{AlertID: alert.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "backup", list[0].JobID)
	assert.Contains(t, list[0].Message, "failed 2 consecutive times")

	// Further failures inside the throttle window add nothing.
	fail()
	list, err = f.store.Instances().List(ctx, storage.InstanceFilter{AlertID: alert.ID})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
