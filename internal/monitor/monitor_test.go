package monitor

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

func setupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())
	return store
}

func newTriggerService(store *storage.SQLiteStorage, clock *testClock) *alerting.TriggerService {
	eval := alerting.NewEvaluator(alerting.NewStoreFacts(store, store.Logs()), alerting.EvaluatorConfig{
		ServerTimeout: 5 * time.Minute,
		Clock:         clock.Now,
	})
	return alerting.NewTriggerService(store, eval, nil, nil, alerting.TriggerConfig{Clock: clock.Now})
}

func instancesOf(t *testing.T, store storage.Storage, alertID string) []*models.AlertInstance {
	t.Helper()
	list, err := store.Instances().List(context.Background(), storage.InstanceFilter{AlertID: alertID})
	require.NoError(t, err)
	return list
}

func TestCheck_MarksSilentServerOfflineAndFiresOnce(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	clock := &testClock{now: t0}

	_, current, err := store.Servers().RecordHeartbeat(ctx, models.NewServer("SRV01"), t0)
	require.NoError(t, err)
	require.Equal(t, models.ServerStatusOnline, current)

	alert := models.NewAlert("server offline", models.SeverityCritical, &models.ServerOfflineCondition{}, 60)
	require.NoError(t, store.Alerts().Create(ctx, alert))

	hub := broadcast.NewHub(8, nil)
	sub := hub.Subscribe(broadcast.EventServerStatusChanged)
	defer hub.Unsubscribe(sub)

	m := New(store.Servers(), newTriggerService(store, clock), hub, Config{
		Timeout: 5 * time.Minute,
		Clock:   clock.Now,
	})

	clock.Advance(6 * time.Minute)
	res, err := m.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"SRV01"}, res.MarkedOffline)
	assert.Empty(t, res.Errors)

	srv, err := store.Servers().GetByName(ctx, "SRV01")
	require.NoError(t, err)
	assert.Equal(t, models.ServerStatusOffline, srv.Status)

	insts := instancesOf(t, store, alert.ID)
	require.Len(t, insts, 1)
	assert.Equal(t, "SRV01", insts[0].ServerName)

	select {
	case ev := <-sub.Events:
		change := ev.Data.(broadcast.ServerStatusChange)
		assert.Equal(t, models.ServerStatusOnline, change.PreviousStatus)
		assert.Equal(t, models.ServerStatusOffline, change.Status)
	default:
		t.Fatal("expected status change event")
	}

	// Already offline: no new transition, no new instance.
	clock.Advance(time.Minute)
	res, err = m.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unresponsive)
	assert.Empty(t, res.MarkedOffline)
	assert.Len(t, instancesOf(t, store, alert.ID), 1)
}

func TestCheck_ScopedAlerts(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	clock := &testClock{now: t0}

	for _, name := range []string{"SRV01", "SRV02"} {
		_, _, err := store.Servers().RecordHeartbeat(ctx, models.NewServer(name), t0)
		require.NoError(t, err)
	}
	_, _, err := store.Servers().RecordHeartbeat(ctx, models.NewServer("SRV02"), t0.Add(5*time.Minute))
	require.NoError(t, err)

	srv01 := models.NewAlert("srv01", models.SeverityHigh, &models.ServerOfflineCondition{}, 60)
	srv01.Scope.ServerName = "SRV01"
	srv02 := models.NewAlert("srv02", models.SeverityHigh, &models.ServerOfflineCondition{}, 60)
	srv02.Scope.ServerName = "SRV02"
	require.NoError(t, store.Alerts().Create(ctx, srv01))
	require.NoError(t, store.Alerts().Create(ctx, srv02))

	m := New(store.Servers(), newTriggerService(store, clock), nil, Config{Timeout: 5 * time.Minute, Clock: clock.Now})
	clock.Advance(6 * time.Minute)

	res, err := m.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"SRV01"}, res.MarkedOffline)
	assert.Len(t, instancesOf(t, store, srv01.ID), 1)
	assert.Empty(t, instancesOf(t, store, srv02.ID))
}

func TestCheck_NeverHeartbeatAfterInitialDelay(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	clock := &testClock{now: t0}

	ghost := models.NewServer("GHOST")
	ghost.CreatedAt = t0.Add(-10 * time.Minute)
	require.NoError(t, store.Servers().Upsert(ctx, ghost))

	m := New(store.Servers(), nil, nil, Config{
		Timeout:      5 * time.Minute,
		InitialDelay: 2 * time.Minute,
		Clock:        clock.Now,
	})

	clock.Advance(time.Minute)
	res, err := m.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.MarkedOffline, "nothing is marked offline during the initial delay")

	fresh := models.NewServer("FRESH")
	fresh.CreatedAt = clock.Now()
	require.NoError(t, store.Servers().Upsert(ctx, fresh))

	clock.Advance(90 * time.Second)
	res, err = m.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"GHOST"}, res.MarkedOffline)
}

func TestCheck_SkipsMaintenance(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	clock := &testClock{now: t0}

	_, _, err := store.Servers().RecordHeartbeat(ctx, models.NewServer("SRV01"), t0)
	require.NoError(t, err)
	require.NoError(t, store.Servers().SetStatus(ctx, "SRV01", models.ServerStatusMaintenance, t0))

	m := New(store.Servers(), nil, nil, Config{Timeout: time.Minute, Clock: clock.Now})
	clock.Advance(time.Hour)
	res, err := m.Check(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Unresponsive)
}

type flakyEvaluator struct {
	mu    sync.Mutex
	calls []string
}

func (f *flakyEvaluator) EvaluateAlertsFor(_ context.Context, event alerting.EventScope, _ ...models.AlertType) (*alerting.EvaluationReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, event.ServerName)
	if event.ServerName == "BAD" {
		return nil, errors.New("evaluator exploded")
	}
	return &alerting.EvaluationReport{}, nil
}

func TestCheck_IsolatesEvaluatorFailures(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	clock := &testClock{now: t0}
	for _, name := range []string{"BAD", "GOOD"} {
		_, _, err := store.Servers().RecordHeartbeat(ctx, models.NewServer(name), t0)
		require.NoError(t, err)
	}

	eval := &flakyEvaluator{}
	m := New(store.Servers(), eval, nil, Config{Timeout: time.Minute, Clock: clock.Now})
	clock.Advance(2 * time.Minute)

	res, err := m.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BAD", "GOOD"}, eval.calls)
	assert.Equal(t, []string{"GOOD"}, res.MarkedOffline)
	require.Len(t, res.Errors, 1)
	assert.ErrorContains(t, res.Errors[0], "evaluator exploded")

	for _, name := range []string{"BAD", "GOOD"} {
		srv, err := store.Servers().GetByName(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, models.ServerStatusOffline, srv.Status, name)
	}
}
