package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/lognexus/internal/broadcast"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

func seedInstance(t *testing.T, store storage.Storage, alert *models.Alert, at time.Time) *models.AlertInstance {
	t.Helper()
	inst := &models.AlertInstance{
		ID:          uuid.NewString(),
		AlertID:     alert.ID,
		AlertName:   alert.Name,
		TriggeredAt: at,
		Status:      models.InstanceNew,
		Severity:    alert.Severity,
		Message:     "fired",
	}
	require.NoError(t, store.Instances().Create(context.Background(), inst))
	return inst
}

func newTestLifecycle(store storage.Storage, clock *testClock, events broadcast.Broadcaster) *Lifecycle {
	return NewLifecycle(store.Instances(), events, LifecycleConfig{Clock: clock.Now})
}

func TestLifecycle_ResolveThenAcknowledgeFails(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	clock := newTestClock(testNow)
	lc := newTestLifecycle(store, clock, nil)
	alert := createAlert(t, store, "a", &models.ServerOfflineCondition{}, 15)
	inst := seedInstance(t, store, alert, testNow.Add(-time.Minute))

	resolved, err := lc.Resolve(ctx, inst.ID, "alice", "fixed")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceResolved, resolved.Status)
	assert.Equal(t, "alice", resolved.ResolvedBy)
	assert.Equal(t, "fixed", resolved.ResolutionNote)
	require.NotNil(t, resolved.ResolvedAt)
	assert.True(t, resolved.ResolvedAt.Equal(testNow))

	clock.Advance(time.Minute)
	_, err = lc.Acknowledge(ctx, inst.ID, "bob", "")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	got, err := lc.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceResolved, got.Status)
	assert.Nil(t, got.AcknowledgedAt)
	assert.Empty(t, got.AcknowledgedBy)
}

func TestLifecycle_TransitionLegality(t *testing.T) {
	ctx := context.Background()

	type step struct {
		to models.InstanceStatus
		ok bool
	}
	tests := []struct {
		name  string
		steps []step
	}{
		{"ack then resolve", []step{{models.InstanceAcknowledged, true}, {models.InstanceResolved, true}}},
		{"resolve without ack", []step{{models.InstanceResolved, true}}},
		{"suppress new", []step{{models.InstanceSuppressed, true}}},
		{"ack then suppress", []step{{models.InstanceAcknowledged, true}, {models.InstanceSuppressed, true}}},
		{"ack twice", []step{{models.InstanceAcknowledged, true}, {models.InstanceAcknowledged, false}}},
		{"resolve twice", []step{{models.InstanceResolved, true}, {models.InstanceResolved, false}}},
		{"suppress resolved", []step{{models.InstanceResolved, true}, {models.InstanceSuppressed, false}}},
		{"resolve suppressed", []step{{models.InstanceSuppressed, true}, {models.InstanceResolved, false}}},
		{"ack suppressed", []step{{models.InstanceSuppressed, true}, {models.InstanceAcknowledged, false}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupTestDB(t)
			lc := newTestLifecycle(store, newTestClock(testNow), nil)
			alert := createAlert(t, store, "a", &models.ServerOfflineCondition{}, 15)
			inst := seedInstance(t, store, alert, testNow)

			want := models.InstanceNew
			for _, s := range tt.steps {
				var err error
				switch s.to {
				case models.InstanceAcknowledged:
					_, err = lc.Acknowledge(ctx, inst.ID, "op", "")
				case models.InstanceResolved:
					_, err = lc.Resolve(ctx, inst.ID, "op", "")
				case models.InstanceSuppressed:
					_, err = lc.Suppress(ctx, inst.ID, "op", "")
				}
				if s.ok {
					require.NoError(t, err)
					want = s.to
				} else {
					require.ErrorIs(t, err, ErrIllegalTransition)
				}
				got, err := lc.Get(ctx, inst.ID)
				require.NoError(t, err)
				assert.Equal(t, want, got.Status)
			}
		})
	}
}

func TestLifecycle_AcknowledgeRecordsActor(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	hub := broadcast.NewHub(4, nil)
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)
	lc := newTestLifecycle(store, newTestClock(testNow), hub)
	alert := createAlert(t, store, "a", &models.ServerOfflineCondition{}, 15)
	inst := seedInstance(t, store, alert, testNow)

	got, err := lc.Acknowledge(ctx, inst.ID, "bob", "looking")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.AcknowledgedBy)
	assert.Equal(t, "looking", got.AcknowledgementNote)
	require.NotNil(t, got.AcknowledgedAt)

	ev := <-sub.Events
	assert.Equal(t, broadcast.EventAlertAcknowledged, ev.Type)
}

func TestLifecycle_Missing(t *testing.T) {
	store := setupTestDB(t)
	lc := newTestLifecycle(store, newTestClock(testNow), nil)

	_, err := lc.Resolve(context.Background(), "nope", "alice", "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = lc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLifecycle_BulkSkipsIneligible(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	lc := newTestLifecycle(store, newTestClock(testNow), nil)
	alert := createAlert(t, store, "a", &models.ServerOfflineCondition{}, 15)

	fresh := seedInstance(t, store, alert, testNow)
	acked := seedInstance(t, store, alert, testNow)
	resolved := seedInstance(t, store, alert, testNow)
	_, err := lc.Acknowledge(ctx, acked.ID, "op", "")
	require.NoError(t, err)
	_, err = lc.Resolve(ctx, resolved.ID, "op", "")
	require.NoError(t, err)

	res, err := lc.BulkAcknowledge(ctx, []string{fresh.ID, acked.ID, resolved.ID, "missing", fresh.ID}, "op", "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Transitioned)
	assert.ElementsMatch(t, []string{acked.ID, resolved.ID, "missing"}, res.Skipped)

	res, err = lc.BulkResolve(ctx, []string{fresh.ID, acked.ID, resolved.ID}, "op", "done")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Transitioned)
	assert.Equal(t, []string{resolved.ID}, res.Skipped)
}

func TestLifecycle_DeleteOldResolved(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	lc := newTestLifecycle(store, newTestClock(testNow), nil)
	alert := createAlert(t, store, "a", &models.ServerOfflineCondition{}, 15)

	old := testNow.Add(-90 * 24 * time.Hour)
	oldNew := seedInstance(t, store, alert, old)
	oldAcked := seedInstance(t, store, alert, old)
	oldResolved := seedInstance(t, store, alert, old)
	oldSuppressed := seedInstance(t, store, alert, old)
	recentResolved := seedInstance(t, store, alert, testNow)

	_, err := lc.Acknowledge(ctx, oldAcked.ID, "op", "")
	require.NoError(t, err)
	_, err = lc.Resolve(ctx, oldResolved.ID, "op", "")
	require.NoError(t, err)
	_, err = lc.Suppress(ctx, oldSuppressed.ID, "op", "")
	require.NoError(t, err)
	_, err = lc.Resolve(ctx, recentResolved.ID, "op", "")
	require.NoError(t, err)

	n, err := lc.DeleteOldResolved(ctx, testNow.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, id := range []string{oldNew.ID, oldAcked.ID, recentResolved.ID} {
		_, err := lc.Get(ctx, id)
		assert.NoError(t, err, id)
	}
	for _, id := range []string{oldResolved.ID, oldSuppressed.ID} {
		_, err := lc.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
}
