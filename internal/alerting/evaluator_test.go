package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

func ptr[T any](v T) *T { return &v }

func executions(statuses ...models.ExecutionStatus) []*models.JobExecution {
	out := make([]*models.JobExecution, len(statuses))
	for i, s := range statuses {
		out[i] = &models.JobExecution{ID: string(rune('a' + i)), JobID: "nightly", Status: s}
	}
	return out
}

func TestEvaluate(t *testing.T) {
	job := &models.Job{ID: "nightly", DisplayName: "Nightly backup", ServerName: "SRV01"}
	heartbeat := func(ago time.Duration) *time.Time { return ptr(testNow.Add(-ago)) }

	tests := []struct {
		name  string
		cond  models.Condition
		facts Facts
		fire  bool
		msg   string
	}{
		{
			name:  "error threshold reached",
			cond:  &models.ErrorThresholdCondition{Threshold: 10, WindowMinutes: 60, Level: models.LevelError},
			facts: Facts{Count: 12},
			fire:  true,
			msg:   "Error threshold exceeded: 12 Error+ logs in last 60 minutes (threshold: 10)",
		},
		{
			name:  "error threshold at exactly threshold",
			cond:  &models.ErrorThresholdCondition{Threshold: 10, WindowMinutes: 60, Level: models.LevelError},
			facts: Facts{Count: 10},
			fire:  true,
		},
		{
			name:  "error threshold below",
			cond:  &models.ErrorThresholdCondition{Threshold: 10, WindowMinutes: 60, Level: models.LevelError},
			facts: Facts{Count: 9},
		},
		{
			name: "consecutive failures reset by success",
			cond: &models.JobFailureCondition{ConsecutiveFailures: 2},
			facts: Facts{Job: job, History: executions(
				models.ExecutionFailed, models.ExecutionFailed, models.ExecutionSuccess, models.ExecutionFailed)},
		},
		{
			name: "consecutive failures reached",
			cond: &models.JobFailureCondition{ConsecutiveFailures: 2},
			facts: Facts{Job: job, History: executions(
				models.ExecutionSuccess, models.ExecutionFailed, models.ExecutionFailed)},
			fire: true,
			msg:  "Job Nightly backup (nightly) failed 2 consecutive times (threshold: 2)",
		},
		{
			name: "timeouts ignored without include_timeout",
			cond: &models.JobFailureCondition{ConsecutiveFailures: 2},
			facts: Facts{Job: job, History: executions(
				models.ExecutionFailed, models.ExecutionTimedOut)},
		},
		{
			name: "timeouts counted with include_timeout",
			cond: &models.JobFailureCondition{ConsecutiveFailures: 2, IncludeTimeout: true},
			facts: Facts{Job: job, History: executions(
				models.ExecutionFailed, models.ExecutionTimedOut)},
			fire: true,
		},
		{
			name: "server heartbeat stale",
			cond: &models.ServerOfflineCondition{TimeoutMinutes: 5},
			facts: Facts{Now: testNow, Servers: []*models.Server{
				{Name: "SRV01", IsActive: true, Status: models.ServerStatusOffline, LastHeartbeat: heartbeat(6 * time.Minute)},
			}},
			fire: true,
			msg:  "Server SRV01 is offline: no heartbeat for 6 minutes (timeout: 5 minutes)",
		},
		{
			name: "server heartbeat at timeout is not stale",
			cond: &models.ServerOfflineCondition{TimeoutMinutes: 5},
			facts: Facts{Now: testNow, Servers: []*models.Server{
				{Name: "SRV01", IsActive: true, LastHeartbeat: heartbeat(5 * time.Minute)},
			}},
		},
		{
			name: "server never seen",
			cond: &models.ServerOfflineCondition{TimeoutMinutes: 5},
			facts: Facts{Now: testNow, Servers: []*models.Server{
				{Name: "SRV02", IsActive: true},
			}},
			fire: true,
			msg:  "Server SRV02 is offline: no heartbeat ever received",
		},
		{
			name: "server in maintenance ignored",
			cond: &models.ServerOfflineCondition{},
			facts: Facts{Now: testNow, ServerTimeout: time.Minute, Servers: []*models.Server{
				{Name: "SRV01", IsActive: true, Status: models.ServerStatusMaintenance},
				{Name: "SRV03", IsActive: false},
			}},
		},
		{
			name: "server default timeout",
			cond: &models.ServerOfflineCondition{},
			facts: Facts{Now: testNow, ServerTimeout: 2 * time.Minute, Servers: []*models.Server{
				{Name: "SRV01", IsActive: true, LastHeartbeat: heartbeat(3 * time.Minute)},
				{Name: "SRV02", IsActive: true, LastHeartbeat: heartbeat(3 * time.Minute)},
			}},
			fire: true,
			msg:  "2 servers offline (timeout: 2 minutes): SRV01, SRV02",
		},
		{
			name: "duration over max",
			cond: &models.DurationExceededCondition{MaxDurationMs: ptr(int64(60000))},
			facts: Facts{Execution: &models.JobExecution{
				ID: "e1", JobID: "nightly", DurationMs: ptr(int64(90000))}},
			fire: true,
			msg:  "Job nightly execution took 90000ms (max: 60000ms)",
		},
		{
			name: "duration over expected percentage",
			cond: &models.DurationExceededCondition{PercentageOverExpected: ptr(50.0)},
			facts: Facts{
				Execution:          &models.JobExecution{ID: "e1", JobID: "nightly", DurationMs: ptr(int64(16000))},
				ExpectedDurationMs: ptr(10000.0),
			},
			fire: true,
			msg:  "Job nightly execution took 16000ms, 60.0% over expected 10000ms (limit: 50.0%)",
		},
		{
			name: "duration within expected percentage",
			cond: &models.DurationExceededCondition{PercentageOverExpected: ptr(50.0)},
			facts: Facts{
				Execution:          &models.JobExecution{ID: "e1", JobID: "nightly", DurationMs: ptr(int64(15000))},
				ExpectedDurationMs: ptr(10000.0),
			},
		},
		{
			name: "duration either bound satisfies",
			cond: &models.DurationExceededCondition{MaxDurationMs: ptr(int64(100000)), PercentageOverExpected: ptr(10.0)},
			facts: Facts{
				Execution:          &models.JobExecution{ID: "e1", JobID: "nightly", DurationMs: ptr(int64(12000))},
				ExpectedDurationMs: ptr(10000.0),
			},
			fire: true,
		},
		{
			name: "duration without expected history",
			cond: &models.DurationExceededCondition{PercentageOverExpected: ptr(10.0)},
			facts: Facts{
				Execution: &models.JobExecution{ID: "e1", JobID: "nightly", DurationMs: ptr(int64(12000))},
			},
		},
		{
			name:  "pattern matched",
			cond:  &models.PatternMatchCondition{Pattern: "timeout", MatchCount: 3, WindowMinutes: 10},
			facts: Facts{Count: 3},
			fire:  true,
			msg:   `Pattern "timeout" matched 3 times in last 10 minutes (threshold: 3)`,
		},
		{
			name:  "custom query below threshold",
			cond:  &models.CustomQueryCondition{Query: "level_rank >= 4", Threshold: 5, WindowMinutes: 10},
			facts: Facts{Count: 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Evaluate(tt.cond, &tt.facts)
			require.NoError(t, err)
			assert.Equal(t, tt.fire, res.ShouldFire)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, res.Message)
			}
			if !tt.fire {
				assert.Empty(t, res.Message)
			}
		})
	}
}

func TestEvaluateNilCondition(t *testing.T) {
	_, err := Evaluate(nil, &Facts{})
	assert.Error(t, err)
}

// fakeFacts is an in-memory FactSource.
type fakeFacts struct {
	logCount  int64
	lastCount countCall
	messages  []string
	pages     int
	jobs      []*models.Job
	history   map[string][]*models.JobExecution
	execs     map[string]*models.JobExecution
	latest    *models.JobExecution
	avg       float64
	avgN      int
	servers   []*models.Server
	err       error
}

type countCall struct {
	start, end time.Time
	scope      models.Scope
	level      models.LogLevel
}

func (f *fakeFacts) CountLogs(_ context.Context, level models.LogLevel, start, end time.Time, scope models.Scope) (int64, error) {
	f.lastCount.start, f.lastCount.end, f.lastCount.scope, f.lastCount.level = start, end, scope, level
	return f.logCount, f.err
}

func (f *fakeFacts) LogMessages(_ context.Context, _, _ time.Time, _ models.Scope, _ string, limit, offset int) ([]string, bool, error) {
	f.pages++
	if f.err != nil || offset >= len(f.messages) {
		return nil, false, f.err
	}
	end := min(offset+limit, len(f.messages))
	return f.messages[offset:end], end < len(f.messages), nil
}

func (f *fakeFacts) Jobs(context.Context) ([]*models.Job, error) { return f.jobs, f.err }

func (f *fakeFacts) Job(_ context.Context, id string) (*models.Job, error) {
	for _, j := range f.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return nil, f.err
}

func (f *fakeFacts) RecentExecutions(_ context.Context, jobID string, _ int) ([]*models.JobExecution, error) {
	return f.history[jobID], f.err
}

func (f *fakeFacts) Execution(_ context.Context, id string) (*models.JobExecution, error) {
	return f.execs[id], f.err
}

func (f *fakeFacts) LatestCompletedExecution(context.Context, string) (*models.JobExecution, error) {
	return f.latest, f.err
}

func (f *fakeFacts) AverageSuccessDuration(context.Context, string, string, int) (float64, int, error) {
	return f.avg, f.avgN, f.err
}

func (f *fakeFacts) Servers(context.Context) ([]*models.Server, error) { return f.servers, f.err }

func (f *fakeFacts) Server(_ context.Context, name string) (*models.Server, error) {
	for _, s := range f.servers {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, f.err
}

func newTestEvaluator(facts FactSource, queries CustomQueryExecutor) *Evaluator {
	return NewEvaluator(facts, EvaluatorConfig{
		Queries: queries,
		Clock:   func() time.Time { return testNow },
	})
}

func TestEvaluatorCheck_ErrorThresholdWindow(t *testing.T) {
	facts := &fakeFacts{logCount: 12}
	e := newTestEvaluator(facts, nil)
	alert := models.NewAlert("errors", models.SeverityHigh,
		&models.ErrorThresholdCondition{Threshold: 10, WindowMinutes: 60, Level: models.LevelError}, 15)
	alert.Scope.ServerName = "SRV01"

	res, err := e.Check(context.Background(), alert, EventScope{})
	require.NoError(t, err)
	assert.True(t, res.ShouldFire)
	assert.Equal(t, "SRV01", res.ServerName)
	assert.Equal(t, testNow.Add(-time.Hour), facts.lastCount.start)
	assert.Equal(t, testNow, facts.lastCount.end)
	assert.Equal(t, models.LevelError, facts.lastCount.level)
	assert.Equal(t, models.Scope{ServerName: "SRV01"}, facts.lastCount.scope)
}

func TestEvaluatorCheck_EventOutsideScope(t *testing.T) {
	facts := &fakeFacts{logCount: 100}
	e := newTestEvaluator(facts, nil)
	alert := models.NewAlert("errors", models.SeverityHigh,
		&models.ErrorThresholdCondition{Threshold: 1, WindowMinutes: 5, Level: models.LevelError}, 15)
	alert.Scope.ServerName = "SRV01"

	res, err := e.Check(context.Background(), alert, EventScope{ServerName: "SRV02"})
	require.NoError(t, err)
	assert.False(t, res.ShouldFire)
}

func TestEvaluatorCheck_JobFailureUnscoped(t *testing.T) {
	facts := &fakeFacts{
		jobs: []*models.Job{
			{ID: "healthy", IsActive: true},
			{ID: "broken", IsActive: true, ServerName: "SRV01"},
			{ID: "retired", IsActive: false},
		},
		history: map[string][]*models.JobExecution{
			"healthy": executions(models.ExecutionFailed, models.ExecutionSuccess),
			"broken":  executions(models.ExecutionFailed, models.ExecutionFailed, models.ExecutionFailed),
			"retired": executions(models.ExecutionFailed, models.ExecutionFailed, models.ExecutionFailed),
		},
	}
	e := newTestEvaluator(facts, nil)
	alert := models.NewAlert("failures", models.SeverityCritical, &models.JobFailureCondition{ConsecutiveFailures: 3}, 15)

	res, err := e.Check(context.Background(), alert, EventScope{})
	require.NoError(t, err)
	assert.True(t, res.ShouldFire)
	assert.Equal(t, "broken", res.JobID)
	assert.Equal(t, "SRV01", res.ServerName)
}

func TestEvaluatorCheck_JobFailureSequenceWithReset(t *testing.T) {
	facts := &fakeFacts{
		history: map[string][]*models.JobExecution{
			"nightly": executions(models.ExecutionFailed, models.ExecutionFailed, models.ExecutionSuccess, models.ExecutionFailed),
		},
	}
	e := newTestEvaluator(facts, nil)
	alert := models.NewAlert("failures", models.SeverityCritical, &models.JobFailureCondition{ConsecutiveFailures: 2}, 15)
	alert.Scope.JobID = "nightly"

	res, err := e.Check(context.Background(), alert, EventScope{})
	require.NoError(t, err)
	assert.False(t, res.ShouldFire)
	assert.Equal(t, 1, res.Context["consecutive_failures"])
}

func TestEvaluatorCheck_DurationUsesAverage(t *testing.T) {
	facts := &fakeFacts{
		jobs:  []*models.Job{{ID: "nightly", IsActive: true}},
		execs: map[string]*models.JobExecution{"e9": {ID: "e9", JobID: "nightly", DurationMs: ptr(int64(30000))}},
		avg:   15000,
		avgN:  2,
	}
	e := newTestEvaluator(facts, nil)
	alert := models.NewAlert("slow", models.SeverityMedium,
		&models.DurationExceededCondition{PercentageOverExpected: ptr(50.0)}, 15)

	res, err := e.Check(context.Background(), alert, EventScope{JobID: "nightly", ExecutionID: "e9"})
	require.NoError(t, err)
	assert.True(t, res.ShouldFire)
	assert.Equal(t, "nightly", res.JobID)
	assert.Equal(t, 15000.0, res.Context["expected_duration_ms"])
}

func TestEvaluatorCheck_DurationPrefersJobExpectation(t *testing.T) {
	facts := &fakeFacts{
		jobs:   []*models.Job{{ID: "nightly", IsActive: true, ExpectedDurationMs: ptr(int64(40000))}},
		latest: &models.JobExecution{ID: "e9", JobID: "nightly", DurationMs: ptr(int64(30000))},
		avg:    15000,
		avgN:   2,
	}
	e := newTestEvaluator(facts, nil)
	alert := models.NewAlert("slow", models.SeverityMedium,
		&models.DurationExceededCondition{PercentageOverExpected: ptr(50.0)}, 15)

	res, err := e.Check(context.Background(), alert, EventScope{})
	require.NoError(t, err)
	assert.False(t, res.ShouldFire)
}

func TestEvaluatorCheck_PatternMatch(t *testing.T) {
	facts := &fakeFacts{messages: []string{
		"Connection TIMEOUT to db",
		"timeout waiting for lock",
		"all good",
		"request timed out",
	}}
	e := newTestEvaluator(facts, nil)

	literal := models.NewAlert("timeouts", models.SeverityMedium,
		&models.PatternMatchCondition{Pattern: "timeout", MatchCount: 2, WindowMinutes: 5}, 15)
	res, err := e.Check(context.Background(), literal, EventScope{})
	require.NoError(t, err)
	assert.True(t, res.ShouldFire)
	assert.EqualValues(t, 2, res.Context["matches"])

	regex := models.NewAlert("timeouts-regex", models.SeverityMedium,
		&models.PatternMatchCondition{Pattern: `time(out|d out)`, IsRegex: true, CaseSensitive: true, MatchCount: 3, WindowMinutes: 5}, 15)
	res, err = e.Check(context.Background(), regex, EventScope{})
	require.NoError(t, err)
	assert.False(t, res.ShouldFire)
	assert.EqualValues(t, 2, res.Context["matches"])
}

func TestEvaluatorCheck_PatternMatchPagesWholeWindow(t *testing.T) {
	messages := make([]string, 2*patternPageSize+1)
	for i := range messages {
		messages[i] = "request ok"
	}
	messages[0] = "disk full on /var"
	facts := &fakeFacts{messages: messages}

	alert := models.NewAlert("disk", models.SeverityHigh,
		&models.PatternMatchCondition{Pattern: `disk (full|failure)`, IsRegex: true, MatchCount: 1, WindowMinutes: 60}, 15)
	res, err := newTestEvaluator(facts, nil).Check(context.Background(), alert, EventScope{})
	require.NoError(t, err)
	assert.True(t, res.ShouldFire)
	assert.EqualValues(t, 1, res.Context["matches"])
	assert.Equal(t, 3, facts.pages)
}

func TestEvaluatorCheck_PatternMatchOlderThanNewestPage(t *testing.T) {
	store := setupTestDB(t)
	insertLogs(t, store.Logs(), models.LevelError, "disk full on /var", testNow.Add(-50*time.Minute))

	recent := make([]time.Time, 10001)
	for i := range recent {
		recent[i] = testNow.Add(-time.Duration(i%40+1) * time.Minute)
	}
	insertLogs(t, store.Logs(), models.LevelInformation, "request ok", recent...)

	e := NewEvaluator(NewStoreFacts(store, store.Logs()), EvaluatorConfig{Clock: func() time.Time { return testNow }})
	alert := models.NewAlert("disk", models.SeverityHigh,
		&models.PatternMatchCondition{Pattern: `disk (full|failure)`, IsRegex: true, MatchCount: 1, WindowMinutes: 60}, 15)

	res, err := e.Check(context.Background(), alert, EventScope{})
	require.NoError(t, err)
	assert.True(t, res.ShouldFire)
	assert.EqualValues(t, 1, res.Context["matches"])
}

func TestEvaluatorCheck_PatternMatchNonASCIIIgnoresCase(t *testing.T) {
	store := setupTestDB(t)
	insertLogs(t, store.Logs(), models.LevelError, "échec de connexion", minutesAgo(testNow, 3)...)

	e := NewEvaluator(NewStoreFacts(store, store.Logs()), EvaluatorConfig{Clock: func() time.Time { return testNow }})
	alert := models.NewAlert("echec", models.SeverityMedium,
		&models.PatternMatchCondition{Pattern: "ÉCHEC", MatchCount: 2, WindowMinutes: 10}, 15)

	res, err := e.Check(context.Background(), alert, EventScope{})
	require.NoError(t, err)
	assert.True(t, res.ShouldFire)
	assert.EqualValues(t, 3, res.Context["matches"])
}

func TestPrefilter(t *testing.T) {
	tests := []struct {
		name string
		cond models.PatternMatchCondition
		want string
	}{
		{"ascii literal", models.PatternMatchCondition{Pattern: "timeout"}, "timeout"},
		{"regex", models.PatternMatchCondition{Pattern: "time(out)?", IsRegex: true}, ""},
		{"case sensitive", models.PatternMatchCondition{Pattern: "Timeout", CaseSensitive: true}, ""},
		{"non-ascii literal", models.PatternMatchCondition{Pattern: "ÉCHEC"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, prefilter(&tt.cond))
		})
	}
}

type staticQueries struct {
	count int64
	err   error
}

func (q staticQueries) Count(context.Context, string, time.Time, time.Time, models.Scope) (int64, error) {
	return q.count, q.err
}

func TestEvaluatorCheck_CustomQuery(t *testing.T) {
	alert := models.NewAlert("custom", models.SeverityLow,
		&models.CustomQueryCondition{Query: `level == "error"`, Threshold: 5, WindowMinutes: 10}, 15)

	res, err := newTestEvaluator(&fakeFacts{}, staticQueries{count: 7}).Check(context.Background(), alert, EventScope{})
	require.NoError(t, err)
	assert.True(t, res.ShouldFire)

	_, err = newTestEvaluator(&fakeFacts{}, nil).Check(context.Background(), alert, EventScope{})
	assert.ErrorContains(t, err, "no custom query executor")

	_, err = newTestEvaluator(&fakeFacts{}, staticQueries{err: errors.New("boom")}).Check(context.Background(), alert, EventScope{})
	assert.ErrorContains(t, err, "boom")
}

func TestEvaluatorCheck_ServerOfflineScoped(t *testing.T) {
	facts := &fakeFacts{servers: []*models.Server{
		{Name: "SRV01", IsActive: true, LastHeartbeat: ptr(testNow.Add(-6 * time.Minute))},
		{Name: "SRV02", IsActive: true, LastHeartbeat: ptr(testNow.Add(-time.Minute))},
	}}
	e := newTestEvaluator(facts, nil)
	alert := models.NewAlert("offline", models.SeverityCritical, &models.ServerOfflineCondition{}, 15)

	res, err := e.Check(context.Background(), alert, EventScope{ServerName: "SRV02"})
	require.NoError(t, err)
	assert.False(t, res.ShouldFire)

	res, err = e.Check(context.Background(), alert, EventScope{ServerName: "SRV01"})
	require.NoError(t, err)
	assert.True(t, res.ShouldFire)
	assert.Equal(t, "SRV01", res.ServerName)
}

func TestEvaluatorCheck_FactError(t *testing.T) {
	e := newTestEvaluator(&fakeFacts{err: errors.New("db down")}, nil)
	alert := models.NewAlert("errors", models.SeverityHigh,
		&models.ErrorThresholdCondition{Threshold: 1, WindowMinutes: 5, Level: models.LevelError}, 15)
	_, err := e.Check(context.Background(), alert, EventScope{})
	assert.ErrorContains(t, err, "db down")
}
