package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/metrics"
	"github.com/good-yellow-bee/lognexus/internal/models"
)

const (
	// DefaultServerTimeout applies to ServerOffline conditions without an
	// explicit timeout.
	DefaultServerTimeout = 5 * time.Minute

	expectedDurationSample = 20
	minFailureHistory      = 20
	patternPageSize        = 1000
)

// Result is the outcome of evaluating one condition.
type Result struct {
	ShouldFire bool
	Message    string
	// Context snapshots the inputs of the evaluation.
	Context map[string]any
	// JobID and ServerName narrow the instance scope when the evaluation
	// was decided by a single job or server.
	JobID      string
	ServerName string
}

// Facts are the inputs a condition is evaluated against.
type Facts struct {
	Now time.Time

	// Count is the matching log count for ErrorThreshold, the number of
	// pattern matches for PatternMatch and the query result for CustomQuery.
	Count int64

	// Job and History (oldest first) feed JobFailure.
	Job     *models.Job
	History []*models.JobExecution

	// Execution and ExpectedDurationMs feed DurationExceeded.
	Execution          *models.JobExecution
	ExpectedDurationMs *float64

	// Servers and ServerTimeout feed ServerOffline.
	Servers       []*models.Server
	ServerTimeout time.Duration
}

// Evaluate decides whether cond fires for facts. It has no side effects.
func Evaluate(cond models.Condition, facts *Facts) (Result, error) {
	switch c := cond.(type) {
	case *models.ErrorThresholdCondition:
		return evalErrorThreshold(c, facts), nil
	case *models.JobFailureCondition:
		return evalJobFailure(c, facts), nil
	case *models.ServerOfflineCondition:
		return evalServerOffline(c, facts), nil
	case *models.DurationExceededCondition:
		return evalDurationExceeded(c, facts), nil
	case *models.PatternMatchCondition:
		return evalPatternMatch(c, facts), nil
	case *models.CustomQueryCondition:
		return evalCustomQuery(c, facts), nil
	case nil:
		return Result{}, fmt.Errorf("condition is nil")
	default:
		return Result{}, fmt.Errorf("unsupported condition %T", cond)
	}
}

func evalErrorThreshold(c *models.ErrorThresholdCondition, f *Facts) Result {
	r := Result{
		ShouldFire: f.Count >= int64(c.Threshold),
		Context: map[string]any{
			"count":          f.Count,
			"threshold":      c.Threshold,
			"level":          string(c.Level),
			"window_minutes": c.WindowMinutes,
		},
	}
	if r.ShouldFire {
		r.Message = fmt.Sprintf("Error threshold exceeded: %d %s+ logs in last %d minutes (threshold: %d)",
			f.Count, c.Level, c.WindowMinutes, c.Threshold)
	}
	return r
}

func evalJobFailure(c *models.JobFailureCondition, f *Facts) Result {
	streak := models.ConsecutiveFailures(f.History, c.IncludeTimeout)
	r := Result{
		ShouldFire: streak >= c.ConsecutiveFailures,
		Context: map[string]any{
			"consecutive_failures": streak,
			"threshold":            c.ConsecutiveFailures,
			"include_timeout":      c.IncludeTimeout,
		},
	}
	if f.Job == nil {
		return r
	}
	r.JobID = f.Job.ID
	r.ServerName = f.Job.ServerName
	r.Context["job_id"] = f.Job.ID
	if r.ShouldFire {
		last := f.History[len(f.History)-1]
		r.Message = fmt.Sprintf("Job %s failed %d consecutive times (threshold: %d)",
			jobLabel(f.Job), streak, c.ConsecutiveFailures)
		if last.ErrorMessage != "" {
			r.Context["last_error"] = last.ErrorMessage
		}
		r.Context["last_execution_id"] = last.ID
	}
	return r
}

func evalServerOffline(c *models.ServerOfflineCondition, f *Facts) Result {
	timeout := f.ServerTimeout
	if c.TimeoutMinutes > 0 {
		timeout = time.Duration(c.TimeoutMinutes) * time.Minute
	}
	if timeout <= 0 {
		timeout = DefaultServerTimeout
	}

	var stale []*models.Server
	for _, s := range f.Servers {
		if !s.IsActive || s.Status == models.ServerStatusMaintenance {
			continue
		}
		age, seen := s.HeartbeatAge(f.Now)
		if !seen || age > timeout {
			stale = append(stale, s)
		}
	}

	r := Result{
		ShouldFire: len(stale) > 0,
		Context: map[string]any{
			"timeout_minutes": timeout.Minutes(),
			"offline_count":   len(stale),
		},
	}
	if !r.ShouldFire {
		return r
	}

	names := make([]string, len(stale))
	for i, s := range stale {
		names[i] = s.Name
	}
	r.Context["servers"] = names

	if len(stale) == 1 {
		s := stale[0]
		r.ServerName = s.Name
		if age, seen := s.HeartbeatAge(f.Now); seen {
			r.Message = fmt.Sprintf("Server %s is offline: no heartbeat for %d minutes (timeout: %d minutes)",
				s.Name, int(age.Minutes()), int(timeout.Minutes()))
			r.Context["last_heartbeat"] = s.LastHeartbeat.Format(time.RFC3339)
		} else {
			r.Message = fmt.Sprintf("Server %s is offline: no heartbeat ever received", s.Name)
		}
		return r
	}
	r.Message = fmt.Sprintf("%d servers offline (timeout: %d minutes): %s",
		len(stale), int(timeout.Minutes()), strings.Join(names, ", "))
	return r
}

func evalDurationExceeded(c *models.DurationExceededCondition, f *Facts) Result {
	r := Result{Context: map[string]any{}}
	e := f.Execution
	if e == nil || e.DurationMs == nil {
		return r
	}
	dur := *e.DurationMs
	r.JobID = e.JobID
	r.ServerName = e.ServerName
	r.Context["execution_id"] = e.ID
	r.Context["duration_ms"] = dur

	if c.MaxDurationMs != nil {
		r.Context["max_duration_ms"] = *c.MaxDurationMs
		if dur > *c.MaxDurationMs {
			r.ShouldFire = true
			r.Message = fmt.Sprintf("Job %s execution took %dms (max: %dms)",
				e.JobID, dur, *c.MaxDurationMs)
			return r
		}
	}
	if c.PercentageOverExpected != nil && f.ExpectedDurationMs != nil && *f.ExpectedDurationMs > 0 {
		expected := *f.ExpectedDurationMs
		limit := expected * (1 + *c.PercentageOverExpected/100)
		r.Context["expected_duration_ms"] = expected
		r.Context["percentage_over_expected"] = *c.PercentageOverExpected
		if float64(dur) > limit {
			over := (float64(dur) - expected) / expected * 100
			r.ShouldFire = true
			r.Message = fmt.Sprintf("Job %s execution took %dms, %.1f%% over expected %.0fms (limit: %.1f%%)",
				e.JobID, dur, over, expected, *c.PercentageOverExpected)
		}
	}
	return r
}

func evalPatternMatch(c *models.PatternMatchCondition, f *Facts) Result {
	r := Result{
		ShouldFire: f.Count >= int64(c.MatchCount),
		Context: map[string]any{
			"pattern":        c.Pattern,
			"is_regex":       c.IsRegex,
			"matches":        f.Count,
			"match_count":    c.MatchCount,
			"window_minutes": c.WindowMinutes,
		},
	}
	if r.ShouldFire {
		r.Message = fmt.Sprintf("Pattern %q matched %d times in last %d minutes (threshold: %d)",
			c.Pattern, f.Count, c.WindowMinutes, c.MatchCount)
	}
	return r
}

func evalCustomQuery(c *models.CustomQueryCondition, f *Facts) Result {
	r := Result{
		ShouldFire: f.Count >= int64(c.Threshold),
		Context: map[string]any{
			"query":          c.Query,
			"count":          f.Count,
			"threshold":      c.Threshold,
			"window_minutes": c.WindowMinutes,
		},
	}
	if r.ShouldFire {
		r.Message = fmt.Sprintf("Custom query returned %d in last %d minutes (threshold: %d)",
			f.Count, c.WindowMinutes, c.Threshold)
	}
	return r
}

func jobLabel(j *models.Job) string {
	if j.DisplayName != "" && j.DisplayName != j.ID {
		return fmt.Sprintf("%s (%s)", j.DisplayName, j.ID)
	}
	return j.ID
}

// EventScope identifies the event that caused an evaluation. The zero value
// is a scheduled evaluation.
type EventScope struct {
	JobID       string
	ServerName  string
	ExecutionID string
}

// EvaluatorConfig configures an Evaluator.
type EvaluatorConfig struct {
	// Queries runs CustomQuery conditions. Without it they fail to evaluate.
	Queries CustomQueryExecutor
	// ServerTimeout applies to ServerOffline conditions with no timeout.
	ServerTimeout time.Duration
	Clock         Clock
}

// Evaluator gathers facts for an alert and evaluates its condition.
type Evaluator struct {
	facts         FactSource
	queries       CustomQueryExecutor
	patterns      *PatternMatcher
	serverTimeout time.Duration
	clock         Clock
}

// NewEvaluator creates an Evaluator reading from facts.
func NewEvaluator(facts FactSource, cfg EvaluatorConfig) *Evaluator {
	if cfg.ServerTimeout <= 0 {
		cfg.ServerTimeout = DefaultServerTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock
	}
	return &Evaluator{
		facts:         facts,
		queries:       cfg.Queries,
		patterns:      NewPatternMatcher(),
		serverTimeout: cfg.ServerTimeout,
		clock:         cfg.Clock,
	}
}

// Check evaluates alert against current state. The event narrows the
// alert's scope; an event outside the alert's scope never fires.
func (e *Evaluator) Check(ctx context.Context, alert *models.Alert, event EventScope) (Result, error) {
	kind := string(alert.Type())
	res, err := e.check(ctx, alert, event)
	switch {
	case err != nil:
		metrics.AlertEvaluationsTotal.WithLabelValues(kind, "error").Inc()
		return Result{}, fmt.Errorf("evaluate alert %q: %w", alert.Name, err)
	case res.ShouldFire:
		metrics.AlertEvaluationsTotal.WithLabelValues(kind, "fired").Inc()
	default:
		metrics.AlertEvaluationsTotal.WithLabelValues(kind, "quiet").Inc()
	}
	return res, nil
}

func (e *Evaluator) check(ctx context.Context, alert *models.Alert, event EventScope) (Result, error) {
	if !alert.Scope.Matches(orDefault(event.JobID, alert.Scope.JobID), orDefault(event.ServerName, alert.Scope.ServerName)) {
		return Result{}, nil
	}
	scope := models.Scope{
		JobID:      orDefault(alert.Scope.JobID, event.JobID),
		ServerName: orDefault(alert.Scope.ServerName, event.ServerName),
	}
	now := e.clock()

	switch c := alert.Condition.(type) {
	case *models.ErrorThresholdCondition:
		start := now.Add(-time.Duration(c.WindowMinutes) * time.Minute)
		count, err := e.facts.CountLogs(ctx, c.Level, start, now, scope)
		if err != nil {
			return Result{}, fmt.Errorf("count logs: %w", err)
		}
		return scoped(scope)(Evaluate(c, &Facts{Now: now, Count: count}))

	case *models.JobFailureCondition:
		return e.checkJobFailure(ctx, c, scope, now)

	case *models.ServerOfflineCondition:
		var servers []*models.Server
		if scope.ServerName != "" {
			s, err := e.facts.Server(ctx, scope.ServerName)
			if err != nil {
				return Result{}, fmt.Errorf("get server: %w", err)
			}
			if s != nil {
				servers = append(servers, s)
			}
		} else {
			all, err := e.facts.Servers(ctx)
			if err != nil {
				return Result{}, fmt.Errorf("list servers: %w", err)
			}
			servers = all
		}
		return scoped(scope)(Evaluate(c, &Facts{Now: now, Servers: servers, ServerTimeout: e.serverTimeout}))

	case *models.DurationExceededCondition:
		return e.checkDuration(ctx, c, scope, event, now)

	case *models.PatternMatchCondition:
		start := now.Add(-time.Duration(c.WindowMinutes) * time.Minute)
		n, err := e.countPatternMatches(ctx, c, start, now, scope)
		if err != nil {
			return Result{}, err
		}
		return scoped(scope)(Evaluate(c, &Facts{Now: now, Count: n}))

	case *models.CustomQueryCondition:
		if e.queries == nil {
			return Result{}, fmt.Errorf("no custom query executor configured")
		}
		start := now.Add(-time.Duration(c.WindowMinutes) * time.Minute)
		count, err := e.queries.Count(ctx, c.Query, start, now, scope)
		if err != nil {
			return Result{}, fmt.Errorf("run custom query: %w", err)
		}
		return scoped(scope)(Evaluate(c, &Facts{Now: now, Count: count}))
	}
	return Evaluate(alert.Condition, &Facts{Now: now})
}

// countPatternMatches pages through every message in the window.
func (e *Evaluator) countPatternMatches(ctx context.Context, c *models.PatternMatchCondition, start, end time.Time, scope models.Scope) (int64, error) {
	contains := prefilter(c)
	var total int64
	for offset := 0; ; offset += patternPageSize {
		messages, more, err := e.facts.LogMessages(ctx, start, end, scope, contains, patternPageSize, offset)
		if err != nil {
			return 0, fmt.Errorf("read log messages: %w", err)
		}
		n, err := e.patterns.Count(c, messages)
		if err != nil {
			return 0, err
		}
		total += int64(n)
		if !more || len(messages) == 0 {
			return total, nil
		}
	}
}

func (e *Evaluator) checkJobFailure(ctx context.Context, c *models.JobFailureCondition, scope models.Scope, now time.Time) (Result, error) {
	var jobs []*models.Job
	if scope.JobID != "" {
		job, err := e.facts.Job(ctx, scope.JobID)
		if err != nil {
			return Result{}, fmt.Errorf("get job: %w", err)
		}
		if job == nil {
			job = &models.Job{ID: scope.JobID, DisplayName: scope.JobID, IsActive: true}
		}
		jobs = append(jobs, job)
	} else {
		all, err := e.facts.Jobs(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("list jobs: %w", err)
		}
		for _, j := range all {
			if j.IsActive && (scope.ServerName == "" || j.ServerName == scope.ServerName) {
				jobs = append(jobs, j)
			}
		}
	}

	limit := max(2*c.ConsecutiveFailures, minFailureHistory)
	last := Result{}
	for _, job := range jobs {
		history, err := e.facts.RecentExecutions(ctx, job.ID, limit)
		if err != nil {
			return Result{}, fmt.Errorf("list executions of job %s: %w", job.ID, err)
		}
		res, err := Evaluate(c, &Facts{Now: now, Job: job, History: history})
		if err != nil {
			return Result{}, err
		}
		if res.ShouldFire {
			return res, nil
		}
		last = res
	}
	return last, nil
}

func (e *Evaluator) checkDuration(ctx context.Context, c *models.DurationExceededCondition, scope models.Scope, event EventScope, now time.Time) (Result, error) {
	var (
		exec *models.JobExecution
		err  error
	)
	if event.ExecutionID != "" {
		exec, err = e.facts.Execution(ctx, event.ExecutionID)
	} else {
		exec, err = e.facts.LatestCompletedExecution(ctx, scope.JobID)
	}
	if err != nil {
		return Result{}, fmt.Errorf("get execution: %w", err)
	}
	if exec == nil || exec.DurationMs == nil || !scope.Matches(exec.JobID, exec.ServerName) {
		return Result{}, nil
	}

	facts := &Facts{Now: now, Execution: exec}
	if c.PercentageOverExpected != nil {
		job, err := e.facts.Job(ctx, exec.JobID)
		if err != nil {
			return Result{}, fmt.Errorf("get job: %w", err)
		}
		if job != nil && job.ExpectedDurationMs != nil {
			expected := float64(*job.ExpectedDurationMs)
			facts.ExpectedDurationMs = &expected
		} else {
			avg, n, err := e.facts.AverageSuccessDuration(ctx, exec.JobID, exec.ID, expectedDurationSample)
			if err != nil {
				return Result{}, fmt.Errorf("average duration: %w", err)
			}
			if n > 0 {
				facts.ExpectedDurationMs = &avg
			}
		}
	}
	return Evaluate(c, facts)
}

// scoped fills the result's scope from the evaluation scope when the
// evaluator did not narrow it.
func scoped(scope models.Scope) func(Result, error) (Result, error) {
	return func(res Result, err error) (Result, error) {
		if err != nil {
			return Result{}, err
		}
		if res.JobID == "" {
			res.JobID = scope.JobID
		}
		if res.ServerName == "" {
			res.ServerName = scope.ServerName
		}
		return res, nil
	}
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
