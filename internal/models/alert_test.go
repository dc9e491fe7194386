package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertValidate(t *testing.T) {
	valid := func() *Alert {
		return NewAlert("errors", SeverityHigh,
			&ErrorThresholdCondition{Threshold: 10, WindowMinutes: 60, Level: LevelError}, 15)
	}

	tests := []struct {
		name    string
		mutate  func(a *Alert)
		wantErr string
	}{
		{name: "valid", mutate: func(a *Alert) {}},
		{name: "empty name", mutate: func(a *Alert) { a.Name = " " }, wantErr: "name is required"},
		{name: "bad severity", mutate: func(a *Alert) { a.Severity = "Urgent" }, wantErr: "invalid severity"},
		{name: "nil condition", mutate: func(a *Alert) { a.Condition = nil }, wantErr: "condition is required"},
		{name: "throttle zero", mutate: func(a *Alert) { a.ThrottleMinutes = 0 }, wantErr: "throttle_minutes"},
		{name: "throttle too large", mutate: func(a *Alert) { a.ThrottleMinutes = 1441 }, wantErr: "throttle_minutes"},
		{name: "throttle max", mutate: func(a *Alert) { a.ThrottleMinutes = 1440 }},
		{name: "invalid condition", mutate: func(a *Alert) { a.Condition = &ErrorThresholdCondition{WindowMinutes: 5, Level: LevelError} }, wantErr: "threshold must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid()
			tt.mutate(a)
			err := a.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConditionValidate(t *testing.T) {
	maxMs := int64(1000)
	pct := 50.0

	tests := []struct {
		name    string
		cond    Condition
		wantErr bool
	}{
		{"job failure ok", &JobFailureCondition{ConsecutiveFailures: 3}, false},
		{"job failure zero", &JobFailureCondition{}, true},
		{"server offline default timeout", &ServerOfflineCondition{}, false},
		{"server offline negative", &ServerOfflineCondition{TimeoutMinutes: -1}, true},
		{"duration max only", &DurationExceededCondition{MaxDurationMs: &maxMs}, false},
		{"duration pct only", &DurationExceededCondition{PercentageOverExpected: &pct}, false},
		{"duration neither", &DurationExceededCondition{}, true},
		{"pattern literal", &PatternMatchCondition{Pattern: "timeout(", MatchCount: 1, WindowMinutes: 5}, false},
		{"pattern bad regex", &PatternMatchCondition{Pattern: "timeout(", IsRegex: true, MatchCount: 1, WindowMinutes: 5}, true},
		{"custom query ok", &CustomQueryCondition{Query: `level == "Error"`, Threshold: 1, WindowMinutes: 5}, false},
		{"custom query empty", &CustomQueryCondition{Threshold: 1, WindowMinutes: 5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cond.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPatternMatchCondition_Compile(t *testing.T) {
	literal := &PatternMatchCondition{Pattern: "a.b"}
	re, err := literal.Compile()
	require.NoError(t, err)
	assert.True(t, re.MatchString("xx A.B yy"), "literal match is case-insensitive by default")
	assert.False(t, re.MatchString("aXb"), "literal dot must not act as wildcard")

	sensitive := &PatternMatchCondition{Pattern: "Timeout", CaseSensitive: true}
	re, err = sensitive.Compile()
	require.NoError(t, err)
	assert.False(t, re.MatchString("timeout"))

	regex := &PatternMatchCondition{Pattern: `deadlock\s+detected`, IsRegex: true}
	re, err = regex.Compile()
	require.NoError(t, err)
	assert.True(t, re.MatchString("DEADLOCK   detected on table"))
}

func TestAlertJSON_PreservesConditionVariant(t *testing.T) {
	pct := 25.0
	last := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := NewAlert("slow backup", SeverityMedium, &DurationExceededCondition{PercentageOverExpected: &pct}, 30)
	a.ID = "a-1"
	a.Scope = Scope{JobID: "backup"}
	a.LastTriggeredAt = &last
	a.TriggerCount = 4

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"DurationExceeded"`)

	var decoded Alert
	require.NoError(t, json.Unmarshal(data, &decoded))
	cond, ok := decoded.Condition.(*DurationExceededCondition)
	require.True(t, ok, "expected *DurationExceededCondition, got %T", decoded.Condition)
	require.NotNil(t, cond.PercentageOverExpected)
	assert.Equal(t, 25.0, *cond.PercentageOverExpected)
	assert.Nil(t, cond.MaxDurationMs)
	assert.Equal(t, "backup", decoded.Scope.JobID)
	assert.True(t, decoded.LastTriggeredAt.Equal(last))
	assert.Equal(t, int64(4), decoded.TriggerCount)
}

func TestUnmarshalCondition_UnknownType(t *testing.T) {
	_, err := UnmarshalCondition([]byte(`{"type":"Nope","payload":{}}`))
	assert.Error(t, err)

	c, err := UnmarshalCondition([]byte(`{"type":"JobFailure","payload":{"consecutive_failures":2}}`))
	require.NoError(t, err)
	assert.Equal(t, AlertTypeJobFailure, c.Kind())
}

func TestScopeMatches(t *testing.T) {
	assert.True(t, Scope{}.Matches("any", "any"))
	assert.True(t, Scope{ServerName: "SRV01"}.Matches("", "SRV01"))
	assert.False(t, Scope{ServerName: "SRV01"}.Matches("", "SRV02"))
	assert.False(t, Scope{JobID: "backup"}.Matches("", "SRV01"))
	assert.True(t, Scope{JobID: "backup", ServerName: "SRV01"}.Matches("backup", "SRV01"))
}

func TestInstanceTransitions(t *testing.T) {
	legal := [][2]InstanceStatus{
		{InstanceNew, InstanceAcknowledged},
		{InstanceAcknowledged, InstanceResolved},
		{InstanceNew, InstanceResolved},
		{InstanceNew, InstanceSuppressed},
		{InstanceAcknowledged, InstanceSuppressed},
	}
	for _, p := range legal {
		assert.True(t, CanTransition(p[0], p[1]), "%s -> %s should be legal", p[0], p[1])
	}

	illegal := [][2]InstanceStatus{
		{InstanceAcknowledged, InstanceAcknowledged},
		{InstanceResolved, InstanceAcknowledged},
		{InstanceResolved, InstanceSuppressed},
		{InstanceResolved, InstanceResolved},
		{InstanceSuppressed, InstanceResolved},
		{InstanceSuppressed, InstanceAcknowledged},
	}
	for _, p := range illegal {
		assert.False(t, CanTransition(p[0], p[1]), "%s -> %s should be illegal", p[0], p[1])
	}

	assert.True(t, InstanceResolved.IsTerminal())
	assert.True(t, InstanceSuppressed.IsTerminal())
	assert.False(t, InstanceAcknowledged.IsTerminal())
}

func TestConsecutiveFailures(t *testing.T) {
	hist := func(statuses ...ExecutionStatus) []*JobExecution {
		out := make([]*JobExecution, len(statuses))
		for i, s := range statuses {
			out[i] = &JobExecution{Status: s}
		}
		return out
	}

	tests := []struct {
		name           string
		history        []*JobExecution
		includeTimeout bool
		want           int
	}{
		{"empty", nil, false, 0},
		{"success resets streak", hist(ExecutionFailed, ExecutionFailed, ExecutionSuccess, ExecutionFailed), false, 1},
		{"trailing failures", hist(ExecutionSuccess, ExecutionFailed, ExecutionFailed), false, 2},
		{"timeout ignored", hist(ExecutionFailed, ExecutionTimedOut, ExecutionFailed), false, 2},
		{"timeout counted", hist(ExecutionFailed, ExecutionTimedOut, ExecutionFailed), true, 3},
		{"cancelled does not reset", hist(ExecutionFailed, ExecutionCancelled, ExecutionFailed), false, 2},
		{"running ignored", hist(ExecutionFailed, ExecutionRunning), false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConsecutiveFailures(tt.history, tt.includeTimeout))
		})
	}
}
