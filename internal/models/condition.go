package models

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// AlertType identifies the condition variant of an alert.
type AlertType string

const (
	AlertTypeErrorThreshold   AlertType = "ErrorThreshold"
	AlertTypeJobFailure       AlertType = "JobFailure"
	AlertTypeServerOffline    AlertType = "ServerOffline"
	AlertTypeDurationExceeded AlertType = "DurationExceeded"
	AlertTypePatternMatch     AlertType = "PatternMatch"
	AlertTypeCustomQuery      AlertType = "CustomQuery"
)

// AlertTypes lists every supported alert type.
var AlertTypes = []AlertType{
	AlertTypeErrorThreshold,
	AlertTypeJobFailure,
	AlertTypeServerOffline,
	AlertTypeDurationExceeded,
	AlertTypePatternMatch,
	AlertTypeCustomQuery,
}

// Condition is the typed trigger condition of an alert. The set of
// implementations is closed; each variant corresponds to one AlertType.
type Condition interface {
	Kind() AlertType
	Validate() error
	isCondition()
}

// ErrorThresholdCondition fires when at least Threshold entries at or above
// Level were logged within the last WindowMinutes.
type ErrorThresholdCondition struct {
	Threshold     int      `json:"threshold" yaml:"threshold"`
	WindowMinutes int      `json:"window_minutes" yaml:"window_minutes"`
	Level         LogLevel `json:"level" yaml:"level"`
}

// JobFailureCondition fires when the scoped job has failed
// ConsecutiveFailures times in a row.
type JobFailureCondition struct {
	ConsecutiveFailures int  `json:"consecutive_failures" yaml:"consecutive_failures"`
	IncludeTimeout      bool `json:"include_timeout" yaml:"include_timeout"`
}

// ServerOfflineCondition fires when a server has not sent a heartbeat for
// more than TimeoutMinutes. Zero means the monitor's configured timeout.
type ServerOfflineCondition struct {
	TimeoutMinutes int `json:"timeout_minutes" yaml:"timeout_minutes"`
}

// DurationExceededCondition fires when an execution runs longer than
// MaxDurationMs, or longer than the expected duration by more than
// PercentageOverExpected percent. Either bound may be omitted.
type DurationExceededCondition struct {
	MaxDurationMs          *int64   `json:"max_duration_ms,omitempty" yaml:"max_duration_ms,omitempty"`
	PercentageOverExpected *float64 `json:"percentage_over_expected,omitempty" yaml:"percentage_over_expected,omitempty"`
}

// PatternMatchCondition fires when at least MatchCount messages logged within
// WindowMinutes match Pattern.
type PatternMatchCondition struct {
	Pattern       string `json:"pattern" yaml:"pattern"`
	IsRegex       bool   `json:"is_regex" yaml:"is_regex"`
	CaseSensitive bool   `json:"case_sensitive" yaml:"case_sensitive"`
	MatchCount    int    `json:"match_count" yaml:"match_count"`
	WindowMinutes int    `json:"window_minutes" yaml:"window_minutes"`
}

// CustomQueryCondition fires when the injected query executor returns a
// count of at least Threshold over the last WindowMinutes.
type CustomQueryCondition struct {
	Query         string `json:"query" yaml:"query"`
	Threshold     int    `json:"threshold" yaml:"threshold"`
	WindowMinutes int    `json:"window_minutes" yaml:"window_minutes"`
}

func (*ErrorThresholdCondition) Kind() AlertType   { return AlertTypeErrorThreshold }
func (*JobFailureCondition) Kind() AlertType       { return AlertTypeJobFailure }
func (*ServerOfflineCondition) Kind() AlertType    { return AlertTypeServerOffline }
func (*DurationExceededCondition) Kind() AlertType { return AlertTypeDurationExceeded }
func (*PatternMatchCondition) Kind() AlertType     { return AlertTypePatternMatch }
func (*CustomQueryCondition) Kind() AlertType      { return AlertTypeCustomQuery }

func (*ErrorThresholdCondition) isCondition()   {}
func (*JobFailureCondition) isCondition()       {}
func (*ServerOfflineCondition) isCondition()    {}
func (*DurationExceededCondition) isCondition() {}
func (*PatternMatchCondition) isCondition()     {}
func (*CustomQueryCondition) isCondition()      {}

// Validate checks the condition fields.
func (c *ErrorThresholdCondition) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive")
	}
	if c.WindowMinutes <= 0 {
		return fmt.Errorf("window_minutes must be positive")
	}
	if !c.Level.Valid() {
		return fmt.Errorf("invalid level %q", c.Level)
	}
	return nil
}

// Validate checks the condition fields.
func (c *JobFailureCondition) Validate() error {
	if c.ConsecutiveFailures <= 0 {
		return fmt.Errorf("consecutive_failures must be positive")
	}
	return nil
}

// Validate checks the condition fields.
func (c *ServerOfflineCondition) Validate() error {
	if c.TimeoutMinutes < 0 {
		return fmt.Errorf("timeout_minutes must not be negative")
	}
	return nil
}

// Validate checks the condition fields.
func (c *DurationExceededCondition) Validate() error {
	if c.MaxDurationMs == nil && c.PercentageOverExpected == nil {
		return fmt.Errorf("max_duration_ms or percentage_over_expected is required")
	}
	if c.MaxDurationMs != nil && *c.MaxDurationMs <= 0 {
		return fmt.Errorf("max_duration_ms must be positive")
	}
	if c.PercentageOverExpected != nil && *c.PercentageOverExpected < 0 {
		return fmt.Errorf("percentage_over_expected must not be negative")
	}
	return nil
}

// Validate checks the condition fields and compiles the pattern.
func (c *PatternMatchCondition) Validate() error {
	if c.Pattern == "" {
		return fmt.Errorf("pattern is required")
	}
	if c.MatchCount <= 0 {
		return fmt.Errorf("match_count must be positive")
	}
	if c.WindowMinutes <= 0 {
		return fmt.Errorf("window_minutes must be positive")
	}
	if c.IsRegex {
		if _, err := c.Compile(); err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
	}
	return nil
}

// Compile returns the regular expression described by the condition. A
// literal pattern is quoted so it matches as a substring.
func (c *PatternMatchCondition) Compile() (*regexp.Regexp, error) {
	expr := c.Pattern
	if !c.IsRegex {
		expr = regexp.QuoteMeta(expr)
	}
	if !c.CaseSensitive {
		expr = "(?i)" + expr
	}
	return regexp.Compile(expr)
}

// Validate checks the condition fields.
func (c *CustomQueryCondition) Validate() error {
	if c.Query == "" {
		return fmt.Errorf("query is required")
	}
	if c.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive")
	}
	if c.WindowMinutes <= 0 {
		return fmt.Errorf("window_minutes must be positive")
	}
	return nil
}

// NewCondition returns an empty condition of the given type, ready to be
// decoded into.
func NewCondition(t AlertType) (Condition, error) {
	switch t {
	case AlertTypeErrorThreshold:
		return &ErrorThresholdCondition{}, nil
	case AlertTypeJobFailure:
		return &JobFailureCondition{}, nil
	case AlertTypeServerOffline:
		return &ServerOfflineCondition{}, nil
	case AlertTypeDurationExceeded:
		return &DurationExceededCondition{}, nil
	case AlertTypePatternMatch:
		return &PatternMatchCondition{}, nil
	case AlertTypeCustomQuery:
		return &CustomQueryCondition{}, nil
	default:
		return nil, fmt.Errorf("unknown alert type %q", t)
	}
}

// DecodeCondition decodes a JSON payload into the condition variant for t.
func DecodeCondition(t AlertType, payload []byte) (Condition, error) {
	c, err := NewCondition(t)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, c); err != nil {
			return nil, fmt.Errorf("decode %s condition: %w", t, err)
		}
	}
	return c, nil
}

// conditionEnvelope is the tagged wire form of a Condition.
type conditionEnvelope struct {
	Type    AlertType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalCondition encodes c as {"type": ..., "payload": {...}}.
func MarshalCondition(c Condition) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("condition is nil")
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(conditionEnvelope{Type: c.Kind(), Payload: payload})
}

// UnmarshalCondition decodes the tagged form produced by MarshalCondition.
func UnmarshalCondition(data []byte) (Condition, error) {
	var env conditionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode condition envelope: %w", err)
	}
	return DecodeCondition(env.Type, env.Payload)
}
