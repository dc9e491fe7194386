package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Severity represents alert severity level.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// ParseSeverity converts a string to Severity, case-insensitively.
// Unknown values default to Medium.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Throttle bounds, in minutes.
const (
	MinThrottleMinutes = 1
	MaxThrottleMinutes = 1440
)

// Scope optionally restricts an alert to a job and/or a server.
// Empty fields mean "applies to all".
type Scope struct {
	JobID      string `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	ServerName string `json:"server_name,omitempty" yaml:"server_name,omitempty"`
}

// IsEmpty reports whether the scope applies to everything.
func (s Scope) IsEmpty() bool {
	return s.JobID == "" && s.ServerName == ""
}

// Matches reports whether an event scoped to (jobID, serverName) falls within s.
// An empty event field only matches an unrestricted scope field.
func (s Scope) Matches(jobID, serverName string) bool {
	if s.JobID != "" && s.JobID != jobID {
		return false
	}
	if s.ServerName != "" && s.ServerName != serverName {
		return false
	}
	return true
}

// NotifyConfig lists the notification channels of an alert.
type NotifyConfig struct {
	Emails    []string `json:"emails,omitempty" yaml:"emails,omitempty"`
	Dashboard bool     `json:"dashboard" yaml:"dashboard"`
	Webhooks  []string `json:"webhooks,omitempty" yaml:"webhooks,omitempty"`
}

// IsEmpty reports whether no channel is configured.
func (n NotifyConfig) IsEmpty() bool {
	return len(n.Emails) == 0 && !n.Dashboard && len(n.Webhooks) == 0
}

// Alert is a persisted alert definition.
type Alert struct {
	ID          string
	Name        string
	Description string
	Severity    Severity
	// Condition holds exactly one typed condition; Type() is derived from it.
	Condition       Condition
	ThrottleMinutes int
	IsActive        bool
	Scope           Scope
	Notify          NotifyConfig

	LastTriggeredAt *time.Time
	TriggerCount    int64

	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time
	UpdatedBy string
}

// NewAlert creates an active Alert with initialized timestamps.
func NewAlert(name string, severity Severity, cond Condition, throttleMinutes int) *Alert {
	now := time.Now().UTC()
	return &Alert{
		Name:            name,
		Severity:        severity,
		Condition:       cond,
		ThrottleMinutes: throttleMinutes,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Type returns the alert type, derived from the condition.
func (a *Alert) Type() AlertType {
	if a.Condition == nil {
		return ""
	}
	return a.Condition.Kind()
}

// Throttle returns the throttle interval as a duration.
func (a *Alert) Throttle() time.Duration {
	return time.Duration(a.ThrottleMinutes) * time.Minute
}

// Validate checks the alert definition.
func (a *Alert) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("alert name is required")
	}
	if !a.Severity.Valid() {
		return fmt.Errorf("invalid severity %q for alert %q", a.Severity, a.Name)
	}
	if a.Condition == nil {
		return fmt.Errorf("condition is required for alert %q", a.Name)
	}
	if err := a.Condition.Validate(); err != nil {
		return fmt.Errorf("invalid %s condition for alert %q: %w", a.Condition.Kind(), a.Name, err)
	}
	if a.ThrottleMinutes < MinThrottleMinutes || a.ThrottleMinutes > MaxThrottleMinutes {
		return fmt.Errorf("throttle_minutes must be between %d and %d for alert %q",
			MinThrottleMinutes, MaxThrottleMinutes, a.Name)
	}
	return nil
}

type alertJSON struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Type            AlertType       `json:"type"`
	Severity        Severity        `json:"severity"`
	Condition       json.RawMessage `json:"condition"`
	ThrottleMinutes int             `json:"throttle_minutes"`
	IsActive        bool            `json:"is_active"`
	Scope           Scope           `json:"scope"`
	Notify          NotifyConfig    `json:"notify"`
	LastTriggeredAt *time.Time      `json:"last_triggered_at,omitempty"`
	TriggerCount    int64           `json:"trigger_count"`
	CreatedAt       time.Time       `json:"created_at"`
	CreatedBy       string          `json:"created_by,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
	UpdatedBy       string          `json:"updated_by,omitempty"`
}

// MarshalJSON encodes the alert with its condition tagged by type.
func (a Alert) MarshalJSON() ([]byte, error) {
	var cond json.RawMessage
	if a.Condition != nil {
		data, err := json.Marshal(a.Condition)
		if err != nil {
			return nil, err
		}
		cond = data
	}
	return json.Marshal(alertJSON{
		ID:              a.ID,
		Name:            a.Name,
		Description:     a.Description,
		Type:            a.Type(),
		Severity:        a.Severity,
		Condition:       cond,
		ThrottleMinutes: a.ThrottleMinutes,
		IsActive:        a.IsActive,
		Scope:           a.Scope,
		Notify:          a.Notify,
		LastTriggeredAt: a.LastTriggeredAt,
		TriggerCount:    a.TriggerCount,
		CreatedAt:       a.CreatedAt,
		CreatedBy:       a.CreatedBy,
		UpdatedAt:       a.UpdatedAt,
		UpdatedBy:       a.UpdatedBy,
	})
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (a *Alert) UnmarshalJSON(data []byte) error {
	var raw alertJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cond, err := DecodeCondition(raw.Type, raw.Condition)
	if err != nil {
		return err
	}
	*a = Alert{
		ID:              raw.ID,
		Name:            raw.Name,
		Description:     raw.Description,
		Severity:        raw.Severity,
		Condition:       cond,
		ThrottleMinutes: raw.ThrottleMinutes,
		IsActive:        raw.IsActive,
		Scope:           raw.Scope,
		Notify:          raw.Notify,
		LastTriggeredAt: raw.LastTriggeredAt,
		TriggerCount:    raw.TriggerCount,
		CreatedAt:       raw.CreatedAt,
		CreatedBy:       raw.CreatedBy,
		UpdatedAt:       raw.UpdatedAt,
		UpdatedBy:       raw.UpdatedBy,
	}
	return nil
}
