package models

import "time"

// ExecutionStatus is the state of a job execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "Pending"
	ExecutionRunning   ExecutionStatus = "Running"
	ExecutionSuccess   ExecutionStatus = "Success"
	ExecutionFailed    ExecutionStatus = "Failed"
	ExecutionCancelled ExecutionStatus = "Cancelled"
	ExecutionTimedOut  ExecutionStatus = "TimedOut"
)

// IsTerminal reports whether the execution has finished.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionSuccess, ExecutionFailed, ExecutionCancelled, ExecutionTimedOut:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s ExecutionStatus) Valid() bool {
	return s == ExecutionPending || s == ExecutionRunning || s.IsTerminal()
}

// Job is a scheduled unit of work reported by agents.
type Job struct {
	ID             string `json:"job_id"`
	DisplayName    string `json:"display_name"`
	ServerName     string `json:"server_name,omitempty"`
	Description    string `json:"description,omitempty"`
	IsActive       bool   `json:"is_active"`
	TimeoutMinutes int    `json:"timeout_minutes,omitempty"`
	// ExpectedDurationMs overrides the historical average used by
	// duration alerts.
	ExpectedDurationMs *int64    `json:"expected_duration_ms,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// JobExecution is one run of a Job.
type JobExecution struct {
	ID            string          `json:"id"`
	JobID         string          `json:"job_id"`
	ServerName    string          `json:"server_name,omitempty"`
	Status        ExecutionStatus `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	DurationMs    *int64          `json:"duration_ms,omitempty"`
	TriggerType   string          `json:"trigger_type,omitempty"`
	TriggeredBy   string          `json:"triggered_by,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	OutputMessage string          `json:"output_message,omitempty"`
}

// ConsecutiveFailures counts the failure streak at the end of a
// chronologically ordered execution history. Failed always counts, TimedOut
// counts only when includeTimeout is set, and Success resets the streak.
// Other statuses neither count nor reset.
func ConsecutiveFailures(history []*JobExecution, includeTimeout bool) int {
	streak := 0
	for _, e := range history {
		switch e.Status {
		case ExecutionSuccess:
			streak = 0
		case ExecutionFailed:
			streak++
		case ExecutionTimedOut:
			if includeTimeout {
				streak++
			}
		}
	}
	return streak
}
