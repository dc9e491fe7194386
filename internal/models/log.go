// Package models contains the core data structures for LogNexus.
package models

import (
	"strings"
	"time"
)

// LogLevel represents the severity level of a log entry.
type LogLevel string

const (
	LevelTrace       LogLevel = "Trace"
	LevelDebug       LogLevel = "Debug"
	LevelInformation LogLevel = "Information"
	LevelWarning     LogLevel = "Warning"
	LevelError       LogLevel = "Error"
	LevelCritical    LogLevel = "Critical"
)

// levelRanks orders levels from least to most severe.
var levelRanks = map[LogLevel]int{
	LevelTrace:       0,
	LevelDebug:       1,
	LevelInformation: 2,
	LevelWarning:     3,
	LevelError:       4,
	LevelCritical:    5,
}

// Rank returns the ordinal of the level, or -1 for an unknown level.
func (l LogLevel) Rank() int {
	if r, ok := levelRanks[l]; ok {
		return r
	}
	return -1
}

// Valid reports whether l is one of the known levels.
func (l LogLevel) Valid() bool {
	return l.Rank() >= 0
}

// AtLeast reports whether l is at or above min.
func (l LogLevel) AtLeast(min LogLevel) bool {
	return l.Valid() && l.Rank() >= min.Rank()
}

// LevelsAtLeast returns every known level at or above min, least severe first.
func LevelsAtLeast(min LogLevel) []LogLevel {
	all := []LogLevel{LevelTrace, LevelDebug, LevelInformation, LevelWarning, LevelError, LevelCritical}
	if !min.Valid() {
		return nil
	}
	return all[min.Rank():]
}

// ParseLogLevel converts a string to LogLevel. Common aliases are accepted.
// An unrecognized value parses as Information.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "verbose":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "information", "info", "notice":
		return LevelInformation
	case "warning", "warn":
		return LevelWarning
	case "error", "err":
		return LevelError
	case "critical", "crit", "fatal", "emergency", "alert":
		return LevelCritical
	default:
		return LevelInformation
	}
}

// LogEntry represents a single log entry pushed by an agent.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`

	// ServerName and JobID scope the entry; both may be empty.
	ServerName  string `json:"server_name,omitempty"`
	JobID       string `json:"job_id,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`

	Category      string         `json:"category,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Exception     string         `json:"exception,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
}

// GetProperty retrieves a property value.
func (e *LogEntry) GetProperty(key string) (any, bool) {
	if e.Properties == nil {
		return nil, false
	}
	val, ok := e.Properties[key]
	return val, ok
}

// String returns a string representation of the log entry.
func (e *LogEntry) String() string {
	return e.Timestamp.Format(time.RFC3339) + " [" + string(e.Level) + "] " + e.Message
}

// IsError returns true if the log level is Error or Critical.
func (e *LogEntry) IsError() bool {
	return e.Level.AtLeast(LevelError)
}
