package storage

import (
	"context"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// LogStorage defines operations for log persistence.
// This is separate from the main Storage interface as logs have
// different access patterns (high-volume writes, time-series queries).
type LogStorage interface {
	// Open initializes the log storage connection.
	Open() error
	// Close closes the log storage connection.
	Close() error
	// Migrate creates or updates the log storage schema.
	Migrate() error
	// Ping checks the connection health.
	Ping(ctx context.Context) error

	// Logs returns the log repository.
	Logs() LogRepository
}

// LogRepository defines log operations.
type LogRepository interface {
	// InsertBatch inserts multiple log entries in a single batch.
	InsertBatch(ctx context.Context, entries []*models.LogEntry) error

	// Query retrieves logs matching the given filters.
	Query(ctx context.Context, filter *LogFilter) (*LogQueryResult, error)

	// Count returns the count of logs matching the filter.
	Count(ctx context.Context, filter *LogFilter) (int64, error)

	// DeleteBefore removes logs older than the specified time.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// LogFilter defines query parameters for log retrieval.
// StartTime and EndTime are both inclusive.
type LogFilter struct {
	StartTime time.Time
	EndTime   time.Time

	// MinLevel keeps entries at or above the level.
	MinLevel models.LogLevel

	ServerName string
	JobID      string

	// MessageContains is a case-insensitive substring filter.
	MessageContains string

	// Pagination.
	Limit  int
	Offset int

	// OrderAsc sorts oldest first; the default is newest first.
	OrderAsc bool
}

// LogQueryResult contains query results with pagination info.
type LogQueryResult struct {
	// Entries contains the matching log entries.
	Entries []*models.LogEntry

	// Total is the total number of matching records (for pagination).
	Total int64

	// HasMore indicates if there are more results available.
	HasMore bool
}

const defaultLogLimit = 100

func (f *LogFilter) limit() int {
	if f.Limit <= 0 {
		return defaultLogLimit
	}
	return f.Limit
}
