package alerting

import (
	"context"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

// FactSource answers the read-only queries the evaluators need. Every call
// reads current persisted state.
type FactSource interface {
	// CountLogs counts entries at or above minLevel in [start, end].
	CountLogs(ctx context.Context, minLevel models.LogLevel, start, end time.Time, scope models.Scope) (int64, error)
	// LogMessages returns one page of messages logged in [start, end],
	// oldest first, optionally prefiltered by a case-insensitive substring.
	// more reports whether pages remain after this one.
	LogMessages(ctx context.Context, start, end time.Time, scope models.Scope, contains string, limit, offset int) (messages []string, more bool, err error)

	Jobs(ctx context.Context) ([]*models.Job, error)
	Job(ctx context.Context, id string) (*models.Job, error)
	// RecentExecutions returns finished executions of a job, oldest first.
	RecentExecutions(ctx context.Context, jobID string, limit int) ([]*models.JobExecution, error)
	Execution(ctx context.Context, id string) (*models.JobExecution, error)
	LatestCompletedExecution(ctx context.Context, jobID string) (*models.JobExecution, error)
	AverageSuccessDuration(ctx context.Context, jobID, excludeID string, sample int) (float64, int, error)

	Servers(ctx context.Context) ([]*models.Server, error)
	Server(ctx context.Context, name string) (*models.Server, error)
}

// StoreFacts is a FactSource backed by the storage layer.
type StoreFacts struct {
	store storage.Storage
	logs  storage.LogRepository
}

// NewStoreFacts creates a FactSource over store and a log repository.
func NewStoreFacts(store storage.Storage, logs storage.LogRepository) *StoreFacts {
	return &StoreFacts{store: store, logs: logs}
}

func (f *StoreFacts) CountLogs(ctx context.Context, minLevel models.LogLevel, start, end time.Time, scope models.Scope) (int64, error) {
	return f.logs.Count(ctx, &storage.LogFilter{
		StartTime:  start,
		EndTime:    end,
		MinLevel:   minLevel,
		ServerName: scope.ServerName,
		JobID:      scope.JobID,
	})
}

func (f *StoreFacts) LogMessages(ctx context.Context, start, end time.Time, scope models.Scope, contains string, limit, offset int) ([]string, bool, error) {
	result, err := f.logs.Query(ctx, &storage.LogFilter{
		StartTime:       start,
		EndTime:         end,
		ServerName:      scope.ServerName,
		JobID:           scope.JobID,
		MessageContains: contains,
		Limit:           limit,
		Offset:          offset,
		OrderAsc:        true,
	})
	if err != nil {
		return nil, false, err
	}
	messages := make([]string, len(result.Entries))
	for i, e := range result.Entries {
		messages[i] = e.Message
	}
	return messages, result.HasMore, nil
}

func (f *StoreFacts) Jobs(ctx context.Context) ([]*models.Job, error) {
	return f.store.Jobs().List(ctx)
}

func (f *StoreFacts) Job(ctx context.Context, id string) (*models.Job, error) {
	return f.store.Jobs().GetByID(ctx, id)
}

func (f *StoreFacts) RecentExecutions(ctx context.Context, jobID string, limit int) ([]*models.JobExecution, error) {
	return f.store.Executions().ListRecentCompleted(ctx, jobID, limit)
}

func (f *StoreFacts) Execution(ctx context.Context, id string) (*models.JobExecution, error) {
	return f.store.Executions().GetByID(ctx, id)
}

func (f *StoreFacts) LatestCompletedExecution(ctx context.Context, jobID string) (*models.JobExecution, error) {
	return f.store.Executions().LatestCompleted(ctx, jobID)
}

func (f *StoreFacts) AverageSuccessDuration(ctx context.Context, jobID, excludeID string, sample int) (float64, int, error) {
	return f.store.Executions().AverageSuccessDuration(ctx, jobID, excludeID, sample)
}

func (f *StoreFacts) Servers(ctx context.Context) ([]*models.Server, error) {
	return f.store.Servers().List(ctx)
}

func (f *StoreFacts) Server(ctx context.Context, name string) (*models.Server, error) {
	return f.store.Servers().GetByName(ctx, name)
}
