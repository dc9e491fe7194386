// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// ErrConflict is returned by conditional writes whose precondition no longer
// holds because another writer got there first.
var ErrConflict = errors.New("conditional update conflict")

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error
	// Ping checks the connection health.
	Ping(ctx context.Context) error

	// Repository accessors
	Alerts() AlertRepository
	Instances() InstanceRepository
	Servers() ServerRepository
	Jobs() JobRepository
	Executions() ExecutionRepository
}

// AlertRepository defines operations for alert definitions.
type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	GetByName(ctx context.Context, name string) (*models.Alert, error)
	// Update writes definition fields. Trigger state is left untouched.
	Update(ctx context.Context, alert *models.Alert) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Alert, error)
	ListActive(ctx context.Context) ([]*models.Alert, error)
	ListActiveByType(ctx context.Context, types ...models.AlertType) ([]*models.Alert, error)
	// ListTriggerable returns active alerts whose throttle window has elapsed
	// at now, never-triggered alerts first, then oldest trigger first.
	ListTriggerable(ctx context.Context, now time.Time) ([]*models.Alert, error)
	SetActive(ctx context.Context, id string, active bool) error

	// RecordTrigger inserts inst and advances the owning alert's
	// last_triggered_at to inst.TriggeredAt and trigger_count by one, in a
	// single transaction. The alert row is only updated while it is active
	// and its last_triggered_at still equals expectedLast; otherwise nothing
	// is written and ErrConflict is returned.
	RecordTrigger(ctx context.Context, inst *models.AlertInstance, expectedLast *time.Time) error
}

// InstanceFilter selects alert instances for listing.
type InstanceFilter struct {
	AlertID  string
	Statuses []models.InstanceStatus
	Limit    int
	Offset   int
}

// InstanceRepository defines operations for alert instances.
type InstanceRepository interface {
	Create(ctx context.Context, inst *models.AlertInstance) error
	// GetByID returns the instance with its notification records.
	GetByID(ctx context.Context, id string) (*models.AlertInstance, error)
	// List returns instances newest first, without notification records.
	List(ctx context.Context, filter InstanceFilter) ([]*models.AlertInstance, error)
	// Transition applies t only while the instance is in one of from.
	// It reports whether a row changed.
	Transition(ctx context.Context, id string, from []models.InstanceStatus, t models.Transition) (bool, error)
	AddNotifications(ctx context.Context, instanceID string, records []models.NotificationRecord) error
	// DeleteOldResolved removes Resolved and Suppressed instances triggered
	// before cutoff.
	DeleteOldResolved(ctx context.Context, cutoff time.Time) (int64, error)
}

// ServerRepository defines operations for monitored servers.
type ServerRepository interface {
	Upsert(ctx context.Context, server *models.Server) error
	GetByName(ctx context.Context, name string) (*models.Server, error)
	List(ctx context.Context) ([]*models.Server, error)
	Delete(ctx context.Context, name string) error
	// RecordHeartbeat stores a heartbeat, creating the server on first
	// contact. The status becomes Online unless the server is in
	// Maintenance. It returns the status before and after the update; the
	// previous status is empty for a newly created server.
	RecordHeartbeat(ctx context.Context, hb *models.Server, at time.Time) (previous, current models.ServerStatus, err error)
	// ListUnresponsive returns active servers outside Maintenance whose last
	// heartbeat is older than heartbeatCutoff, plus servers that never sent
	// one and were created before createdCutoff.
	ListUnresponsive(ctx context.Context, heartbeatCutoff, createdCutoff time.Time) ([]*models.Server, error)
	// CompareAndSetStatus changes the status only while it still equals from.
	CompareAndSetStatus(ctx context.Context, name string, from, to models.ServerStatus, at time.Time) (bool, error)
	SetStatus(ctx context.Context, name string, to models.ServerStatus, at time.Time) error
}

// JobRepository defines operations for jobs.
type JobRepository interface {
	Upsert(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context) ([]*models.Job, error)
	SetActive(ctx context.Context, id string, active bool, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository defines operations for job executions.
type ExecutionRepository interface {
	Create(ctx context.Context, exec *models.JobExecution) error
	GetByID(ctx context.Context, id string) (*models.JobExecution, error)
	// ListRunning returns unfinished executions, newest first, optionally
	// narrowed to one job.
	ListRunning(ctx context.Context, jobID string) ([]*models.JobExecution, error)
	// Complete finishes a running execution and computes its duration.
	// It returns nil if no unfinished execution has that id.
	Complete(ctx context.Context, id string, status models.ExecutionStatus, at time.Time, errorMessage, output string) (*models.JobExecution, error)
	// ListRecentCompleted returns up to limit finished executions of a job,
	// oldest first.
	ListRecentCompleted(ctx context.Context, jobID string, limit int) ([]*models.JobExecution, error)
	// LatestCompleted returns the most recently finished execution of jobID,
	// or of any job when jobID is empty.
	LatestCompleted(ctx context.Context, jobID string) (*models.JobExecution, error)
	// AverageSuccessDuration averages the durations of the last sample
	// successful executions of a job, skipping excludeID.
	AverageSuccessDuration(ctx context.Context, jobID, excludeID string, sample int) (avgMs float64, n int, err error)
}
