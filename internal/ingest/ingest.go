// Package ingest accepts agent traffic: heartbeats, log batches and job
// execution reports.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/internal/broadcast"
	"github.com/good-yellow-bee/lognexus/internal/metrics"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

// MaxBatchSize bounds a single IngestLogs call.
const MaxBatchSize = 5000

var (
	// ErrInvalid marks requests rejected by validation.
	ErrInvalid = errors.New("invalid request")
	// ErrExecutionFinished is returned when completing an execution twice.
	ErrExecutionFinished = errors.New("execution already finished")
)

// LogSink receives validated log entries.
type LogSink interface {
	AddBatch(entries []*models.LogEntry) error
}

// AlertEvaluator runs event-scoped alert evaluation.
type AlertEvaluator interface {
	EvaluateAlertsFor(ctx context.Context, event alerting.EventScope, types ...models.AlertType) (*alerting.EvaluationReport, error)
}

// Heartbeat is an agent liveness report.
type Heartbeat struct {
	ServerName      string            `json:"server_name"`
	DisplayName     string            `json:"display_name,omitempty"`
	AgentVersion    string            `json:"agent_version,omitempty"`
	AgentType       string            `json:"agent_type,omitempty"`
	IPAddress       string            `json:"ip_address,omitempty"`
	OSInfo          string            `json:"os_info,omitempty"`
	IntervalSeconds int               `json:"heartbeat_interval_seconds,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Config configures a Service.
type Config struct {
	Clock  func() time.Time
	Logger logrus.FieldLogger
}

// Service validates agent reports and writes them to storage.
type Service struct {
	store  storage.Storage
	logs   LogSink
	alerts AlertEvaluator
	events broadcast.Broadcaster
	clock  func() time.Time
	log    logrus.FieldLogger
}

// NewService creates a Service. alerts may be nil, in which case completed
// executions are not evaluated.
func NewService(store storage.Storage, logs LogSink, alerts AlertEvaluator, events broadcast.Broadcaster, cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}
	if events == nil {
		events = broadcast.Nop{}
	}
	return &Service{
		store:  store,
		logs:   logs,
		alerts: alerts,
		events: events,
		clock:  cfg.Clock,
		log:    cfg.Logger.WithField("component", "ingest"),
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// RecordHeartbeat stores a heartbeat and returns the updated server.
func (s *Service) RecordHeartbeat(ctx context.Context, hb Heartbeat) (*models.Server, error) {
	name := strings.TrimSpace(hb.ServerName)
	if name == "" {
		return nil, invalid("server_name is required")
	}
	if hb.IntervalSeconds < 0 {
		return nil, invalid("heartbeat interval must not be negative")
	}

	now := s.clock()
	server := &models.Server{
		Name:                     name,
		DisplayName:              hb.DisplayName,
		AgentVersion:             hb.AgentVersion,
		AgentType:                hb.AgentType,
		IPAddress:                hb.IPAddress,
		OSInfo:                   hb.OSInfo,
		HeartbeatIntervalSeconds: hb.IntervalSeconds,
		Metadata:                 hb.Metadata,
	}
	prev, cur, err := s.store.Servers().RecordHeartbeat(ctx, server, now)
	if err != nil {
		return nil, fmt.Errorf("record heartbeat: %w", err)
	}
	metrics.IngestHeartbeatsTotal.Inc()

	if prev == "" {
		s.log.WithField("server", name).Info("new server registered")
	}
	if prev != cur {
		s.publishStatus(ctx, name, prev, cur, &now)
	}

	updated, err := s.store.Servers().GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get server: %w", err)
	}
	return updated, nil
}

// SetMaintenance puts a server into Maintenance or takes it out. A server
// leaving maintenance goes back to Unknown until its next heartbeat.
func (s *Service) SetMaintenance(ctx context.Context, name string, enabled bool) (*models.Server, error) {
	server, err := s.store.Servers().GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get server: %w", err)
	}
	if server == nil {
		return nil, fmt.Errorf("server %s: %w", name, alerting.ErrNotFound)
	}

	to := models.ServerStatusUnknown
	if enabled {
		to = models.ServerStatusMaintenance
	}
	if server.Status == to || (!enabled && server.Status != models.ServerStatusMaintenance) {
		return server, nil
	}

	now := s.clock()
	if err := s.store.Servers().SetStatus(ctx, name, to, now); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"server": name, "maintenance": enabled}).Info("server maintenance changed")
	s.publishStatus(ctx, name, server.Status, to, server.LastHeartbeat)

	server.Status = to
	server.UpdatedAt = now
	return server, nil
}

func (s *Service) publishStatus(ctx context.Context, name string, prev, cur models.ServerStatus, lastHeartbeat *time.Time) {
	ev := broadcast.Event{
		Type:      broadcast.EventServerStatusChanged,
		Timestamp: s.clock(),
		Data: broadcast.ServerStatusChange{
			ServerName:     name,
			PreviousStatus: prev,
			Status:         cur,
			LastHeartbeat:  lastHeartbeat,
		},
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.WithError(err).WithField("server", name).Warn("failed to broadcast server status")
	}
}

// IngestLogs validates entries and hands them to the log sink. Entries
// without a timestamp are stamped with the current time; unknown levels
// are normalized.
func (s *Service) IngestLogs(ctx context.Context, entries []*models.LogEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	if len(entries) > MaxBatchSize {
		return 0, invalid("batch of %d entries exceeds limit of %d", len(entries), MaxBatchSize)
	}

	now := s.clock()
	for i, e := range entries {
		if e == nil {
			return 0, invalid("entry %d is empty", i)
		}
		if strings.TrimSpace(e.Message) == "" {
			return 0, invalid("entry %d has no message", i)
		}
		if !e.Level.Valid() {
			e.Level = models.ParseLogLevel(string(e.Level))
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
	}

	if err := s.logs.AddBatch(entries); err != nil {
		return 0, fmt.Errorf("buffer logs: %w", err)
	}
	for _, e := range entries {
		metrics.IngestLogsTotal.WithLabelValues(string(e.Level)).Inc()
	}
	return len(entries), nil
}

// RegisterJob creates or updates a job definition.
func (s *Service) RegisterJob(ctx context.Context, job *models.Job) error {
	job.ID = strings.TrimSpace(job.ID)
	if job.ID == "" {
		return invalid("job_id is required")
	}
	if job.ExpectedDurationMs != nil && *job.ExpectedDurationMs <= 0 {
		return invalid("expected_duration_ms must be positive")
	}
	now := s.clock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if err := s.store.Jobs().Upsert(ctx, job); err != nil {
		return err
	}
	return nil
}

// SetJobActive enables or disables a job. Inactive jobs are skipped by
// JobFailure alerts that are not scoped to a job.
func (s *Service) SetJobActive(ctx context.Context, id string, active bool) (*models.Job, error) {
	job, err := s.store.Jobs().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", id, alerting.ErrNotFound)
	}
	if job.IsActive == active {
		return job, nil
	}

	now := s.clock()
	if err := s.store.Jobs().SetActive(ctx, id, active, now); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"job_id": id, "active": active}).Info("job activation changed")

	job.IsActive = active
	job.UpdatedAt = now
	return job, nil
}

// RunningExecutions lists unfinished executions, optionally for one job.
func (s *Service) RunningExecutions(ctx context.Context, jobID string) ([]*models.JobExecution, error) {
	return s.store.Executions().ListRunning(ctx, strings.TrimSpace(jobID))
}

// StartExecution records a running execution. Unknown jobs are registered
// on the fly.
func (s *Service) StartExecution(ctx context.Context, exec *models.JobExecution) (*models.JobExecution, error) {
	exec.JobID = strings.TrimSpace(exec.JobID)
	if exec.JobID == "" {
		return nil, invalid("job_id is required")
	}

	job, err := s.store.Jobs().GetByID(ctx, exec.JobID)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		job = &models.Job{ID: exec.JobID, DisplayName: exec.JobID, ServerName: exec.ServerName, IsActive: true}
		if err := s.RegisterJob(ctx, job); err != nil {
			return nil, err
		}
		s.log.WithField("job_id", job.ID).Info("job auto-registered")
	}

	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = s.clock()
	}
	exec.Status = models.ExecutionRunning
	exec.CompletedAt = nil
	exec.DurationMs = nil
	if err := s.store.Executions().Create(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// CompleteExecution finishes a running execution and evaluates the job
// alerts it may affect. Evaluation failures are logged, not returned.
func (s *Service) CompleteExecution(ctx context.Context, id string, status models.ExecutionStatus, errorMessage, output string) (*models.JobExecution, error) {
	if !status.IsTerminal() {
		return nil, invalid("status %q is not a terminal status", status)
	}

	exec, err := s.store.Executions().Complete(ctx, id, status, s.clock(), errorMessage, output)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		existing, err := s.store.Executions().GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get execution: %w", err)
		}
		if existing == nil {
			return nil, fmt.Errorf("execution %s: %w", id, alerting.ErrNotFound)
		}
		return nil, fmt.Errorf("execution %s: %w", id, ErrExecutionFinished)
	}
	metrics.IngestExecutionsTotal.WithLabelValues(string(status)).Inc()

	log := s.log.WithFields(logrus.Fields{"job_id": exec.JobID, "execution_id": exec.ID, "status": status})
	log.Debug("execution completed")

	if s.alerts == nil {
		return exec, nil
	}
	report, err := s.alerts.EvaluateAlertsFor(ctx, alerting.EventScope{
		JobID:       exec.JobID,
		ServerName:  exec.ServerName,
		ExecutionID: exec.ID,
	}, models.AlertTypeJobFailure, models.AlertTypeDurationExceeded)
	switch {
	case err != nil:
		log.WithError(err).Error("failed to evaluate job alerts")
	case report.Err() != nil:
		log.WithError(report.Err()).Warn("job alert evaluation failed")
	case report.Fired > 0:
		log.WithField("fired", report.Fired).Info("job alerts fired")
	}
	return exec, nil
}
