package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

type sqliteJobRepo struct {
	db *sql.DB
}

const jobColumns = `id, display_name, server_name, description, is_active, timeout_minutes,
	expected_duration_ms, created_at, updated_at`

func (r *sqliteJobRepo) Upsert(ctx context.Context, job *models.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	displayName := job.DisplayName
	if displayName == "" {
		displayName = job.ID
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			server_name = excluded.server_name,
			description = excluded.description,
			is_active = excluded.is_active,
			timeout_minutes = excluded.timeout_minutes,
			expected_duration_ms = excluded.expected_duration_ms,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID, displayName, nullString(job.ServerName), nullString(job.Description),
		boolToInt(job.IsActive), job.TimeoutMinutes, nullInt64Ptr(job.ExpectedDurationMs),
		toNanos(job.CreatedAt), toNanos(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

func (r *sqliteJobRepo) GetByID(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (r *sqliteJobRepo) List(ctx context.Context) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *sqliteJobRepo) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE jobs SET is_active = ?, updated_at = ? WHERE id = ?",
		boolToInt(active), toNanos(at), id,
	)
	if err != nil {
		return fmt.Errorf("set job active: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("job not found: %s", id)
	}
	return nil
}

func (r *sqliteJobRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("job not found: %s", id)
	}
	return nil
}

func scanJob(row scanner) (*models.Job, error) {
	job := &models.Job{}
	var serverName, description sql.NullString
	var active int
	var expected sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&job.ID, &job.DisplayName, &serverName, &description, &active,
		&job.TimeoutMinutes, &expected, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.ServerName = serverName.String
	job.Description = description.String
	job.IsActive = active != 0
	job.ExpectedDurationMs = int64Ptr(expected)
	job.CreatedAt = fromNanos(createdAt)
	job.UpdatedAt = fromNanos(updatedAt)
	return job, nil
}

type sqliteExecutionRepo struct {
	db *sql.DB
}

const executionColumns = `id, job_id, server_name, status, started_at, completed_at, duration_ms,
	trigger_type, triggered_by, error_message, output_message`

func (r *sqliteExecutionRepo) Create(ctx context.Context, exec *models.JobExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.Status == "" {
		exec.Status = models.ExecutionRunning
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}

	query := `INSERT INTO job_executions (` + executionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		exec.ID, exec.JobID, nullString(exec.ServerName), string(exec.Status),
		toNanos(exec.StartedAt), nullNanos(exec.CompletedAt), nullInt64Ptr(exec.DurationMs),
		nullString(exec.TriggerType), nullString(exec.TriggeredBy),
		nullString(exec.ErrorMessage), nullString(exec.OutputMessage),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (r *sqliteExecutionRepo) GetByID(ctx context.Context, id string) (*models.JobExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM job_executions WHERE id = ?`
	exec, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return exec, err
}

func (r *sqliteExecutionRepo) Complete(ctx context.Context, id string, status models.ExecutionStatus, at time.Time, errorMessage, output string) (*models.JobExecution, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin completion transaction: %w", err)
	}
	defer tx.Rollback()

	var startedAt int64
	err = tx.QueryRowContext(ctx,
		"SELECT started_at FROM job_executions WHERE id = ? AND completed_at IS NULL", id,
	).Scan(&startedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read execution: %w", err)
	}

	duration := at.Sub(fromNanos(startedAt)).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE job_executions SET status = ?, completed_at = ?, duration_ms = ?,
			error_message = ?, output_message = ?
		WHERE id = ?
	`, string(status), toNanos(at), duration, nullString(errorMessage), nullString(output), id)
	if err != nil {
		return nil, fmt.Errorf("complete execution: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit completion: %w", err)
	}

	return r.GetByID(ctx, id)
}

func (r *sqliteExecutionRepo) ListRunning(ctx context.Context, jobID string) ([]*models.JobExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM job_executions WHERE completed_at IS NULL`
	var args []any
	if jobID != "" {
		query += ` AND job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY started_at DESC`
	return r.queryExecutions(ctx, query, args...)
}

func (r *sqliteExecutionRepo) ListRecentCompleted(ctx context.Context, jobID string, limit int) ([]*models.JobExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + executionColumns + ` FROM job_executions
		WHERE job_id = ? AND completed_at IS NOT NULL
		ORDER BY completed_at DESC, started_at DESC LIMIT ?`
	execs, err := r.queryExecutions(ctx, query, jobID, limit)
	if err != nil {
		return nil, err
	}
	// Oldest first.
	for i, j := 0, len(execs)-1; i < j; i, j = i+1, j-1 {
		execs[i], execs[j] = execs[j], execs[i]
	}
	return execs, nil
}

func (r *sqliteExecutionRepo) LatestCompleted(ctx context.Context, jobID string) (*models.JobExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM job_executions WHERE completed_at IS NOT NULL`
	var args []any
	if jobID != "" {
		query += " AND job_id = ?"
		args = append(args, jobID)
	}
	query += " ORDER BY completed_at DESC, started_at DESC LIMIT 1"

	exec, err := scanExecution(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return exec, err
}

func (r *sqliteExecutionRepo) AverageSuccessDuration(ctx context.Context, jobID, excludeID string, sample int) (float64, int, error) {
	if sample <= 0 {
		sample = 20
	}
	var avg sql.NullFloat64
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT AVG(duration_ms), COUNT(*) FROM (
			SELECT duration_ms FROM job_executions
			WHERE job_id = ? AND status = ? AND id != ? AND duration_ms IS NOT NULL
			ORDER BY completed_at DESC LIMIT ?
		)
	`, jobID, string(models.ExecutionSuccess), excludeID, sample).Scan(&avg, &n)
	if err != nil {
		return 0, 0, fmt.Errorf("average success duration: %w", err)
	}
	return avg.Float64, n, nil
}

func (r *sqliteExecutionRepo) queryExecutions(ctx context.Context, query string, args ...any) ([]*models.JobExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var execs []*models.JobExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func scanExecution(row scanner) (*models.JobExecution, error) {
	exec := &models.JobExecution{}
	var serverName, triggerType, triggeredBy, errMsg, output sql.NullString
	var status string
	var startedAt int64
	var completedAt, duration sql.NullInt64

	err := row.Scan(&exec.ID, &exec.JobID, &serverName, &status, &startedAt, &completedAt,
		&duration, &triggerType, &triggeredBy, &errMsg, &output)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	exec.ServerName = serverName.String
	exec.Status = models.ExecutionStatus(status)
	exec.StartedAt = fromNanos(startedAt)
	exec.CompletedAt = timePtr(completedAt)
	exec.DurationMs = int64Ptr(duration)
	exec.TriggerType = triggerType.String
	exec.TriggeredBy = triggeredBy.String
	exec.ErrorMessage = errMsg.String
	exec.OutputMessage = output.String
	return exec, nil
}
