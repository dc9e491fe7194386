package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// sqliteLogRepo stores logs in the main SQLite database. It backs the
// alert evaluators when no ClickHouse cluster is configured.
type sqliteLogRepo struct {
	db *sql.DB
}

func (r *sqliteLogRepo) InsertBatch(ctx context.Context, entries []*models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO logs (id, timestamp, level, level_rank, message, server_name, job_id,
			execution_id, category, correlation_id, exception, properties_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		var props sql.NullString
		if len(entry.Properties) > 0 {
			data, err := json.Marshal(entry.Properties)
			if err != nil {
				return fmt.Errorf("marshal properties: %w", err)
			}
			props = sql.NullString{String: string(data), Valid: true}
		}

		_, err := stmt.ExecContext(ctx,
			entry.ID, toNanos(entry.Timestamp), string(entry.Level), entry.Level.Rank(), entry.Message,
			nullString(entry.ServerName), nullString(entry.JobID), nullString(entry.ExecutionID),
			nullString(entry.Category), nullString(entry.CorrelationID), nullString(entry.Exception),
			props,
		)
		if err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *sqliteLogRepo) Query(ctx context.Context, filter *LogFilter) (*LogQueryResult, error) {
	where, args := sqliteLogWhere(filter)

	order := "DESC"
	if filter.OrderAsc {
		order = "ASC"
	}
	query := `SELECT id, timestamp, level, message, server_name, job_id, execution_id,
		category, correlation_id, exception, properties_json FROM logs` + where +
		fmt.Sprintf(" ORDER BY timestamp %s, id LIMIT ? OFFSET ?", order)

	rows, err := r.db.QueryContext(ctx, query, append(args, filter.limit(), filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var entries []*models.LogEntry
	for rows.Next() {
		entry := &models.LogEntry{}
		var ts int64
		var level string
		var serverName, jobID, execID, category, correlation, exception, props sql.NullString
		if err := rows.Scan(&entry.ID, &ts, &level, &entry.Message, &serverName, &jobID, &execID,
			&category, &correlation, &exception, &props); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		entry.Timestamp = fromNanos(ts)
		entry.Level = models.LogLevel(level)
		entry.ServerName = serverName.String
		entry.JobID = jobID.String
		entry.ExecutionID = execID.String
		entry.Category = category.String
		entry.CorrelationID = correlation.String
		entry.Exception = exception.String
		if props.Valid {
			if err := json.Unmarshal([]byte(props.String), &entry.Properties); err != nil {
				return nil, fmt.Errorf("unmarshal properties: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	// rows must be drained before Count runs on the single connection.
	rows.Close()

	total, err := r.Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &LogQueryResult{
		Entries: entries,
		Total:   total,
		HasMore: int64(filter.Offset+len(entries)) < total,
	}, nil
}

func (r *sqliteLogRepo) Count(ctx context.Context, filter *LogFilter) (int64, error) {
	where, args := sqliteLogWhere(filter)
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

func (r *sqliteLogRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM logs WHERE timestamp < ?", toNanos(before))
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	return result.RowsAffected()
}

func sqliteLogWhere(filter *LogFilter) (string, []any) {
	var conditions []string
	var args []any

	if !filter.StartTime.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, toNanos(filter.StartTime))
	}
	if !filter.EndTime.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, toNanos(filter.EndTime))
	}
	if filter.MinLevel != "" {
		conditions = append(conditions, "level_rank >= ?")
		args = append(args, filter.MinLevel.Rank())
	}
	if filter.ServerName != "" {
		conditions = append(conditions, "server_name = ?")
		args = append(args, filter.ServerName)
	}
	if filter.JobID != "" {
		conditions = append(conditions, "job_id = ?")
		args = append(args, filter.JobID)
	}
	if filter.MessageContains != "" {
		conditions = append(conditions, "instr(lower(message), lower(?)) > 0")
		args = append(args, filter.MessageContains)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
