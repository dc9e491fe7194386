package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	// Addresses are the ClickHouse server addresses (host:port).
	Addresses []string

	Database string
	Username string
	Password string

	MaxOpenConns int
	MaxIdleConns int

	DialTimeout time.Duration

	// Compression enables LZ4 compression.
	Compression bool

	// RetentionDays is the TTL in days for log retention.
	RetentionDays int

	Logger logrus.FieldLogger
}

// ClickHouseStorage implements LogStorage for ClickHouse.
type ClickHouseStorage struct {
	config *ClickHouseConfig
	db     *sql.DB
	logs   *clickhouseLogRepo
}

// NewClickHouseStorage creates a new ClickHouse storage.
func NewClickHouseStorage(config *ClickHouseConfig) *ClickHouseStorage {
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 5
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.RetentionDays == 0 {
		config.RetentionDays = 30
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	return &ClickHouseStorage{config: config}
}

// Open initializes the ClickHouse connection.
func (s *ClickHouseStorage) Open() error {
	opts := &clickhouse.Options{
		Addr: s.config.Addresses,
		Auth: clickhouse.Auth{
			Database: s.config.Database,
			Username: s.config.Username,
			Password: s.config.Password,
		},
		DialTimeout:  s.config.DialTimeout,
		MaxOpenConns: s.config.MaxOpenConns,
		MaxIdleConns: s.config.MaxIdleConns,
	}

	if s.config.Compression {
		opts.Compression = &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		}
	}

	db := clickhouse.OpenDB(opts)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.DialTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	s.db = db
	s.logs = &clickhouseLogRepo{db: db}
	return nil
}

// Close closes the database connection.
func (s *ClickHouseStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the logs table if it doesn't exist.
func (s *ClickHouseStorage) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS logs (
			id UUID DEFAULT generateUUIDv4(),
			timestamp DateTime64(3, 'UTC'),
			level LowCardinality(String),
			level_rank Int8,
			message String,
			server_name LowCardinality(String),
			job_id String,
			execution_id String,
			category String,
			correlation_id String,
			exception String,
			properties String,
			_date Date DEFAULT toDate(timestamp)
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(_date)
		ORDER BY (server_name, level_rank, timestamp, id)
		TTL _date + INTERVAL %d DAY DELETE
		SETTINGS index_granularity = 8192
	`, s.config.RetentionDays)

	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create logs table: %w", err)
	}

	indexes := []string{
		"ALTER TABLE logs ADD INDEX IF NOT EXISTS idx_message message TYPE tokenbf_v1(32768, 3, 0) GRANULARITY 4",
		"ALTER TABLE logs ADD INDEX IF NOT EXISTS idx_job job_id TYPE bloom_filter(0.01) GRANULARITY 4",
	}

	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			// Skipping indexes is fine on servers that lack the index type.
			s.config.Logger.WithError(err).Warn("failed to create clickhouse index")
		}
	}

	return nil
}

// Ping checks the connection health.
func (s *ClickHouseStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Logs returns the log repository.
func (s *ClickHouseStorage) Logs() LogRepository {
	return s.logs
}

// clickhouseLogRepo implements LogRepository for ClickHouse.
type clickhouseLogRepo struct {
	db *sql.DB
}

// InsertBatch inserts multiple log entries using batch insert.
func (r *clickhouseLogRepo) InsertBatch(ctx context.Context, entries []*models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO logs (
			id, timestamp, level, level_rank, message, server_name, job_id,
			execution_id, category, correlation_id, exception, properties
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}

		props := ""
		if len(entry.Properties) > 0 {
			data, err := json.Marshal(entry.Properties)
			if err != nil {
				return fmt.Errorf("marshal properties: %w", err)
			}
			props = string(data)
		}

		_, err := stmt.ExecContext(ctx,
			entry.ID,
			entry.Timestamp.UTC(),
			string(entry.Level),
			int8(entry.Level.Rank()),
			entry.Message,
			entry.ServerName,
			entry.JobID,
			entry.ExecutionID,
			entry.Category,
			entry.CorrelationID,
			entry.Exception,
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

// Query retrieves logs matching the filter.
func (r *clickhouseLogRepo) Query(ctx context.Context, filter *LogFilter) (*LogQueryResult, error) {
	query, args := r.buildQuery(filter, false)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var entries []*models.LogEntry
	for rows.Next() {
		entry := &models.LogEntry{}
		var level, props string

		err := rows.Scan(
			&entry.ID,
			&entry.Timestamp,
			&level,
			&entry.Message,
			&entry.ServerName,
			&entry.JobID,
			&entry.ExecutionID,
			&entry.Category,
			&entry.CorrelationID,
			&entry.Exception,
			&props,
		)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		entry.Level = models.LogLevel(level)
		if props != "" {
			json.Unmarshal([]byte(props), &entry.Properties)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	total, err := r.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}

	return &LogQueryResult{
		Entries: entries,
		Total:   total,
		HasMore: int64(filter.Offset+len(entries)) < total,
	}, nil
}

// Count returns the count of logs matching the filter.
func (r *clickhouseLogRepo) Count(ctx context.Context, filter *LogFilter) (int64, error) {
	query, args := r.buildQuery(filter, true)

	var count uint64
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	return int64(count), nil
}

// DeleteBefore removes logs older than the specified time.
func (r *clickhouseLogRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	var count uint64
	err := r.db.QueryRowContext(ctx, "SELECT count() FROM logs WHERE timestamp < ?", before.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	// ALTER TABLE DELETE is an asynchronous mutation in ClickHouse.
	_, err = r.db.ExecContext(ctx, "ALTER TABLE logs DELETE WHERE timestamp < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}

	return int64(count), nil
}

// buildQuery constructs the SQL query based on filter.
func (r *clickhouseLogRepo) buildQuery(filter *LogFilter, countOnly bool) (string, []any) {
	var sb strings.Builder
	var args []any

	if countOnly {
		sb.WriteString("SELECT count() FROM logs")
	} else {
		sb.WriteString(`
			SELECT toString(id), timestamp, level, message, server_name, job_id,
			       execution_id, category, correlation_id, exception, properties
			FROM logs
		`)
	}

	var conditions []string

	if !filter.StartTime.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.StartTime.UTC())
	}
	if !filter.EndTime.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, filter.EndTime.UTC())
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
		conditions = append(conditions, "positionCaseInsensitiveUTF8(message, ?) > 0")
		args = append(args, filter.MessageContains)
	}

	if len(conditions) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conditions, " AND "))
	}

	if countOnly {
		return sb.String(), args
	}

	orderDir := "DESC"
	if filter.OrderAsc {
		orderDir = "ASC"
	}
	sb.WriteString(fmt.Sprintf(" ORDER BY timestamp %s", orderDir))

	sb.WriteString(fmt.Sprintf(" LIMIT %d", filter.limit()))
	if filter.Offset > 0 {
		sb.WriteString(fmt.Sprintf(" OFFSET %d", filter.Offset))
	}

	return sb.String(), args
}
