package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Pure-Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage and LogStorage using SQLite.
type SQLiteStorage struct {
	path string
	db   *sql.DB

	alerts     *sqliteAlertRepo
	instances  *sqliteInstanceRepo
	servers    *sqliteServerRepo
	jobs       *sqliteJobRepo
	executions *sqliteExecutionRepo
	logs       *sqliteLogRepo
}

// NewSQLiteStorage creates a new SQLite storage.
func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path}
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	ctx := context.Background()

	db, err := sql.Open("sqlite", "file:"+s.path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Keep connection alive

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	// Enable foreign keys and WAL mode
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	s.db = db

	// Initialize repositories
	s.alerts = &sqliteAlertRepo{db: db}
	s.instances = &sqliteInstanceRepo{db: db}
	s.servers = &sqliteServerRepo{db: db}
	s.jobs = &sqliteJobRepo{db: db}
	s.executions = &sqliteExecutionRepo{db: db}
	s.logs = &sqliteLogRepo{db: db}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Ping checks the connection health.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not open")
	}
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(s.db)
}

// Alerts returns the alert repository.
func (s *SQLiteStorage) Alerts() AlertRepository {
	return s.alerts
}

// Instances returns the alert instance repository.
func (s *SQLiteStorage) Instances() InstanceRepository {
	return s.instances
}

// Servers returns the server repository.
func (s *SQLiteStorage) Servers() ServerRepository {
	return s.servers
}

// Jobs returns the job repository.
func (s *SQLiteStorage) Jobs() JobRepository {
	return s.jobs
}

// Executions returns the job execution repository.
func (s *SQLiteStorage) Executions() ExecutionRepository {
	return s.executions
}

// Logs returns the log repository backed by the same database.
func (s *SQLiteStorage) Logs() LogRepository {
	return s.logs
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Timestamps are stored as UTC unix nanoseconds so range comparisons are
// plain integer comparisons.
func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}
