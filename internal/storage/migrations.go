package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Servers, keyed by name
			CREATE TABLE IF NOT EXISTS servers (
				name TEXT PRIMARY KEY,
				display_name TEXT,
				status TEXT NOT NULL DEFAULT 'Unknown',
				is_active INTEGER NOT NULL DEFAULT 1,
				heartbeat_interval_seconds INTEGER NOT NULL DEFAULT 30,
				last_heartbeat INTEGER,
				agent_version TEXT,
				agent_type TEXT,
				ip_address TEXT,
				os_info TEXT,
				metadata_json TEXT,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);

			-- Jobs
			CREATE TABLE IF NOT EXISTS jobs (
				id TEXT PRIMARY KEY,
				display_name TEXT NOT NULL,
				server_name TEXT,
				description TEXT,
				is_active INTEGER NOT NULL DEFAULT 1,
				timeout_minutes INTEGER NOT NULL DEFAULT 0,
				expected_duration_ms INTEGER,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);

			-- Job executions
			CREATE TABLE IF NOT EXISTS job_executions (
				id TEXT PRIMARY KEY,
				job_id TEXT NOT NULL,
				server_name TEXT,
				status TEXT NOT NULL,
				started_at INTEGER NOT NULL,
				completed_at INTEGER,
				duration_ms INTEGER,
				trigger_type TEXT,
				triggered_by TEXT,
				error_message TEXT,
				output_message TEXT,
				FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
			);

			-- Alert definitions
			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				name TEXT UNIQUE NOT NULL,
				description TEXT,
				type TEXT NOT NULL,
				condition_json TEXT NOT NULL,
				severity TEXT NOT NULL,
				throttle_minutes INTEGER NOT NULL CHECK (throttle_minutes BETWEEN 1 AND 1440),
				is_active INTEGER NOT NULL DEFAULT 1,
				scope_job_id TEXT,
				scope_server_name TEXT,
				notify_json TEXT NOT NULL,
				last_triggered_at INTEGER,
				trigger_count INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				created_by TEXT,
				updated_at INTEGER NOT NULL,
				updated_by TEXT
			);

			-- Alert instances, owned by an alert
			CREATE TABLE IF NOT EXISTS alert_instances (
				id TEXT PRIMARY KEY,
				alert_id TEXT NOT NULL,
				alert_name TEXT NOT NULL,
				triggered_at INTEGER NOT NULL,
				status TEXT NOT NULL,
				severity TEXT NOT NULL,
				message TEXT NOT NULL,
				job_id TEXT,
				server_name TEXT,
				context_json TEXT,
				acknowledged_at INTEGER,
				acknowledged_by TEXT,
				acknowledgement_note TEXT,
				resolved_at INTEGER,
				resolved_by TEXT,
				resolution_note TEXT,
				suppressed_at INTEGER,
				suppressed_by TEXT,
				suppression_note TEXT,
				FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE CASCADE
			);

			-- Per-channel notification outcomes
			CREATE TABLE IF NOT EXISTS alert_notifications (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				instance_id TEXT NOT NULL,
				channel TEXT NOT NULL,
				recipient TEXT NOT NULL,
				success INTEGER NOT NULL,
				error TEXT,
				sent_at INTEGER NOT NULL,
				FOREIGN KEY (instance_id) REFERENCES alert_instances(id) ON DELETE CASCADE
			);

			-- Log entries
			CREATE TABLE IF NOT EXISTS logs (
				id TEXT PRIMARY KEY,
				timestamp INTEGER NOT NULL,
				level TEXT NOT NULL,
				level_rank INTEGER NOT NULL,
				message TEXT NOT NULL,
				server_name TEXT,
				job_id TEXT,
				execution_id TEXT,
				category TEXT,
				correlation_id TEXT,
				exception TEXT,
				properties_json TEXT
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_alerts_active ON alerts(is_active, last_triggered_at);
			CREATE INDEX IF NOT EXISTS idx_alerts_type ON alerts(type);
			CREATE INDEX IF NOT EXISTS idx_instances_alert ON alert_instances(alert_id, triggered_at);
			CREATE INDEX IF NOT EXISTS idx_instances_status ON alert_instances(status, triggered_at);
			CREATE INDEX IF NOT EXISTS idx_notifications_instance ON alert_notifications(instance_id);
			CREATE INDEX IF NOT EXISTS idx_executions_job ON job_executions(job_id, started_at);
			CREATE INDEX IF NOT EXISTS idx_servers_heartbeat ON servers(is_active, last_heartbeat);
			CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
			CREATE INDEX IF NOT EXISTS idx_logs_server ON logs(server_name, timestamp);
			CREATE INDEX IF NOT EXISTS idx_logs_job ON logs(job_id, timestamp);
		`,
	},
	{
		Version: 2,
		Name:    "scope_set_null",
		// Alert scopes may name servers and jobs that do not exist yet, so
		// they are not foreign keys; deleting the target clears the scope.
		Up: `
			CREATE TRIGGER IF NOT EXISTS trg_servers_scope_set_null
			AFTER DELETE ON servers
			BEGIN
				UPDATE alerts SET scope_server_name = NULL WHERE scope_server_name = OLD.name;
			END;

			CREATE TRIGGER IF NOT EXISTS trg_jobs_scope_set_null
			AFTER DELETE ON jobs
			BEGIN
				UPDATE alerts SET scope_job_id = NULL WHERE scope_job_id = OLD.id;
			END;
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	// Apply pending migrations
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		// Run migration in transaction
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		_, err = tx.Exec(m.Up)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now().UnixNano(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
