package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

type sqliteServerRepo struct {
	db *sql.DB
}

const serverColumns = `name, display_name, status, is_active, heartbeat_interval_seconds,
	last_heartbeat, agent_version, agent_type, ip_address, os_info, metadata_json,
	created_at, updated_at`

func (r *sqliteServerRepo) Upsert(ctx context.Context, server *models.Server) error {
	metadata, err := encodeMetadata(server.Metadata)
	if err != nil {
		return err
	}
	status := server.Status
	if status == "" {
		status = models.ServerStatusUnknown
	}
	if server.CreatedAt.IsZero() {
		server.CreatedAt = time.Now().UTC()
	}
	if server.UpdatedAt.IsZero() {
		server.UpdatedAt = server.CreatedAt
	}

	query := `
		INSERT INTO servers (` + serverColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			display_name = excluded.display_name,
			status = excluded.status,
			is_active = excluded.is_active,
			heartbeat_interval_seconds = excluded.heartbeat_interval_seconds,
			last_heartbeat = excluded.last_heartbeat,
			agent_version = excluded.agent_version,
			agent_type = excluded.agent_type,
			ip_address = excluded.ip_address,
			os_info = excluded.os_info,
			metadata_json = excluded.metadata_json,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		server.Name, nullString(server.DisplayName), string(status), boolToInt(server.IsActive),
		server.HeartbeatIntervalSeconds, nullNanos(server.LastHeartbeat),
		nullString(server.AgentVersion), nullString(server.AgentType),
		nullString(server.IPAddress), nullString(server.OSInfo), metadata,
		toNanos(server.CreatedAt), toNanos(server.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert server: %w", err)
	}
	return nil
}

func (r *sqliteServerRepo) GetByName(ctx context.Context, name string) (*models.Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE name = ?`
	server, err := scanServer(r.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return server, err
}

func (r *sqliteServerRepo) List(ctx context.Context) ([]*models.Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers ORDER BY name`
	return r.queryServers(ctx, query)
}

func (r *sqliteServerRepo) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM servers WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("server not found: %s", name)
	}
	return nil
}

func (r *sqliteServerRepo) RecordHeartbeat(ctx context.Context, hb *models.Server, at time.Time) (models.ServerStatus, models.ServerStatus, error) {
	metadata, err := encodeMetadata(hb.Metadata)
	if err != nil {
		return "", "", err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("begin heartbeat transaction: %w", err)
	}
	defer tx.Rollback()

	var previous string
	err = tx.QueryRowContext(ctx, "SELECT status FROM servers WHERE name = ?", hb.Name).Scan(&previous)
	switch {
	case err == sql.ErrNoRows:
		interval := hb.HeartbeatIntervalSeconds
		if interval <= 0 {
			interval = 30
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO servers (`+serverColumns+`)
			VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, hb.Name, nullString(hb.DisplayName), string(models.ServerStatusOnline), interval,
			toNanos(at), nullString(hb.AgentVersion), nullString(hb.AgentType),
			nullString(hb.IPAddress), nullString(hb.OSInfo), metadata,
			toNanos(at), toNanos(at),
		)
		if err != nil {
			return "", "", fmt.Errorf("insert server: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return "", "", fmt.Errorf("commit heartbeat: %w", err)
		}
		return "", models.ServerStatusOnline, nil
	case err != nil:
		return "", "", fmt.Errorf("read server status: %w", err)
	}

	current := models.ServerStatusOnline
	if models.ServerStatus(previous) == models.ServerStatusMaintenance {
		current = models.ServerStatusMaintenance
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE servers SET status = ?, last_heartbeat = ?,
			display_name = COALESCE(?, display_name),
			agent_version = COALESCE(?, agent_version),
			agent_type = COALESCE(?, agent_type),
			ip_address = COALESCE(?, ip_address),
			os_info = COALESCE(?, os_info),
			metadata_json = COALESCE(?, metadata_json),
			heartbeat_interval_seconds = CASE WHEN ? > 0 THEN ? ELSE heartbeat_interval_seconds END,
			updated_at = ?
		WHERE name = ?
	`, string(current), toNanos(at),
		nullString(hb.DisplayName), nullString(hb.AgentVersion), nullString(hb.AgentType),
		nullString(hb.IPAddress), nullString(hb.OSInfo), metadata,
		hb.HeartbeatIntervalSeconds, hb.HeartbeatIntervalSeconds,
		toNanos(at), hb.Name,
	)
	if err != nil {
		return "", "", fmt.Errorf("update heartbeat: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", "", fmt.Errorf("commit heartbeat: %w", err)
	}
	return models.ServerStatus(previous), current, nil
}

func (r *sqliteServerRepo) ListUnresponsive(ctx context.Context, heartbeatCutoff, createdCutoff time.Time) ([]*models.Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers
		WHERE is_active = 1 AND status != ?
			AND ((last_heartbeat IS NOT NULL AND last_heartbeat < ?)
				OR (last_heartbeat IS NULL AND created_at < ?))
		ORDER BY name`
	return r.queryServers(ctx, query,
		string(models.ServerStatusMaintenance), toNanos(heartbeatCutoff), toNanos(createdCutoff))
}

func (r *sqliteServerRepo) CompareAndSetStatus(ctx context.Context, name string, from, to models.ServerStatus, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE servers SET status = ?, updated_at = ? WHERE name = ? AND status = ?",
		string(to), toNanos(at), name, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("compare and set server status: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (r *sqliteServerRepo) SetStatus(ctx context.Context, name string, to models.ServerStatus, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE servers SET status = ?, updated_at = ? WHERE name = ?",
		string(to), toNanos(at), name,
	)
	if err != nil {
		return fmt.Errorf("set server status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("server not found: %s", name)
	}
	return nil
}

func (r *sqliteServerRepo) queryServers(ctx context.Context, query string, args ...any) ([]*models.Server, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query servers: %w", err)
	}
	defer rows.Close()

	var servers []*models.Server
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}
	return servers, rows.Err()
}

func encodeMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal server metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func scanServer(row scanner) (*models.Server, error) {
	server := &models.Server{}
	var displayName, agentVersion, agentType, ip, osInfo, metadata sql.NullString
	var status string
	var active int
	var lastHeartbeat sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&server.Name, &displayName, &status, &active, &server.HeartbeatIntervalSeconds,
		&lastHeartbeat, &agentVersion, &agentType, &ip, &osInfo, &metadata,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan server: %w", err)
	}

	server.DisplayName = displayName.String
	server.Status = models.ServerStatus(status)
	server.IsActive = active != 0
	server.LastHeartbeat = timePtr(lastHeartbeat)
	server.AgentVersion = agentVersion.String
	server.AgentType = agentType.String
	server.IPAddress = ip.String
	server.OSInfo = osInfo.String
	server.CreatedAt = fromNanos(createdAt)
	server.UpdatedAt = fromNanos(updatedAt)

	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &server.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal server metadata: %w", err)
		}
	}
	return server, nil
}
