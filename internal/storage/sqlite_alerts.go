package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

type sqliteAlertRepo struct {
	db *sql.DB
}

const alertColumns = `id, name, description, type, condition_json, severity, throttle_minutes,
	is_active, scope_job_id, scope_server_name, notify_json, last_triggered_at, trigger_count,
	created_at, created_by, updated_at, updated_by`

func (r *sqliteAlertRepo) Create(ctx context.Context, alert *models.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	condJSON, notifyJSON, err := encodeAlert(alert)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		alert.ID, alert.Name, nullString(alert.Description), string(alert.Type()), condJSON,
		string(alert.Severity), alert.ThrottleMinutes, boolToInt(alert.IsActive),
		nullString(alert.Scope.JobID), nullString(alert.Scope.ServerName), notifyJSON,
		nullNanos(alert.LastTriggeredAt), alert.TriggerCount,
		toNanos(alert.CreatedAt), nullString(alert.CreatedBy),
		toNanos(alert.UpdatedAt), nullString(alert.UpdatedBy),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *sqliteAlertRepo) GetByName(ctx context.Context, name string) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE name = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, name))
}

func (r *sqliteAlertRepo) Update(ctx context.Context, alert *models.Alert) error {
	condJSON, notifyJSON, err := encodeAlert(alert)
	if err != nil {
		return err
	}

	query := `
		UPDATE alerts SET name = ?, description = ?, type = ?, condition_json = ?,
			severity = ?, throttle_minutes = ?, is_active = ?, scope_job_id = ?,
			scope_server_name = ?, notify_json = ?, updated_at = ?, updated_by = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		alert.Name, nullString(alert.Description), string(alert.Type()), condJSON,
		string(alert.Severity), alert.ThrottleMinutes, boolToInt(alert.IsActive),
		nullString(alert.Scope.JobID), nullString(alert.Scope.ServerName), notifyJSON,
		toNanos(alert.UpdatedAt), nullString(alert.UpdatedBy),
		alert.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert not found: %s", alert.ID)
	}
	return nil
}

func (r *sqliteAlertRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alerts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert not found: %s", id)
	}
	return nil
}

func (r *sqliteAlertRepo) List(ctx context.Context) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts ORDER BY name`
	return r.queryAlerts(ctx, query)
}

func (r *sqliteAlertRepo) ListActive(ctx context.Context) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE is_active = 1 ORDER BY name`
	return r.queryAlerts(ctx, query)
}

func (r *sqliteAlertRepo) ListActiveByType(ctx context.Context, types ...models.AlertType) ([]*models.Alert, error) {
	if len(types) == 0 {
		return r.ListActive(ctx)
	}
	args := make([]any, len(types))
	for i, t := range types {
		args[i] = string(t)
	}
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE is_active = 1 AND type IN (` + placeholders(len(types)) + `) ORDER BY name`
	return r.queryAlerts(ctx, query, args...)
}

func (r *sqliteAlertRepo) ListTriggerable(ctx context.Context, now time.Time) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE is_active = 1
			AND (last_triggered_at IS NULL OR last_triggered_at <= ? - throttle_minutes * 60000000000)
		ORDER BY last_triggered_at IS NOT NULL, last_triggered_at ASC, name`
	return r.queryAlerts(ctx, query, toNanos(now))
}

func (r *sqliteAlertRepo) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alerts SET is_active = ?, updated_at = ? WHERE id = ?",
		boolToInt(active), toNanos(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("set alert active: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert not found: %s", id)
	}
	return nil
}

func (r *sqliteAlertRepo) RecordTrigger(ctx context.Context, inst *models.AlertInstance, expectedLast *time.Time) error {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin trigger transaction: %w", err)
	}
	defer tx.Rollback()

	// IS compares NULL to NULL as equal, which covers the first trigger.
	result, err := tx.ExecContext(ctx, `
		UPDATE alerts SET last_triggered_at = ?, trigger_count = trigger_count + 1
		WHERE id = ? AND is_active = 1 AND last_triggered_at IS ?
	`, toNanos(inst.TriggeredAt), inst.AlertID, nullNanos(expectedLast))
	if err != nil {
		return fmt.Errorf("advance alert trigger state: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConflict
	}

	if err := insertInstance(ctx, tx, inst); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit trigger: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) queryAlerts(ctx context.Context, query string, args ...any) ([]*models.Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func (r *sqliteAlertRepo) scanOne(row *sql.Row) (*models.Alert, error) {
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return alert, err
}

func encodeAlert(alert *models.Alert) (string, string, error) {
	if alert.Condition == nil {
		return "", "", fmt.Errorf("alert %q has no condition", alert.Name)
	}
	condJSON, err := json.Marshal(alert.Condition)
	if err != nil {
		return "", "", fmt.Errorf("marshal condition: %w", err)
	}
	notifyJSON, err := json.Marshal(alert.Notify)
	if err != nil {
		return "", "", fmt.Errorf("marshal notify: %w", err)
	}
	return string(condJSON), string(notifyJSON), nil
}

func scanAlert(row scanner) (*models.Alert, error) {
	alert := &models.Alert{}
	var description, scopeJob, scopeServer, createdBy, updatedBy sql.NullString
	var alertType, condJSON, severity, notifyJSON string
	var lastTriggered sql.NullInt64
	var createdAt, updatedAt int64
	var active int

	err := row.Scan(
		&alert.ID, &alert.Name, &description, &alertType, &condJSON, &severity,
		&alert.ThrottleMinutes, &active, &scopeJob, &scopeServer, &notifyJSON,
		&lastTriggered, &alert.TriggerCount, &createdAt, &createdBy, &updatedAt, &updatedBy,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	cond, err := models.DecodeCondition(models.AlertType(alertType), []byte(condJSON))
	if err != nil {
		return nil, fmt.Errorf("alert %s: %w", alert.ID, err)
	}
	alert.Condition = cond
	alert.Description = description.String
	alert.Severity = models.Severity(severity)
	alert.IsActive = active != 0
	alert.Scope = models.Scope{JobID: scopeJob.String, ServerName: scopeServer.String}
	alert.LastTriggeredAt = timePtr(lastTriggered)
	alert.CreatedAt = fromNanos(createdAt)
	alert.CreatedBy = createdBy.String
	alert.UpdatedAt = fromNanos(updatedAt)
	alert.UpdatedBy = updatedBy.String

	if err := json.Unmarshal([]byte(notifyJSON), &alert.Notify); err != nil {
		return nil, fmt.Errorf("unmarshal notify: %w", err)
	}

	return alert, nil
}
