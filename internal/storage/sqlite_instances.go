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

type sqliteInstanceRepo struct {
	db *sql.DB
}

const instanceColumns = `id, alert_id, alert_name, triggered_at, status, severity, message,
	job_id, server_name, context_json,
	acknowledged_at, acknowledged_by, acknowledgement_note,
	resolved_at, resolved_by, resolution_note,
	suppressed_at, suppressed_by, suppression_note`

func (r *sqliteInstanceRepo) Create(ctx context.Context, inst *models.AlertInstance) error {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	return insertInstance(ctx, r.db, inst)
}

func insertInstance(ctx context.Context, db execer, inst *models.AlertInstance) error {
	var contextJSON sql.NullString
	if len(inst.Context) > 0 {
		data, err := json.Marshal(inst.Context)
		if err != nil {
			return fmt.Errorf("marshal instance context: %w", err)
		}
		contextJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `INSERT INTO alert_instances (` + instanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		inst.ID, inst.AlertID, inst.AlertName, toNanos(inst.TriggeredAt),
		string(inst.Status), string(inst.Severity), inst.Message,
		nullString(inst.JobID), nullString(inst.ServerName), contextJSON,
		nullNanos(inst.AcknowledgedAt), nullString(inst.AcknowledgedBy), nullString(inst.AcknowledgementNote),
		nullNanos(inst.ResolvedAt), nullString(inst.ResolvedBy), nullString(inst.ResolutionNote),
		nullNanos(inst.SuppressedAt), nullString(inst.SuppressedBy), nullString(inst.SuppressionNote),
	)
	if err != nil {
		return fmt.Errorf("insert alert instance: %w", err)
	}
	return nil
}

func (r *sqliteInstanceRepo) GetByID(ctx context.Context, id string) (*models.AlertInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM alert_instances WHERE id = ?`
	inst, err := scanInstance(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	records, err := r.notifications(ctx, id)
	if err != nil {
		return nil, err
	}
	inst.Notifications = records
	return inst, nil
}

func (r *sqliteInstanceRepo) notifications(ctx context.Context, instanceID string) ([]models.NotificationRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT channel, recipient, success, error, sent_at
		FROM alert_notifications WHERE instance_id = ? ORDER BY id
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var records []models.NotificationRecord
	for rows.Next() {
		var rec models.NotificationRecord
		var success int
		var errText sql.NullString
		var sentAt int64
		if err := rows.Scan(&rec.Channel, &rec.Recipient, &success, &errText, &sentAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		rec.Success = success != 0
		rec.Error = errText.String
		rec.SentAt = fromNanos(sentAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *sqliteInstanceRepo) List(ctx context.Context, filter InstanceFilter) ([]*models.AlertInstance, error) {
	var where []string
	var args []any
	if filter.AlertID != "" {
		where = append(where, "alert_id = ?")
		args = append(args, filter.AlertID)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, s := range filter.Statuses {
			args = append(args, string(s))
		}
	}

	query := `SELECT ` + instanceColumns + ` FROM alert_instances`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY triggered_at DESC, id"

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alert instances: %w", err)
	}
	defer rows.Close()

	var instances []*models.AlertInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func (r *sqliteInstanceRepo) Transition(ctx context.Context, id string, from []models.InstanceStatus, t models.Transition) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	var atCol, byCol, noteCol string
	switch t.To {
	case models.InstanceAcknowledged:
		atCol, byCol, noteCol = "acknowledged_at", "acknowledged_by", "acknowledgement_note"
	case models.InstanceResolved:
		atCol, byCol, noteCol = "resolved_at", "resolved_by", "resolution_note"
	case models.InstanceSuppressed:
		atCol, byCol, noteCol = "suppressed_at", "suppressed_by", "suppression_note"
	default:
		return false, fmt.Errorf("unsupported target status %q", t.To)
	}

	args := []any{string(t.To), toNanos(t.At), nullString(t.Actor), nullString(t.Note), id}
	for _, s := range from {
		args = append(args, string(s))
	}
	query := fmt.Sprintf(`UPDATE alert_instances SET status = ?, %s = ?, %s = ?, %s = ?
		WHERE id = ? AND status IN (%s)`, atCol, byCol, noteCol, placeholders(len(from)))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition alert instance: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (r *sqliteInstanceRepo) AddNotifications(ctx context.Context, instanceID string, records []models.NotificationRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO alert_notifications (instance_id, channel, recipient, success, error, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare notification insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, instanceID, rec.Channel, rec.Recipient,
			boolToInt(rec.Success), nullString(rec.Error), toNanos(rec.SentAt)); err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
	}
	return tx.Commit()
}

func (r *sqliteInstanceRepo) DeleteOldResolved(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM alert_instances
		WHERE status IN (?, ?) AND triggered_at < ?
	`, string(models.InstanceResolved), string(models.InstanceSuppressed), toNanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete old instances: %w", err)
	}
	return result.RowsAffected()
}

func scanInstance(row scanner) (*models.AlertInstance, error) {
	inst := &models.AlertInstance{}
	var triggeredAt int64
	var status, severity string
	var jobID, serverName, contextJSON sql.NullString
	var ackAt, resAt, supAt sql.NullInt64
	var ackBy, ackNote, resBy, resNote, supBy, supNote sql.NullString

	err := row.Scan(
		&inst.ID, &inst.AlertID, &inst.AlertName, &triggeredAt, &status, &severity, &inst.Message,
		&jobID, &serverName, &contextJSON,
		&ackAt, &ackBy, &ackNote,
		&resAt, &resBy, &resNote,
		&supAt, &supBy, &supNote,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert instance: %w", err)
	}

	inst.TriggeredAt = fromNanos(triggeredAt)
	inst.Status = models.InstanceStatus(status)
	inst.Severity = models.Severity(severity)
	inst.JobID = jobID.String
	inst.ServerName = serverName.String
	inst.AcknowledgedAt, inst.AcknowledgedBy, inst.AcknowledgementNote = timePtr(ackAt), ackBy.String, ackNote.String
	inst.ResolvedAt, inst.ResolvedBy, inst.ResolutionNote = timePtr(resAt), resBy.String, resNote.String
	inst.SuppressedAt, inst.SuppressedBy, inst.SuppressionNote = timePtr(supAt), supBy.String, supNote.String

	if contextJSON.Valid {
		if err := json.Unmarshal([]byte(contextJSON.String), &inst.Context); err != nil {
			return nil, fmt.Errorf("unmarshal instance context: %w", err)
		}
	}
	return inst, nil
}
