package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"logx-detector/internal/alerts"
)

const alertColumns = `id, tenant_id, system_id, rule_id, rule_name, level, kind, content,
		triggered_at, status, handled_by, handled_at, remark, suppressed_count`

// DefaultRecentLimit caps SelectRecentAlerts when no limit is given.
const DefaultRecentLimit = 100

func scanAlert(s rowScanner) (*alerts.Alert, error) {
	var (
		a         alerts.Alert
		status    string
		handledBy sql.NullString
		handledAt sql.NullTime
		remark    sql.NullString
	)
	err := s.Scan(
		&a.ID,
		&a.TenantID,
		&a.SystemID,
		&a.RuleID,
		&a.RuleName,
		&a.Level,
		&a.Kind,
		&a.Content,
		&a.TriggeredAt,
		&status,
		&handledBy,
		&handledAt,
		&remark,
		&a.SuppressedCount,
	)
	if err != nil {
		return nil, err
	}
	a.Status = alerts.Status(status)
	a.HandledBy = handledBy.String
	a.Remark = remark.String
	if handledAt.Valid {
		t := handledAt.Time
		a.HandledAt = &t
	}
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (db *DB) queryAlerts(ctx context.Context, query string, args ...any) ([]*alerts.Alert, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []*alerts.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return out, nil
}

// InsertAlert stores a new alert. Inserting an existing id is a no-op, so a retried
// insert whose first attempt reached the server does not fail.
func (db *DB) InsertAlert(ctx context.Context, a *alerts.Alert) error {
	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`
	_, err := db.conn.ExecContext(ctx, query,
		a.ID, a.TenantID, a.SystemID, a.RuleID, a.RuleName, a.Level, a.Kind, a.Content,
		a.TriggeredAt, string(a.Status), nullString(a.HandledBy), nullTime(a.HandledAt),
		nullString(a.Remark), a.SuppressedCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// SelectAlertByID returns one alert.
func (db *DB) SelectAlertByID(ctx context.Context, id string) (*alerts.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	a, err := scanAlert(db.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// UpdateAlertByID writes the status and handling fields of an alert. A RESOLVED
// alert is final: the update matches no row and ErrAlreadyResolved is returned.
func (db *DB) UpdateAlertByID(ctx context.Context, a *alerts.Alert) error {
	query := `
		UPDATE alerts
		SET status = $2,
		    handled_by = $3,
		    handled_at = $4,
		    remark = $5
		WHERE id = $1 AND status <> $6`
	result, err := db.conn.ExecContext(ctx, query,
		a.ID, string(a.Status), nullString(a.HandledBy), nullTime(a.HandledAt), nullString(a.Remark),
		string(alerts.StatusResolved),
	)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return db.missedUpdate(ctx, a.ID)
	}
	return nil
}

// missedUpdate tells a missing alert apart from a resolved one after an update
// matched no row.
func (db *DB) missedUpdate(ctx context.Context, id string) error {
	var status string
	err := db.conn.QueryRowContext(ctx, `SELECT status FROM alerts WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get alert status: %w", err)
	}
	return fmt.Errorf("alert %s: %w", id, ErrAlreadyResolved)
}

// MarkAlertsProcessing moves the PENDING alerts among ids to PROCESSING and returns
// how many rows changed.
func (db *DB) MarkAlertsProcessing(ctx context.Context, ids []string) (int, error) {
	query := `
		UPDATE alerts
		SET status = $2
		WHERE id = ANY($1) AND status = $3`
	result, err := db.conn.ExecContext(ctx, query,
		pq.Array(ids), string(alerts.StatusProcessing), string(alerts.StatusPending),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark alerts read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// SelectPendingAlerts returns a tenant's PENDING alerts, newest first.
func (db *DB) SelectPendingAlerts(ctx context.Context, tenantID string) ([]*alerts.Alert, error) {
	query := `SELECT ` + alertColumns + `
		FROM alerts
		WHERE tenant_id = $1 AND status = $2
		ORDER BY triggered_at DESC`
	return db.queryAlerts(ctx, query, tenantID, string(alerts.StatusPending))
}

// SelectRecentAlerts returns a system's alerts triggered at or after since, newest
// first. A non-positive limit means DefaultRecentLimit.
func (db *DB) SelectRecentAlerts(ctx context.Context, tenantID, systemID string, since time.Time, limit int) ([]*alerts.Alert, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	query := `SELECT ` + alertColumns + `
		FROM alerts
		WHERE tenant_id = $1 AND system_id = $2 AND triggered_at >= $3
		ORDER BY triggered_at DESC
		LIMIT $4`
	return db.queryAlerts(ctx, query, tenantID, systemID, since, limit)
}

// CountAlerts counts a tenant's alerts triggered in [since, until).
func (db *DB) CountAlerts(ctx context.Context, tenantID string, since, until time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM alerts
		WHERE tenant_id = $1 AND triggered_at >= $2 AND triggered_at < $3`
	var n int64
	if err := db.conn.QueryRowContext(ctx, query, tenantID, since, until).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}
