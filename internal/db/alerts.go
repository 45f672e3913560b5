package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const alertColumns = `id, server_id, alert_type, metric, severity, status, title, message,
	threshold_value, actual_value, auto_resolved, created_at, acknowledged_at, resolved_at`

// defaultAlertPageSize mirrors httpserver.DefaultPageSize; kept local so
// this package doesn't depend on the HTTP layer for a single constant.
const defaultAlertPageSize = 25

func scanAlert(row pgx.Row) (Alert, error) {
	var a Alert
	err := row.Scan(&a.ID, &a.ServerID, &a.AlertType, &a.Metric, &a.Severity, &a.Status, &a.Title, &a.Message,
		&a.ThresholdValue, &a.ActualValue, &a.AutoResolved, &a.CreatedAt, &a.AcknowledgedAt, &a.ResolvedAt)
	return a, err
}

// GetOpenAlert finds the open alert for a (server_id, alert_type, metric)
// dedup key, per spec §3 Alert invariants and §4.10.
func (q *Queries) GetOpenAlert(ctx context.Context, serverID, alertType, metric string) (Alert, error) {
	row := q.db.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE server_id = $1 AND alert_type = $2 AND metric = $3 AND status = 'open'`, serverID, alertType, metric)
	return scanAlert(row)
}

// CreateAlert opens a new alert.
func (q *Queries) CreateAlert(ctx context.Context, a Alert) (Alert, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO alerts (server_id, alert_type, metric, severity, status, title, message, threshold_value, actual_value)
		VALUES ($1, $2, $3, $4, 'open', $5, $6, $7, $8)
		RETURNING `+alertColumns,
		a.ServerID, a.AlertType, a.Metric, a.Severity, a.Title, a.Message, a.ThresholdValue, a.ActualValue,
	)
	return scanAlert(row)
}

// UpdateAlertSeverityAndValue upgrades an open alert's severity (e.g.
// high→critical) and records the latest sampled value.
func (q *Queries) UpdateAlertSeverityAndValue(ctx context.Context, id uuid.UUID, severity string, actual *float64) error {
	_, err := q.db.Exec(ctx, `UPDATE alerts SET severity = $2, actual_value = $3 WHERE id = $1`, id, severity, actual)
	return err
}

// UpdateAlertActualValue records the latest sample without changing severity.
func (q *Queries) UpdateAlertActualValue(ctx context.Context, id uuid.UUID, actual *float64) error {
	_, err := q.db.Exec(ctx, `UPDATE alerts SET actual_value = $2 WHERE id = $1`, id, actual)
	return err
}

// AutoResolveAlert resolves an alert from a recovery sample (not a user
// action); auto_resolved=true distinguishes it per spec §3.
func (q *Queries) AutoResolveAlert(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE alerts SET status = 'resolved', auto_resolved = true, resolved_at = $2 WHERE id = $1 AND status != 'resolved'`, id, now)
	return err
}

// AcknowledgeAlert marks an alert acknowledged; callers must have already
// verified no matching service remains down (SERVICE_STILL_DOWN, spec §6.1).
func (q *Queries) AcknowledgeAlert(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := q.db.Exec(ctx, `UPDATE alerts SET status = 'acknowledged', acknowledged_at = $2 WHERE id = $1 AND status = 'open'`, id, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ResolveAlert marks an alert resolved by an operator action. resolved →
// acknowledged is forbidden by spec §3, but acknowledged → resolved and
// open → resolved are both allowed here.
func (q *Queries) ResolveAlert(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := q.db.Exec(ctx, `UPDATE alerts SET status = 'resolved', resolved_at = $2 WHERE id = $1 AND status != 'resolved'`, id, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetAlert fetches by ID.
func (q *Queries) GetAlert(ctx context.Context, id uuid.UUID) (Alert, error) {
	row := q.db.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	return scanAlert(row)
}

// ListAlertsFilter narrows ListAlerts by status/severity/server, all
// optional, plus cursor-based pagination: After/AfterID (both set together,
// from httpserver.Cursor) restart the keyset past the given position, and
// Limit bounds the page size.
type ListAlertsFilter struct {
	Status   string
	Severity string
	ServerID string
	After    *time.Time
	AfterID  *uuid.UUID
	Limit    int
}

// ListAlerts returns alerts matching the filter, newest first, keyset-
// paginated on (created_at, id) when After/AfterID are set.
func (q *Queries) ListAlerts(ctx context.Context, f ListAlertsFilter) ([]Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR severity = $2) AND ($3 = '' OR server_id = $3)
		AND ($4::timestamptz IS NULL OR (created_at, id) < ($4, $5))
		ORDER BY created_at DESC, id DESC
		LIMIT $6`
	limit := f.Limit
	if limit <= 0 {
		limit = defaultAlertPageSize
	}
	rows, err := q.db.Query(ctx, query, f.Status, f.Severity, f.ServerID, f.After, f.AfterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- AlertState: per-(server,metric) evaluator counters (spec §3) ---

func scanAlertState(row pgx.Row) (AlertState, error) {
	var s AlertState
	err := row.Scan(&s.ServerID, &s.Metric, &s.ConsecutiveBreach, &s.BreachLevel, &s.LastAlertID, &s.LastNotifiedAt, &s.ServiceDownSince)
	return s, err
}

// GetAlertState fetches the counters for a (server,metric) pair, returning a
// zero-value clear state (ErrNotFound) when none exists yet.
func (q *Queries) GetAlertState(ctx context.Context, serverID, metric string) (AlertState, error) {
	row := q.db.QueryRow(ctx, `SELECT server_id, metric, consecutive_breach, breach_level, last_alert_id, last_notified_at, service_down_since
		FROM alert_state WHERE server_id = $1 AND metric = $2`, serverID, metric)
	return scanAlertState(row)
}

// UpsertAlertState writes the evaluator's counters back after each evaluation.
func (q *Queries) UpsertAlertState(ctx context.Context, s AlertState) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO alert_state (server_id, metric, consecutive_breach, breach_level, last_alert_id, last_notified_at, service_down_since)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (server_id, metric) DO UPDATE SET
			consecutive_breach = EXCLUDED.consecutive_breach,
			breach_level = EXCLUDED.breach_level,
			last_alert_id = EXCLUDED.last_alert_id,
			last_notified_at = EXCLUDED.last_notified_at,
			service_down_since = EXCLUDED.service_down_since`,
		s.ServerID, s.Metric, s.ConsecutiveBreach, s.BreachLevel, s.LastAlertID, s.LastNotifiedAt, s.ServiceDownSince,
	)
	return err
}
