package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const configCheckColumns = `id, server_id, pack_name, checked_at, is_compliant, mismatches, check_duration_ms`

func scanConfigCheck(row pgx.Row) (ConfigCheck, error) {
	var c ConfigCheck
	err := row.Scan(&c.ID, &c.ServerID, &c.PackName, &c.CheckedAt, &c.IsCompliant, &c.Mismatches, &c.CheckDurationMS)
	return c, err
}

// InsertConfigCheck persists one compliance-check run (spec §4.8).
func (q *Queries) InsertConfigCheck(ctx context.Context, c ConfigCheck) (ConfigCheck, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO config_checks (server_id, pack_name, checked_at, is_compliant, mismatches, check_duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+configCheckColumns,
		c.ServerID, c.PackName, c.CheckedAt, c.IsCompliant, c.Mismatches, c.CheckDurationMS,
	)
	return scanConfigCheck(row)
}

// ListConfigChecks returns a server's check history, newest first.
func (q *Queries) ListConfigChecks(ctx context.Context, serverID string) ([]ConfigCheck, error) {
	rows, err := q.db.Query(ctx, `SELECT `+configCheckColumns+` FROM config_checks WHERE server_id = $1 ORDER BY checked_at DESC`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConfigCheck
	for rows.Next() {
		c, err := scanConfigCheck(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LatestConfigCheckPerServer backs the fleet compliance summary endpoint
// (spec §6.1 GET /config/compliance).
func (q *Queries) LatestConfigCheckPerServer(ctx context.Context) ([]ConfigCheck, error) {
	rows, err := q.db.Query(ctx, `
		SELECT DISTINCT ON (server_id) `+configCheckColumns+`
		FROM config_checks ORDER BY server_id, checked_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConfigCheck
	for rows.Next() {
		c, err := scanConfigCheck(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const configApplyColumns = `id, server_id, pack_name, operation, status, progress, current_item,
	items_total, items_completed, items_failed, results, error, triggered_by, created_at, started_at, completed_at`

func scanConfigApply(row pgx.Row) (ConfigApply, error) {
	var a ConfigApply
	err := row.Scan(&a.ID, &a.ServerID, &a.PackName, &a.Operation, &a.Status, &a.Progress, &a.CurrentItem,
		&a.ItemsTotal, &a.ItemsCompleted, &a.ItemsFailed, &a.Results, &a.Error, &a.TriggeredBy,
		&a.CreatedAt, &a.StartedAt, &a.CompletedAt)
	return a, err
}

// CreateConfigApply inserts a pending apply/remove row. Callers must first
// verify no non-terminal apply exists for the server (spec §4.9 concurrency:
// at most one non-terminal ConfigApply per server, else 409).
func (q *Queries) CreateConfigApply(ctx context.Context, a ConfigApply) (ConfigApply, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO config_applies (server_id, pack_name, operation, status, items_total, triggered_by)
		VALUES ($1, $2, $3, 'pending', $4, $5)
		RETURNING `+configApplyColumns,
		a.ServerID, a.PackName, a.Operation, a.ItemsTotal, a.TriggeredBy,
	)
	return scanConfigApply(row)
}

// HasNonTerminalApply reports whether a server has a pending/running apply.
func (q *Queries) HasNonTerminalApply(ctx context.Context, serverID string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM config_applies WHERE server_id = $1 AND status IN ('pending','running'))`, serverID).Scan(&exists)
	return exists, err
}

// GetConfigApply fetches by ID, for the status/progress endpoint.
func (q *Queries) GetConfigApply(ctx context.Context, id uuid.UUID) (ConfigApply, error) {
	row := q.db.QueryRow(ctx, `SELECT `+configApplyColumns+` FROM config_applies WHERE id = $1`, id)
	return scanConfigApply(row)
}

// StartConfigApply transitions pending→running at worker pickup time.
func (q *Queries) StartConfigApply(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE config_applies SET status = 'running', started_at = $2 WHERE id = $1`, id, now)
	return err
}

// UpdateConfigApplyProgress is called after each item outcome during
// background execution (spec §4.9/§4.13).
func (q *Queries) UpdateConfigApplyProgress(ctx context.Context, id uuid.UUID, progress, completed, failed int, currentItem string) error {
	_, err := q.db.Exec(ctx, `
		UPDATE config_applies SET progress = $2, items_completed = $3, items_failed = $4, current_item = $5
		WHERE id = $1`, id, progress, completed, failed, currentItem)
	return err
}

// FinishConfigApply records the terminal status and full results payload.
func (q *Queries) FinishConfigApply(ctx context.Context, id uuid.UUID, status string, results []byte, errText string, now time.Time) error {
	_, err := q.db.Exec(ctx, `
		UPDATE config_applies SET status = $2, results = $3, error = $4, completed_at = $5
		WHERE id = $1`, id, status, results, errText, now)
	return err
}

// ListPendingConfigApplies returns work for the background worker to pick up.
func (q *Queries) ListPendingConfigApplies(ctx context.Context) ([]ConfigApply, error) {
	rows, err := q.db.Query(ctx, `SELECT `+configApplyColumns+` FROM config_applies WHERE status = 'pending' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConfigApply
	for rows.Next() {
		a, err := scanConfigApply(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Config key/value store (spec §3 Config) ---

// GetConfigValue returns the raw JSON for a key, or ErrNotFound.
func (q *Queries) GetConfigValue(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := q.db.QueryRow(ctx, `SELECT value FROM config_values WHERE key = $1`, key).Scan(&v)
	return v, err
}

// SetConfigValue upserts a key's JSON value.
func (q *Queries) SetConfigValue(ctx context.Context, key string, value []byte, now time.Time) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO config_values (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`, key, value, now)
	return err
}
