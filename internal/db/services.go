package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func scanExpectedService(row pgx.Row) (ExpectedService, error) {
	var s ExpectedService
	err := row.Scan(&s.ID, &s.ServerID, &s.ServiceName, &s.DisplayName, &s.IsCritical, &s.Enabled)
	return s, err
}

// ListExpectedServices returns the registered services for a server, for
// heartbeat-time alert evaluation (spec §4.10).
func (q *Queries) ListExpectedServices(ctx context.Context, serverID string) ([]ExpectedService, error) {
	rows, err := q.db.Query(ctx, `SELECT id, server_id, service_name, display_name, is_critical, enabled
		FROM expected_services WHERE server_id = $1`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExpectedService
	for rows.Next() {
		s, err := scanExpectedService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertExpectedService registers or updates an expected service.
func (q *Queries) UpsertExpectedService(ctx context.Context, s ExpectedService) (ExpectedService, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO expected_services (server_id, service_name, display_name, is_critical, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (server_id, service_name) DO UPDATE SET
			display_name = EXCLUDED.display_name, is_critical = EXCLUDED.is_critical, enabled = EXCLUDED.enabled
		RETURNING id, server_id, service_name, display_name, is_critical, enabled`,
		s.ServerID, s.ServiceName, s.DisplayName, s.IsCritical, s.Enabled,
	)
	return scanExpectedService(row)
}

// InsertServiceStatus records one observed service-health sample.
func (q *Queries) InsertServiceStatus(ctx context.Context, s ServiceStatus) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO service_status (server_id, service_name, timestamp, status, pid, memory_mb, cpu_percent, status_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ServerID, s.ServiceName, s.Timestamp, s.Status, s.PID, s.MemoryMB, s.CPUPercent, s.StatusReason,
	)
	return err
}

// LatestServiceStatus returns the most recent sample for a server/service
// pair, used by the acknowledge-alert SERVICE_STILL_DOWN check (spec §6.1).
func (q *Queries) LatestServiceStatus(ctx context.Context, serverID, serviceName string) (ServiceStatus, error) {
	row := q.db.QueryRow(ctx, `
		SELECT server_id, service_name, timestamp, status, pid, memory_mb, cpu_percent, status_reason
		FROM service_status WHERE server_id = $1 AND service_name = $2
		ORDER BY timestamp DESC LIMIT 1`, serverID, serviceName)

	var s ServiceStatus
	err := row.Scan(&s.ServerID, &s.ServiceName, &s.Timestamp, &s.Status, &s.PID, &s.MemoryMB, &s.CPUPercent, &s.StatusReason)
	return s, err
}

// --- RemediationAction ---

const actionColumns = `id, server_id, action_type, command, service_name, status, parameters,
	exit_code, stdout, stderr, created_at, approved_at, approved_by, executed_at, completed_at`

func scanAction(row pgx.Row) (RemediationAction, error) {
	var a RemediationAction
	err := row.Scan(&a.ID, &a.ServerID, &a.ActionType, &a.Command, &a.ServiceName, &a.Status, &a.Parameters,
		&a.ExitCode, &a.Stdout, &a.Stderr, &a.CreatedAt, &a.ApprovedAt, &a.ApprovedBy, &a.ExecutedAt, &a.CompletedAt)
	return a, err
}

// CreateAction inserts a new remediation action; status/approved_by are
// decided by the caller per spec §4.12 (auto-approve unless server paused).
func (q *Queries) CreateAction(ctx context.Context, a RemediationAction) (RemediationAction, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO remediation_actions (server_id, action_type, command, service_name, status, parameters, approved_at, approved_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+actionColumns,
		a.ServerID, a.ActionType, a.Command, a.ServiceName, a.Status, a.Parameters, a.ApprovedAt, a.ApprovedBy,
	)
	return scanAction(row)
}

// GetAction fetches by ID.
func (q *Queries) GetAction(ctx context.Context, id uuid.UUID) (RemediationAction, error) {
	row := q.db.QueryRow(ctx, `SELECT `+actionColumns+` FROM remediation_actions WHERE id = $1`, id)
	return scanAction(row)
}

// NextApprovedAction returns the oldest approved action for a server, for
// FIFO heartbeat dispatch (spec §4.11 step 10, §5 ordering guarantees).
func (q *Queries) NextApprovedAction(ctx context.Context, serverID string) (RemediationAction, error) {
	row := q.db.QueryRow(ctx, `SELECT `+actionColumns+` FROM remediation_actions
		WHERE server_id = $1 AND status = 'approved' ORDER BY created_at LIMIT 1`, serverID)
	return scanAction(row)
}

// DispatchAction transitions an action to executing at send time.
func (q *Queries) DispatchAction(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE remediation_actions SET status = 'executing', executed_at = $2 WHERE id = $1`, id, now)
	return err
}

// CompleteAction records a synchronous or acknowledged-async outcome.
func (q *Queries) CompleteAction(ctx context.Context, id uuid.UUID, status string, exitCode *int, stdout, stderr string, now time.Time) error {
	_, err := q.db.Exec(ctx, `
		UPDATE remediation_actions SET status = $2, exit_code = $3, stdout = $4, stderr = $5, completed_at = $6
		WHERE id = $1`, id, status, exitCode, stdout, stderr, now)
	return err
}

// CancelAction transitions a pending action to cancelled.
func (q *Queries) CancelAction(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `UPDATE remediation_actions SET status = 'cancelled' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ApproveAction transitions a pending action to approved (manual approval
// when the server is paused).
func (q *Queries) ApproveAction(ctx context.Context, id uuid.UUID, approvedBy string, now time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE remediation_actions SET status = 'approved', approved_at = $2, approved_by = $3
		WHERE id = $1 AND status = 'pending'`, id, now, approvedBy)
	return err
}

// ListActionsByServer returns a server's action history, newest first.
func (q *Queries) ListActionsByServer(ctx context.Context, serverID string) ([]RemediationAction, error) {
	rows, err := q.db.Query(ctx, `SELECT `+actionColumns+` FROM remediation_actions WHERE server_id = $1 ORDER BY created_at DESC`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RemediationAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
