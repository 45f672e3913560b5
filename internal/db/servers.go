package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const serverColumns = `
	id, guid, hostname, display_name, ip_address, tailscale_hostname,
	status, last_seen, is_inactive, inactive_since,
	machine_type, machine_category, machine_category_source,
	idle_watts, tdp_watts, cpu_model, cpu_cores, architecture,
	agent_version, agent_mode, is_paused, paused_at,
	ssh_username, sudo_mode, config_user, assigned_packs,
	drift_detection_enabled, created_at, updates_available, security_updates`

func scanServer(row pgx.Row) (Server, error) {
	var s Server
	err := row.Scan(
		&s.ID, &s.GUID, &s.Hostname, &s.DisplayName, &s.IPAddress, &s.TailscaleHostname,
		&s.Status, &s.LastSeen, &s.IsInactive, &s.InactiveSince,
		&s.MachineType, &s.MachineCategory, &s.MachineCategorySource,
		&s.IdleWatts, &s.TDPWatts, &s.CPUModel, &s.CPUCores, &s.Architecture,
		&s.AgentVersion, &s.AgentMode, &s.IsPaused, &s.PausedAt,
		&s.SSHUsername, &s.SudoMode, &s.ConfigUser, &s.AssignedPacks,
		&s.DriftDetectionEnabled, &s.CreatedAt, &s.UpdatesAvailable, &s.SecurityUpdates,
	)
	return s, err
}

// GetServerByID fetches a server by its slug. Returns pgx.ErrNoRows if absent.
func (q *Queries) GetServerByID(ctx context.Context, id string) (Server, error) {
	row := q.db.QueryRow(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = $1`, id)
	return scanServer(row)
}

// GetServerByGUID fetches a server by its permanent GUID.
func (q *Queries) GetServerByGUID(ctx context.Context, guid uuid.UUID) (Server, error) {
	row := q.db.QueryRow(ctx, `SELECT `+serverColumns+` FROM servers WHERE guid = $1`, guid)
	return scanServer(row)
}

// CreateServer auto-registers a new server on first contact.
func (q *Queries) CreateServer(ctx context.Context, s Server) (Server, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO servers (id, guid, hostname, display_name, status, last_seen, machine_type, assigned_packs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+serverColumns,
		s.ID, s.GUID, s.Hostname, s.DisplayName, s.Status, s.LastSeen, s.MachineType, s.AssignedPacks,
	)
	return scanServer(row)
}

// AdoptGUID sets a legacy server's GUID exactly once, used by the heartbeat
// pipeline's GUID-migration path (spec §4.11 step 2).
func (q *Queries) AdoptGUID(ctx context.Context, id string, guid uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `UPDATE servers SET guid = $2 WHERE id = $1 AND guid IS NULL`, id, guid)
	if err != nil {
		return fmt.Errorf("adopting guid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateHeartbeatFields is the volatile-field update applied on every
// heartbeat call (spec §4.11 step 4), independent of identity resolution.
type HeartbeatFields struct {
	Hostname         string
	IPAddress        string
	CPUModel         string
	CPUCores         *int
	Architecture     string
	AgentVersion     string
	AgentMode        string
	UpdatesAvailable int
	SecurityUpdates  int
	MachineCategory  string // only applied when non-empty
}

func (q *Queries) UpdateHeartbeatFields(ctx context.Context, id string, now time.Time, f HeartbeatFields) error {
	_, err := q.db.Exec(ctx, `
		UPDATE servers SET
			status = 'online',
			last_seen = $2,
			hostname = COALESCE(NULLIF($3, ''), hostname),
			ip_address = COALESCE(NULLIF($4, ''), ip_address),
			cpu_model = COALESCE(NULLIF($5, ''), cpu_model),
			cpu_cores = COALESCE($6, cpu_cores),
			architecture = COALESCE(NULLIF($7, ''), architecture),
			agent_version = COALESCE(NULLIF($8, ''), agent_version),
			agent_mode = COALESCE(NULLIF($9, ''), agent_mode),
			updates_available = $10,
			security_updates = $11,
			machine_category = CASE WHEN $12 = '' THEN machine_category ELSE $12 END
		WHERE id = $1`,
		id, now, f.Hostname, f.IPAddress, f.CPUModel, f.CPUCores, f.Architecture,
		f.AgentVersion, f.AgentMode, f.UpdatesAvailable, f.SecurityUpdates, f.MachineCategory,
	)
	if err != nil {
		return fmt.Errorf("updating heartbeat fields: %w", err)
	}
	return nil
}

// MarkOffline transitions a server from online to offline; used by the
// scheduler's stale check (spec §4.13).
func (q *Queries) MarkOffline(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, `UPDATE servers SET status = 'offline' WHERE id = $1 AND status = 'online'`, id)
	return err
}

// ListStaleOnlineServers returns non-inactive, online servers whose
// last_seen predates the cutoff.
func (q *Queries) ListStaleOnlineServers(ctx context.Context, cutoff time.Time) ([]Server, error) {
	rows, err := q.db.Query(ctx, `SELECT `+serverColumns+` FROM servers
		WHERE status = 'online' AND is_inactive = false AND last_seen < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectServers(rows)
}

// ListOfflineNonWorkstations returns currently-offline, non-workstation
// servers, for the reminder pass.
func (q *Queries) ListOfflineNonWorkstations(ctx context.Context) ([]Server, error) {
	rows, err := q.db.Query(ctx, `SELECT `+serverColumns+` FROM servers
		WHERE status = 'offline' AND is_inactive = false AND machine_type != 'workstation'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectServers(rows)
}

// ListServers returns all servers ordered by id, for the CRUD listing endpoint.
func (q *Queries) ListServers(ctx context.Context) ([]Server, error) {
	rows, err := q.db.Query(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectServers(rows)
}

func collectServers(rows pgx.Rows) ([]Server, error) {
	var out []Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetPaused toggles the operator pause flag.
func (q *Queries) SetPaused(ctx context.Context, id string, paused bool, now time.Time) error {
	var pausedAt *time.Time
	if paused {
		pausedAt = &now
	}
	_, err := q.db.Exec(ctx, `UPDATE servers SET is_paused = $2, paused_at = $3 WHERE id = $1`, id, paused, pausedAt)
	return err
}

// SetAssignedPacks replaces a server's pack assignment; callers must ensure
// "base" is present per spec §4.7 before calling this.
func (q *Queries) SetAssignedPacks(ctx context.Context, id string, packs []string) error {
	_, err := q.db.Exec(ctx, `UPDATE servers SET assigned_packs = $2 WHERE id = $1`, id, packs)
	return err
}

// DeleteServer removes a server; cascade delete in the schema reaches every
// server-owned table (spec §3 relationships).
func (q *Queries) DeleteServer(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// MarkInactive flags a server as having had its agent uninstalled; future
// heartbeats are rejected per spec §4.11 step 3.
func (q *Queries) MarkInactive(ctx context.Context, id string, now time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE servers SET is_inactive = true, inactive_since = $2 WHERE id = $1`, id, now)
	return err
}
