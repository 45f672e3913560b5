// Package heartbeat is the hub's hot path (C11): identity resolution,
// volatile-field update, telemetry persistence, alert evaluation, command
// result acknowledgement, and next-command dispatch, all inside one
// transaction per call (spec §4.11).
package heartbeat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/fleethub/internal/db"
	"github.com/wisbric/fleethub/pkg/alert"
	"github.com/wisbric/fleethub/pkg/notifier"
)

// maxResultBytes is the stdout/stderr truncation cap applied when
// acknowledging a command result (spec §4.11 step 1, §3 RemediationAction).
const maxResultBytes = 10 * 1024

// backgroundSentinel marks a command's stdout as a background task that
// stays "executing" across the acknowledging heartbeat (spec §4.11 step 1).
const backgroundSentinel = "Started background execution"

// ErrInactive signals the server is marked inactive; the caller should map
// this to 403 (spec §4.11 step 3).
var ErrInactive = fmt.Errorf("heartbeat: server is inactive")

// ErrGUIDConflict signals an identity mismatch between guid and server_id
// (spec §4.11 step 2); the caller should map this to 409.
var ErrGUIDConflict = fmt.Errorf("heartbeat: server_guid does not match the resolved server")

// CommandResult is one acknowledged command outcome from the agent (§6.2).
type CommandResult struct {
	ActionID    uuid.UUID
	ExitCode    int
	Stdout      string
	Stderr      string
	ExecutedAt  time.Time
	CompletedAt time.Time
}

// OSInfo, CPUInfo mirror the wire contract's nested objects (spec §6.2).
type OSInfo struct {
	Distribution, Version, Kernel, Architecture string
}

type CPUInfo struct {
	CPUModel string
	CPUCores *int
}

// Request is the parsed heartbeat request body plus connection metadata.
type Request struct {
	ServerGUID       *uuid.UUID
	ServerID         string
	Hostname         string
	Timestamp        time.Time
	AgentVersion     string
	AgentMode        string
	OSInfo           *OSInfo
	CPUInfo          *CPUInfo
	Metrics          *alert.MetricSample
	RawMetrics       *db.MetricSample // full tiered sample to persist, nil if omitted
	UpdatesAvailable int
	SecurityUpdates  int
	Services         []db.ServiceStatus
	Packages         []db.PendingPackage
	CommandResults   []CommandResult
	PeerIPAddress    string
}

// PendingCommand is one dispatched command returned to the agent (spec §6.2).
type PendingCommand struct {
	ActionID       uuid.UUID         `json:"action_id"`
	ActionType     string            `json:"action_type"`
	Command        string            `json:"command"`
	Parameters     map[string]string `json:"parameters"`
	TimeoutSeconds int               `json:"timeout_seconds"`
}

// Response is the heartbeat contract's reply body (spec §6.2).
type Response struct {
	Status               string            `json:"status"`
	ServerRegistered     bool              `json:"server_registered"`
	PendingCommands      []PendingCommand  `json:"pending_commands"`
	ResultsAcknowledged  []uuid.UUID       `json:"results_acknowledged"`
}

// Pipeline executes the heartbeat transaction.
type Pipeline struct {
	Pool     *pgxpool.Pool
	Alerts   *alert.Engine
	Notifier *notifier.Notifier
}

// NewPipeline builds a Pipeline.
func NewPipeline(pool *pgxpool.Pool, alerts *alert.Engine, n *notifier.Notifier) *Pipeline {
	return &Pipeline{Pool: pool, Alerts: alerts, Notifier: n}
}

// Process runs the full ordered heartbeat flow in one transaction (spec
// §4.11, §5 ordering guarantees: acknowledgement precedes dispatch).
func (p *Pipeline) Process(ctx context.Context, now time.Time, req Request, thresholds alert.Thresholds, notify alert.NotificationConfig) (Response, error) {
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("heartbeat: beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	q := db.New(tx)

	// Step 1: acknowledge prior results.
	acknowledged, err := acknowledgeResults(ctx, q, now, req.CommandResults)
	if err != nil {
		return Response{}, err
	}

	// Step 2: resolve identity (may auto-register).
	server, registered, err := resolveIdentity(ctx, q, now, req)
	if err != nil {
		return Response{}, err
	}

	// Step 3: reject inactive servers.
	if server.IsInactive {
		return Response{}, ErrInactive
	}

	// Step 4: update volatile fields every call.
	category := ""
	if server.MachineCategorySource != "user" && req.CPUInfo != nil {
		category = InferMachineCategory(req.CPUInfo.CPUModel, architectureOf(req))
	}
	fields := db.HeartbeatFields{
		Hostname: req.Hostname, IPAddress: req.PeerIPAddress,
		AgentVersion: req.AgentVersion, AgentMode: req.AgentMode,
		UpdatesAvailable: req.UpdatesAvailable, SecurityUpdates: req.SecurityUpdates,
		MachineCategory: category,
	}
	if req.CPUInfo != nil {
		fields.CPUModel = req.CPUInfo.CPUModel
		fields.CPUCores = req.CPUInfo.CPUCores
	}
	if req.OSInfo != nil {
		fields.Architecture = req.OSInfo.Architecture
	}
	if err := q.UpdateHeartbeatFields(ctx, server.ID, now, fields); err != nil {
		return Response{}, err
	}

	// Step 6: persist metrics, if present.
	if req.RawMetrics != nil {
		m := *req.RawMetrics
		m.ServerID = server.ID
		m.Timestamp = now
		if err := q.InsertMetrics(ctx, m); err != nil {
			return Response{}, err
		}
	}

	// Step 7: persist service status and replace pending packages.
	for _, svc := range req.Services {
		svc.ServerID = server.ID
		svc.Timestamp = now
		if err := q.InsertServiceStatus(ctx, svc); err != nil {
			return Response{}, err
		}
	}
	if err := q.ReplacePendingPackages(ctx, server.ID, req.Packages); err != nil {
		return Response{}, err
	}

	// Step 8: evaluate alerts.
	if req.Metrics != nil {
		if err := p.Alerts.EvaluateMetrics(ctx, now, server.ID, *req.Metrics, thresholds, notify); err != nil {
			return Response{}, err
		}
	}
	if len(req.Services) > 0 {
		expected, err := q.ListExpectedServices(ctx, server.ID)
		if err != nil {
			return Response{}, err
		}
		latest := map[string]db.ServiceStatus{}
		for _, svc := range req.Services {
			latest[svc.ServiceName] = svc
		}
		if err := p.Alerts.EvaluateServices(ctx, now, server.ID, expected, latest, notify); err != nil {
			return Response{}, err
		}
	}

	// Step 9: send action notifications for just-acknowledged results.
	for _, id := range acknowledged {
		action, err := q.GetAction(ctx, id)
		if err != nil {
			continue
		}
		if action.Status == "completed" || action.Status == "failed" {
			p.Notifier.SendAction(ctx, notifier.ActionEvent{
				ActionID: id.String(), ServerID: server.ID, Label: action.ActionType,
				Status: action.Status, Stderr: action.Stderr,
			})
		}
	}

	// Step 10: dispatch one pending command.
	var pending []PendingCommand
	next, err := q.NextApprovedAction(ctx, server.ID)
	if err == nil {
		if err := q.DispatchAction(ctx, next.ID, now); err != nil {
			return Response{}, err
		}
		pending = append(pending, PendingCommand{
			ActionID: next.ID, ActionType: next.ActionType, Command: next.Command,
			Parameters: next.Parameters, TimeoutSeconds: 30,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return Response{}, fmt.Errorf("heartbeat: committing transaction: %w", err)
	}

	return Response{
		Status: "ok", ServerRegistered: registered,
		PendingCommands: pending, ResultsAcknowledged: acknowledged,
	}, nil
}

func architectureOf(req Request) string {
	if req.OSInfo != nil {
		return req.OSInfo.Architecture
	}
	return ""
}

// acknowledgeResults implements spec §4.11 step 1.
func acknowledgeResults(ctx context.Context, q *db.Queries, now time.Time, results []CommandResult) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, r := range results {
		action, err := q.GetAction(ctx, r.ActionID)
		if err != nil {
			continue
		}
		if action.Status != "executing" {
			ids = append(ids, r.ActionID)
			continue
		}

		stdout := truncate(r.Stdout, maxResultBytes)
		stderr := truncate(r.Stderr, maxResultBytes)
		exitCode := r.ExitCode

		if strings.Contains(stdout, backgroundSentinel) {
			// Keep status=executing but still record the latest output and
			// count the ID as acknowledged (spec §4.11 step 1).
			if err := q.CompleteAction(ctx, r.ActionID, "executing", &exitCode, stdout, stderr, r.CompletedAt); err != nil {
				return nil, err
			}
			ids = append(ids, r.ActionID)
			continue
		}

		status := "completed"
		if exitCode != 0 {
			status = "failed"
		}
		if err := q.CompleteAction(ctx, r.ActionID, status, &exitCode, stdout, stderr, r.CompletedAt); err != nil {
			return nil, err
		}
		ids = append(ids, r.ActionID)
	}
	return ids, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// resolveIdentity implements spec §4.11 step 2.
func resolveIdentity(ctx context.Context, q *db.Queries, now time.Time, req Request) (db.Server, bool, error) {
	if req.ServerGUID != nil {
		server, err := q.GetServerByGUID(ctx, *req.ServerGUID)
		if err == nil {
			return server, false, nil
		}
	}

	server, err := q.GetServerByID(ctx, req.ServerID)
	if err == nil {
		if server.GUID == nil && req.ServerGUID != nil {
			if adoptErr := q.AdoptGUID(ctx, server.ID, *req.ServerGUID); adoptErr == nil {
				server.GUID = req.ServerGUID
			}
			return server, false, nil
		}
		if server.GUID != nil && req.ServerGUID != nil && *server.GUID != *req.ServerGUID {
			return db.Server{}, false, ErrGUIDConflict
		}
		return server, false, nil
	}

	if req.ServerGUID != nil {
		if _, guidErr := q.GetServerByGUID(ctx, *req.ServerGUID); guidErr == nil {
			return db.Server{}, false, ErrGUIDConflict
		}
	}

	created, err := q.CreateServer(ctx, db.Server{
		ID: req.ServerID, GUID: req.ServerGUID, Hostname: req.Hostname,
		Status: "online", LastSeen: &now, MachineType: "server", AssignedPacks: []string{"base"},
	})
	if err != nil {
		return db.Server{}, false, err
	}
	return created, true, nil
}
