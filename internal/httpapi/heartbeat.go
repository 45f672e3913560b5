package httpapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/fleethub/internal/db"
	"github.com/wisbric/fleethub/internal/httpserver"
	"github.com/wisbric/fleethub/pkg/alert"
	"github.com/wisbric/fleethub/pkg/heartbeat"
)

// HeartbeatHandler serves the agent's periodic telemetry contract (spec
// §4.11, §6.2).
type HeartbeatHandler struct {
	logger     *slog.Logger
	pipeline   *heartbeat.Pipeline
	thresholds alert.Thresholds
	notify     alert.NotificationConfig
}

// NewHeartbeatHandler builds a HeartbeatHandler.
func NewHeartbeatHandler(logger *slog.Logger, p *heartbeat.Pipeline, thresholds alert.Thresholds, notify alert.NotificationConfig) *HeartbeatHandler {
	return &HeartbeatHandler{logger: logger, pipeline: p, thresholds: thresholds, notify: notify}
}

// Routes returns the heartbeat route. Authentication is handled by the
// shared gate already applied to /api/v1; any authenticated principal
// (admin or agent) may call it.
func (h *HeartbeatHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleHeartbeat)
	return r
}

// --- Wire request shape (spec §6.2) ---

type osInfoWire struct {
	Distribution string `json:"distribution"`
	Version      string `json:"version"`
	Kernel       string `json:"kernel"`
	Architecture string `json:"architecture"`
}

type cpuInfoWire struct {
	CPUModel string `json:"cpu_model"`
	CPUCores *int   `json:"cpu_cores"`
}

type metricsWire struct {
	CPUPercent     *float64 `json:"cpu_percent"`
	MemoryPercent  *float64 `json:"memory_percent"`
	MemoryTotalMB  *float64 `json:"memory_total_mb"`
	MemoryUsedMB   *float64 `json:"memory_used_mb"`
	DiskPercent    *float64 `json:"disk_percent"`
	DiskTotalGB    *float64 `json:"disk_total_gb"`
	DiskUsedGB     *float64 `json:"disk_used_gb"`
	NetworkRxBytes *int64   `json:"network_rx_bytes"`
	NetworkTxBytes *int64   `json:"network_tx_bytes"`
	Load1          *float64 `json:"load_1m"`
	Load5          *float64 `json:"load_5m"`
	Load15         *float64 `json:"load_15m"`
	UptimeSeconds  *int64   `json:"uptime_seconds"`
}

type serviceWire struct {
	Name         string   `json:"name" validate:"required"`
	Status       string   `json:"status" validate:"required"`
	StatusReason string   `json:"status_reason"`
	PID          *int     `json:"pid"`
	MemoryMB     *float64 `json:"memory_mb"`
	CPUPercent   *float64 `json:"cpu_percent"`
}

type packageWire struct {
	Name           string `json:"name"`
	CurrentVersion string `json:"current_version"`
	NewVersion     string `json:"new_version"`
	Repository     string `json:"repository"`
	IsSecurity     bool   `json:"is_security"`
}

type commandResultWire struct {
	ActionID    uuid.UUID `json:"action_id" validate:"required"`
	ExitCode    int       `json:"exit_code"`
	Stdout      string    `json:"stdout"`
	Stderr      string    `json:"stderr"`
	ExecutedAt  time.Time `json:"executed_at"`
	CompletedAt time.Time `json:"completed_at"`
}

type heartbeatRequest struct {
	ServerGUID       *uuid.UUID          `json:"server_guid"`
	ServerID         string              `json:"server_id" validate:"required"`
	Hostname         string              `json:"hostname" validate:"required"`
	Timestamp        time.Time           `json:"timestamp" validate:"required"`
	AgentVersion     string              `json:"agent_version"`
	AgentMode        string              `json:"agent_mode"`
	OSInfo           *osInfoWire         `json:"os_info"`
	CPUInfo          *cpuInfoWire        `json:"cpu_info"`
	Metrics          *metricsWire        `json:"metrics"`
	UpdatesAvailable int                 `json:"updates_available"`
	SecurityUpdates  int                 `json:"security_updates"`
	Services         []serviceWire       `json:"services"`
	Packages         []packageWire       `json:"packages"`
	CommandResults   []commandResultWire `json:"command_results"`
}

func (h *HeartbeatHandler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var wire heartbeatRequest
	if !httpserver.DecodeAndValidate(w, r, &wire) {
		return
	}

	req := heartbeat.Request{
		ServerGUID: wire.ServerGUID, ServerID: wire.ServerID, Hostname: wire.Hostname,
		Timestamp: wire.Timestamp, AgentVersion: wire.AgentVersion, AgentMode: wire.AgentMode,
		UpdatesAvailable: wire.UpdatesAvailable, SecurityUpdates: wire.SecurityUpdates,
		PeerIPAddress: clientIP(r),
	}
	if wire.OSInfo != nil {
		req.OSInfo = &heartbeat.OSInfo{
			Distribution: wire.OSInfo.Distribution, Version: wire.OSInfo.Version,
			Kernel: wire.OSInfo.Kernel, Architecture: wire.OSInfo.Architecture,
		}
	}
	if wire.CPUInfo != nil {
		req.CPUInfo = &heartbeat.CPUInfo{CPUModel: wire.CPUInfo.CPUModel, CPUCores: wire.CPUInfo.CPUCores}
	}
	if wire.Metrics != nil {
		m := wire.Metrics
		req.Metrics = &alert.MetricSample{
			CPUPercent: m.CPUPercent, MemoryPercent: m.MemoryPercent, DiskPercent: m.DiskPercent,
		}
		req.RawMetrics = &db.MetricSample{
			CPUPercent: m.CPUPercent, MemoryPercent: m.MemoryPercent, MemoryTotalMB: m.MemoryTotalMB,
			MemoryUsedMB: m.MemoryUsedMB, DiskPercent: m.DiskPercent, DiskTotalGB: m.DiskTotalGB,
			DiskUsedGB: m.DiskUsedGB, NetworkRxBytes: m.NetworkRxBytes, NetworkTxBytes: m.NetworkTxBytes,
			Load1: m.Load1, Load5: m.Load5, Load15: m.Load15, UptimeSeconds: m.UptimeSeconds,
		}
	}
	for _, s := range wire.Services {
		req.Services = append(req.Services, db.ServiceStatus{
			ServiceName: s.Name, Status: s.Status, StatusReason: s.StatusReason,
			PID: s.PID, MemoryMB: s.MemoryMB, CPUPercent: s.CPUPercent,
		})
	}
	for _, p := range wire.Packages {
		req.Packages = append(req.Packages, db.PendingPackage{
			Name: p.Name, CurrentVersion: p.CurrentVersion, NewVersion: p.NewVersion,
			Repository: p.Repository, IsSecurity: p.IsSecurity,
		})
	}
	for _, c := range wire.CommandResults {
		req.CommandResults = append(req.CommandResults, heartbeat.CommandResult{
			ActionID: c.ActionID, ExitCode: c.ExitCode, Stdout: c.Stdout, Stderr: c.Stderr,
			ExecutedAt: c.ExecutedAt, CompletedAt: c.CompletedAt,
		})
	}

	resp, err := h.pipeline.Process(r.Context(), time.Now(), req, h.thresholds, h.notify)
	if err != nil {
		switch {
		case errors.Is(err, heartbeat.ErrInactive):
			httpserver.RespondError(w, http.StatusForbidden, "inactive_server", "server is marked inactive")
		case errors.Is(err, heartbeat.ErrGUIDConflict):
			httpserver.RespondError(w, http.StatusConflict, "conflict", "server_guid does not match the resolved server")
		default:
			h.logger.Error("processing heartbeat", "error", err, "server_id", wire.ServerID)
			internalError(w, "failed to process heartbeat")
		}
		return
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
