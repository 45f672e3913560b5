package httpapi

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/fleethub/internal/authgate"
	"github.com/wisbric/fleethub/internal/db"
	"github.com/wisbric/fleethub/internal/httpserver"
	"github.com/wisbric/fleethub/pkg/configpack"
	"github.com/wisbric/fleethub/pkg/remediation"
	"github.com/wisbric/fleethub/pkg/sshexec"
	"github.com/wisbric/fleethub/pkg/vault"
)

// ServersHandler serves server inventory CRUD, pause/unpause, synchronous
// remediation, and tiered metrics reads (spec §6.1).
type ServersHandler struct {
	logger      *slog.Logger
	queries     *db.Queries
	vault       *vault.Vault
	remediation *remediation.Engine
}

// NewServersHandler builds a ServersHandler.
func NewServersHandler(logger *slog.Logger, q *db.Queries, v *vault.Vault, rem *remediation.Engine) *ServersHandler {
	return &ServersHandler{logger: logger, queries: q, vault: v, remediation: rem}
}

// Routes returns the admin-gated server routes. configRoutes is mounted at
// /{id}/config, so the per-server config-pack surface (ConfigHandler) lives
// under the same server-scoped path without a separate top-level mount.
func (h *ServersHandler) Routes(configRoutes chi.Router) chi.Router {
	r := chi.NewRouter()
	r.Use(authgate.RequireAdmin)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Put("/", h.handleUpdate)
		r.Delete("/", h.handleDelete)
		r.Post("/pause", h.handlePause)
		r.Post("/unpause", h.handleUnpause)
		r.Post("/deactivate", h.handleDeactivate)
		r.Post("/commands/execute", h.handleExecuteCommand)
		r.Get("/metrics", h.handleMetrics)
		r.Get("/metrics/export", h.handleMetricsExport)
		r.Mount("/config", configRoutes)
	})
	return r
}

func (h *ServersHandler) handleList(w http.ResponseWriter, r *http.Request) {
	servers, err := h.queries.ListServers(r.Context())
	if err != nil {
		h.logger.Error("listing servers", "error", err)
		internalError(w, "failed to list servers")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"servers": servers, "count": len(servers)})
}

func (h *ServersHandler) getServer(w http.ResponseWriter, r *http.Request) (db.Server, bool) {
	id := chi.URLParam(r, "id")
	srv, err := h.queries.GetServerByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			notFound(w, "server not found")
			return db.Server{}, false
		}
		h.logger.Error("getting server", "error", err, "id", id)
		internalError(w, "failed to get server")
		return db.Server{}, false
	}
	return srv, true
}

func (h *ServersHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	srv, ok := h.getServer(w, r)
	if !ok {
		return
	}
	httpserver.Respond(w, http.StatusOK, srv)
}

// UpdateServerRequest is the body of PUT /servers/{id}; every field is
// optional and only the fields present are applied.
type UpdateServerRequest struct {
	AssignedPacks []string `json:"assigned_packs"`
}

func (h *ServersHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	srv, ok := h.getServer(w, r)
	if !ok {
		return
	}

	var req UpdateServerRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if req.AssignedPacks != nil {
		if !configpack.HasBase(req.AssignedPacks) {
			badRequest(w, "assigned_packs must include \"base\"")
			return
		}
		if err := h.queries.SetAssignedPacks(r.Context(), srv.ID, req.AssignedPacks); err != nil {
			h.logger.Error("updating assigned packs", "error", err, "id", srv.ID)
			internalError(w, "failed to update server")
			return
		}
	}

	srv, ok = h.getServer(w, r)
	if !ok {
		return
	}
	httpserver.Respond(w, http.StatusOK, srv)
}

func (h *ServersHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.queries.DeleteServer(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			notFound(w, "server not found")
			return
		}
		h.logger.Error("deleting server", "error", err, "id", id)
		internalError(w, "failed to delete server")
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *ServersHandler) handlePause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

func (h *ServersHandler) handleUnpause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *ServersHandler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	id := chi.URLParam(r, "id")
	if err := h.queries.SetPaused(r.Context(), id, paused, time.Now()); err != nil {
		h.logger.Error("setting server pause state", "error", err, "id", id, "paused", paused)
		internalError(w, "failed to update server")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"is_paused": paused})
}

func (h *ServersHandler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.queries.MarkInactive(r.Context(), id, time.Now()); err != nil {
		h.logger.Error("deactivating server", "error", err, "id", id)
		internalError(w, "failed to deactivate server")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"success": true})
}

// ExecuteCommandRequest is the body of POST /servers/{id}/commands/execute.
type ExecuteCommandRequest struct {
	ActionType string `json:"action_type" validate:"required"`
	Command    string `json:"command" validate:"required"`
}

func (h *ServersHandler) handleExecuteCommand(w http.ResponseWriter, r *http.Request) {
	srv, ok := h.getServer(w, r)
	if !ok {
		return
	}

	var req ExecuteCommandRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	target, err := resolveSSHTarget(r.Context(), h.vault, srv)
	if err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "ssh_unavailable", err.Error())
		return
	}

	res, err := h.remediation.Execute(r.Context(), srv.ID, target, req.ActionType, req.Command)
	if err != nil {
		h.mapExecuteError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, res)
}

func (h *ServersHandler) mapExecuteError(w http.ResponseWriter, err error) {
	var timeoutErr *sshexec.CommandTimeoutError
	var connErr *sshexec.ConnectionError
	switch {
	case errors.Is(err, remediation.ErrRateLimited):
		httpserver.RespondError(w, http.StatusTooManyRequests, "rate_limited", "command rate limit exceeded for this server")
	case strings.Contains(err.Error(), "whitelist:"):
		httpserver.RespondError(w, http.StatusBadRequest, "whitelist_violation", err.Error())
	case errors.As(err, &timeoutErr):
		httpserver.RespondError(w, http.StatusRequestTimeout, "command_timeout", err.Error())
	case errors.Is(err, sshexec.ErrKeyNotConfigured), errors.Is(err, sshexec.ErrAuthentication), errors.As(err, &connErr):
		h.logger.Error("executing remediation command", "error", err)
		httpserver.RespondError(w, http.StatusServiceUnavailable, "ssh_unavailable", "SSH command execution failed")
	default:
		h.logger.Error("executing remediation command", "error", err)
		internalError(w, "failed to execute command")
	}
}

// --- Metrics ---

func (h *ServersHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rng := r.URL.Query().Get("range")
	if rng == "" {
		rng = "24h"
	}

	now := time.Now()
	switch rng {
	case "24h":
		samples, err := h.queries.ListRawMetrics(r.Context(), id, now.Add(-24*time.Hour), now)
		if err != nil {
			h.logger.Error("listing raw metrics", "error", err, "id", id)
			internalError(w, "failed to list metrics")
			return
		}
		httpserver.Respond(w, http.StatusOK, map[string]any{"tier": "raw", "samples": samples})
	case "7d":
		samples, err := h.queries.ListRawMetrics(r.Context(), id, now.Add(-7*24*time.Hour), now)
		if err != nil {
			h.logger.Error("listing raw metrics", "error", err, "id", id)
			internalError(w, "failed to list metrics")
			return
		}
		httpserver.Respond(w, http.StatusOK, map[string]any{"tier": "raw-aggregated", "samples": samples})
	case "30d":
		aggs, err := h.queries.ListHourlyAggregates(r.Context(), id, now.Add(-30*24*time.Hour))
		if err != nil {
			h.logger.Error("listing hourly aggregates", "error", err, "id", id)
			internalError(w, "failed to list metrics")
			return
		}
		httpserver.Respond(w, http.StatusOK, map[string]any{"tier": "hourly", "samples": aggs})
	case "12m":
		aggs, err := h.queries.ListDailyAggregates(r.Context(), id, now.AddDate(-1, 0, 0))
		if err != nil {
			h.logger.Error("listing daily aggregates", "error", err, "id", id)
			internalError(w, "failed to list metrics")
			return
		}
		httpserver.Respond(w, http.StatusOK, map[string]any{"tier": "daily", "samples": aggs})
	default:
		badRequest(w, "range must be one of 24h, 7d, 30d, 12m")
	}
}

func (h *ServersHandler) handleMetricsExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	now := time.Now()
	since := now.Add(-7 * 24 * time.Hour)
	if rng := r.URL.Query().Get("range"); rng != "" {
		if d, err := rangeDuration(rng); err == nil {
			since = now.Add(-d)
		}
	}

	samples, err := h.queries.ListRawMetrics(r.Context(), id, since, now)
	if err != nil {
		h.logger.Error("listing metrics for export", "error", err, "id", id)
		internalError(w, "failed to export metrics")
		return
	}

	switch format {
	case "csv":
		writeMetricsCSV(w, id, samples)
	case "json":
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-metrics.json"`, id))
		httpserver.Respond(w, http.StatusOK, samples)
	default:
		badRequest(w, "format must be csv or json")
	}
}

func rangeDuration(rng string) (time.Duration, error) {
	switch rng {
	case "24h":
		return 24 * time.Hour, nil
	case "7d":
		return 7 * 24 * time.Hour, nil
	case "30d":
		return 30 * 24 * time.Hour, nil
	case "12m":
		return 365 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown range %q", rng)
	}
}

func writeMetricsCSV(w http.ResponseWriter, serverID string, samples []db.MetricSample) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	_ = cw.Write([]string{"timestamp", "cpu_percent", "memory_percent", "disk_percent", "load_1", "load_5", "load_15"})
	for _, s := range samples {
		_ = cw.Write([]string{
			s.Timestamp.Format(time.RFC3339),
			floatOrEmpty(s.CPUPercent), floatOrEmpty(s.MemoryPercent), floatOrEmpty(s.DiskPercent),
			floatOrEmpty(s.Load1), floatOrEmpty(s.Load5), floatOrEmpty(s.Load15),
		})
	}
	cw.Flush()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-metrics.csv"`, serverID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func floatOrEmpty(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
