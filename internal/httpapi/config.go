package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/fleethub/internal/authgate"
	"github.com/wisbric/fleethub/internal/db"
	"github.com/wisbric/fleethub/internal/httpserver"
	"github.com/wisbric/fleethub/pkg/compliance"
	"github.com/wisbric/fleethub/pkg/configapply"
	"github.com/wisbric/fleethub/pkg/configpack"
	"github.com/wisbric/fleethub/pkg/notifier"
	"github.com/wisbric/fleethub/pkg/vault"
)

// ConfigHandler serves the key/value runtime settings (thresholds,
// notifications, cost tracking), the webhook test probe, and the
// per-server configuration-pack surface: compliance checks, diffs, and
// apply/remove lifecycle (spec §4.7, §4.8, §4.9, §6.1).
type ConfigHandler struct {
	logger   *slog.Logger
	queries  *db.Queries
	vault    *vault.Vault
	packs    *configpack.Loader
	checker  *compliance.Checker
	applier  *configapply.Engine
	notifier *notifier.Notifier
}

// NewConfigHandler builds a ConfigHandler.
func NewConfigHandler(logger *slog.Logger, q *db.Queries, v *vault.Vault, packs *configpack.Loader, checker *compliance.Checker, applier *configapply.Engine, n *notifier.Notifier) *ConfigHandler {
	return &ConfigHandler{logger: logger, queries: q, vault: v, packs: packs, checker: checker, applier: applier, notifier: n}
}

// Routes returns the admin-gated /config routes (thresholds, notifications,
// cost, compliance summary, webhook test).
func (h *ConfigHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(authgate.RequireAdmin)
	r.Get("/thresholds", h.handleGetValue("thresholds"))
	r.Put("/thresholds", h.handleSetValue("thresholds"))
	r.Get("/notifications", h.handleGetValue("notifications"))
	r.Put("/notifications", h.handleSetValue("notifications"))
	r.Get("/cost", h.handleGetValue("cost"))
	r.Put("/cost", h.handleSetValue("cost"))
	r.Post("/test-webhook", h.handleTestWebhook)
	r.Get("/compliance", h.handleFleetCompliance)
	return r
}

// ServerConfigRoutes returns the admin-gated /servers/{id}/config routes,
// mounted by the caller alongside ServersHandler's server-scoped routes.
func (h *ConfigHandler) ServerConfigRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(authgate.RequireAdmin)
	r.Post("/check", h.handleCheck)
	r.Get("/checks", h.handleListChecks)
	r.Get("/diff", h.handleDiff)
	r.Post("/apply", h.handleApply)
	r.Get("/apply/{apply_id}", h.handleApplyStatus)
	r.Delete("/apply", h.handleRemove)
	return r
}

// --- Runtime key/value settings ---

func (h *ConfigHandler) handleGetValue(key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := h.queries.GetConfigValue(r.Context(), key)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				httpserver.Respond(w, http.StatusOK, map[string]any{})
				return
			}
			h.logger.Error("getting config value", "error", err, "key", key)
			internalError(w, "failed to get configuration")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
	}
}

func (h *ConfigHandler) handleSetValue(key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload json.RawMessage
		if err := httpserver.Decode(r, &payload); err != nil {
			badRequest(w, err.Error())
			return
		}
		if err := h.queries.SetConfigValue(r.Context(), key, payload, time.Now()); err != nil {
			h.logger.Error("setting config value", "error", err, "key", key)
			internalError(w, "failed to save configuration")
			return
		}
		httpserver.Respond(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func (h *ConfigHandler) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	h.notifier.SendAlert(r.Context(), notifier.AlertEvent{
		AlertID: "test", ServerID: "test", Severity: "low",
		Title: "Webhook test notification", Metric: "test",
	})
	httpserver.Respond(w, http.StatusOK, map[string]bool{"sent": true})
}

// handleFleetCompliance backs GET /config/compliance (spec §6.1): a fleet-
// wide compliance summary built from each server's latest check.
func (h *ConfigHandler) handleFleetCompliance(w http.ResponseWriter, r *http.Request) {
	checks, err := h.queries.LatestConfigCheckPerServer(r.Context())
	if err != nil {
		h.logger.Error("listing latest config checks", "error", err)
		internalError(w, "failed to build compliance summary")
		return
	}

	compliant, nonCompliant := 0, 0
	for _, c := range checks {
		if c.IsCompliant {
			compliant++
		} else {
			nonCompliant++
		}
	}

	servers, err := h.queries.ListServers(r.Context())
	if err != nil {
		h.logger.Error("listing servers for compliance summary", "error", err)
		internalError(w, "failed to build compliance summary")
		return
	}
	checked := make(map[string]bool, len(checks))
	for _, c := range checks {
		checked[c.ServerID] = true
	}
	neverChecked := 0
	for _, s := range servers {
		if !checked[s.ID] {
			neverChecked++
		}
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"summary": map[string]any{
			"compliant":     compliant,
			"non_compliant": nonCompliant,
			"never_checked": neverChecked,
			"total":         len(servers),
		},
		"machines": checks,
	})
}

// --- Per-server config-pack surface ---

func (h *ConfigHandler) getServer(w http.ResponseWriter, r *http.Request) (db.Server, bool) {
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

func (h *ConfigHandler) loadPack(w http.ResponseWriter, name string) (configpack.Pack, bool) {
	pack, err := h.packs.Load(name)
	if err != nil {
		badRequest(w, "unknown or invalid config pack: "+name)
		return configpack.Pack{}, false
	}
	return pack, true
}

// handleCheck runs a live compliance probe over SSH against one pack and
// persists the result (spec §4.8).
func (h *ConfigHandler) handleCheck(w http.ResponseWriter, r *http.Request) {
	srv, ok := h.getServer(w, r)
	if !ok {
		return
	}
	packName := r.URL.Query().Get("pack")
	if packName == "" {
		packName = "base"
	}
	pack, ok := h.loadPack(w, packName)
	if !ok {
		return
	}

	target, err := resolveSSHTarget(r.Context(), h.vault, srv)
	if err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "ssh_unavailable", err.Error())
		return
	}

	result, err := h.checker.Check(r.Context(), target, srv.ConfigUser, pack)
	if err != nil {
		if errors.Is(err, compliance.ErrSSHUnavailable) {
			httpserver.RespondError(w, http.StatusServiceUnavailable, "ssh_unavailable", err.Error())
			return
		}
		h.logger.Error("running compliance check", "error", err, "server_id", srv.ID)
		internalError(w, "failed to run compliance check")
		return
	}

	mismatches, _ := json.Marshal(result.Mismatches)
	check, err := h.queries.InsertConfigCheck(r.Context(), db.ConfigCheck{
		ServerID: srv.ID, PackName: packName, CheckedAt: time.Now(),
		IsCompliant: result.Compliant(), Mismatches: mismatches, CheckDurationMS: result.CheckDurationMS,
	})
	if err != nil {
		h.logger.Error("persisting compliance check", "error", err, "server_id", srv.ID)
		internalError(w, "failed to record compliance check")
		return
	}

	httpserver.Respond(w, http.StatusOK, check)
}

func (h *ConfigHandler) handleListChecks(w http.ResponseWriter, r *http.Request) {
	srv, ok := h.getServer(w, r)
	if !ok {
		return
	}
	checks, err := h.queries.ListConfigChecks(r.Context(), srv.ID)
	if err != nil {
		h.logger.Error("listing config checks", "error", err, "server_id", srv.ID)
		internalError(w, "failed to list compliance checks")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"checks": checks, "count": len(checks)})
}

// handleDiff is a read-only alias for handleCheck that never persists a row,
// for on-demand inspection without affecting compliance history.
func (h *ConfigHandler) handleDiff(w http.ResponseWriter, r *http.Request) {
	srv, ok := h.getServer(w, r)
	if !ok {
		return
	}
	packName := r.URL.Query().Get("pack")
	if packName == "" {
		packName = "base"
	}
	pack, ok := h.loadPack(w, packName)
	if !ok {
		return
	}

	target, err := resolveSSHTarget(r.Context(), h.vault, srv)
	if err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "ssh_unavailable", err.Error())
		return
	}

	result, err := h.checker.Check(r.Context(), target, srv.ConfigUser, pack)
	if err != nil {
		if errors.Is(err, compliance.ErrSSHUnavailable) {
			httpserver.RespondError(w, http.StatusServiceUnavailable, "ssh_unavailable", err.Error())
			return
		}
		h.logger.Error("running compliance diff", "error", err, "server_id", srv.ID)
		internalError(w, "failed to compute diff")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"compliant":         result.Compliant(),
		"mismatches":        result.Mismatches,
		"check_duration_ms": result.CheckDurationMS,
	})
}

// ApplyRequest is the body of POST /servers/{id}/config/apply.
type ApplyRequest struct {
	PackName string `json:"pack_name" validate:"required"`
	DryRun   bool   `json:"dry_run"`
}

func (h *ConfigHandler) handleApply(w http.ResponseWriter, r *http.Request) {
	srv, ok := h.getServer(w, r)
	if !ok {
		return
	}

	var req ApplyRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	pack, ok := h.loadPack(w, req.PackName)
	if !ok {
		return
	}

	if req.DryRun {
		httpserver.Respond(w, http.StatusOK, configapply.BuildPreview(pack))
		return
	}

	apply, err := h.applier.Initiate(r.Context(), srv.ID, req.PackName, "apply", "admin", configapply.BuildPreview(pack).TotalItems)
	if err != nil {
		if errors.Is(err, configapply.ErrConflict) {
			httpserver.RespondError(w, http.StatusConflict, "conflict", err.Error())
			return
		}
		h.logger.Error("initiating config apply", "error", err, "server_id", srv.ID)
		internalError(w, "failed to initiate config apply")
		return
	}

	httpserver.Respond(w, http.StatusAccepted, apply)
}

func (h *ConfigHandler) handleApplyStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "apply_id"))
	if err != nil {
		badRequest(w, "invalid apply ID")
		return
	}
	apply, err := h.queries.GetConfigApply(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			notFound(w, "config apply not found")
			return
		}
		h.logger.Error("getting config apply", "error", err, "id", id)
		internalError(w, "failed to get config apply status")
		return
	}
	httpserver.Respond(w, http.StatusOK, apply)
}

// RemoveRequest is the body of DELETE /servers/{id}/config/apply.
type RemoveRequest struct {
	PackName string `json:"pack_name" validate:"required"`
	Confirm  bool   `json:"confirm"`
}

func (h *ConfigHandler) handleRemove(w http.ResponseWriter, r *http.Request) {
	srv, ok := h.getServer(w, r)
	if !ok {
		return
	}

	var req RemoveRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	pack, ok := h.loadPack(w, req.PackName)
	if !ok {
		return
	}

	preview := configapply.BuildPreview(pack)
	if !req.Confirm {
		httpserver.Respond(w, http.StatusOK, preview)
		return
	}

	apply, err := h.applier.Initiate(r.Context(), srv.ID, req.PackName, "remove", "admin", preview.TotalItems)
	if err != nil {
		if errors.Is(err, configapply.ErrConflict) {
			httpserver.RespondError(w, http.StatusConflict, "conflict", err.Error())
			return
		}
		h.logger.Error("initiating config removal", "error", err, "server_id", srv.ID)
		internalError(w, "failed to initiate config removal")
		return
	}

	httpserver.Respond(w, http.StatusAccepted, apply)
}
