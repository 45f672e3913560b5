package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/fleethub/internal/authgate"
	"github.com/wisbric/fleethub/internal/db"
	"github.com/wisbric/fleethub/internal/httpserver"
)

// AlertsHandler serves the alert feed: listing, inspection, acknowledgement,
// and manual resolution (spec §3, §4.10, §6.1).
type AlertsHandler struct {
	logger  *slog.Logger
	queries *db.Queries
}

// NewAlertsHandler builds an AlertsHandler.
func NewAlertsHandler(logger *slog.Logger, q *db.Queries) *AlertsHandler {
	return &AlertsHandler{logger: logger, queries: q}
}

// Routes returns the admin-gated alert routes.
func (h *AlertsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(authgate.RequireAdmin)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Post("/acknowledge", h.handleAcknowledge)
		r.Post("/resolve", h.handleResolve)
	})
	return r
}

func (h *AlertsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	cursor, err := httpserver.ParseCursorParams(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	q := r.URL.Query()
	f := db.ListAlertsFilter{
		Status:   q.Get("status"),
		Severity: q.Get("severity"),
		ServerID: q.Get("server_id"),
		Limit:    cursor.Limit + 1, // fetch one extra to detect HasMore
	}
	if cursor.After != nil {
		f.After = &cursor.After.CreatedAt
		f.AfterID = &cursor.After.ID
	}

	alerts, err := h.queries.ListAlerts(r.Context(), f)
	if err != nil {
		h.logger.Error("listing alerts", "error", err)
		internalError(w, "failed to list alerts")
		return
	}

	page := httpserver.NewCursorPage(alerts, cursor.Limit, func(a db.Alert) httpserver.Cursor {
		return httpserver.Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
	})
	httpserver.Respond(w, http.StatusOK, page)
}

func (h *AlertsHandler) getAlert(w http.ResponseWriter, r *http.Request) (db.Alert, bool) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		badRequest(w, "invalid alert ID")
		return db.Alert{}, false
	}
	a, err := h.queries.GetAlert(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			notFound(w, "alert not found")
			return db.Alert{}, false
		}
		h.logger.Error("getting alert", "error", err, "id", id)
		internalError(w, "failed to get alert")
		return db.Alert{}, false
	}
	return a, true
}

func (h *AlertsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	a, ok := h.getAlert(w, r)
	if !ok {
		return
	}
	httpserver.Respond(w, http.StatusOK, a)
}

// handleAcknowledge acknowledges an open alert. Per spec §6.1, a service-down
// alert cannot be acknowledged while the service is still observed down
// (SERVICE_STILL_DOWN) — the operator must wait for recovery or resolve it
// directly instead.
func (h *AlertsHandler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	a, ok := h.getAlert(w, r)
	if !ok {
		return
	}

	if a.AlertType == "service" {
		status, err := h.queries.LatestServiceStatus(r.Context(), a.ServerID, a.Metric)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			h.logger.Error("checking service status", "error", err, "alert_id", a.ID)
			internalError(w, "failed to acknowledge alert")
			return
		}
		if err == nil && status.Status != "running" {
			httpserver.RespondError(w, http.StatusConflict, "service_still_down", "service is still down; cannot acknowledge")
			return
		}
	}

	if err := h.queries.AcknowledgeAlert(r.Context(), a.ID, time.Now()); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			badRequest(w, "alert is not open")
			return
		}
		h.logger.Error("acknowledging alert", "error", err, "id", a.ID)
		internalError(w, "failed to acknowledge alert")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AlertsHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		badRequest(w, "invalid alert ID")
		return
	}
	if err := h.queries.ResolveAlert(r.Context(), id, time.Now()); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			notFound(w, "alert not found or already resolved")
			return
		}
		h.logger.Error("resolving alert", "error", err, "id", id)
		internalError(w, "failed to resolve alert")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"success": true})
}
