package app

import (
	"log/slog"

	"github.com/wisbric/fleethub/internal/config"
	"github.com/wisbric/fleethub/internal/httpapi"
	"github.com/wisbric/fleethub/internal/httpserver"
)

// mountRoutes wires every domain handler onto srv, following the
// one-handler-per-domain, Routes()-returns-chi.Router convention: most
// domains mount under the authenticated /api/v1 sub-router (srv.APIRouter),
// while the agent claim flow and the installer script are mounted directly
// on srv.Router so they bypass authgate entirely (spec §4.3, §6.5).
func mountRoutes(srv *httpserver.Server, cfg *config.Config, logger *slog.Logger, parts *components) {
	registerHandler := httpapi.NewRegisterHandler(logger, parts.Queries, parts.Tokens, cfg.HubURL)
	srv.APIRouter.Mount("/agents/register", registerHandler.Routes())
	srv.Router.Post("/api/v1/agents/register/claim", registerHandler.HandleClaim)
	srv.Router.Get("/api/v1/agents/register/install.sh", registerHandler.HandleInstallScript)

	heartbeatHandler := httpapi.NewHeartbeatHandler(logger, parts.Heartbeats, parts.Thresholds, parts.Notify)
	srv.APIRouter.Mount("/heartbeat", heartbeatHandler.Routes())

	alertsHandler := httpapi.NewAlertsHandler(logger, parts.Queries)
	srv.APIRouter.Mount("/alerts", alertsHandler.Routes())

	configHandler := httpapi.NewConfigHandler(logger, parts.Queries, parts.Vault, parts.Packs, parts.Compliance, parts.ConfigApply, parts.Notifier)
	srv.APIRouter.Mount("/config", configHandler.Routes())

	serversHandler := httpapi.NewServersHandler(logger, parts.Queries, parts.Vault, parts.Remediation)
	srv.APIRouter.Mount("/servers", serversHandler.Routes(configHandler.ServerConfigRoutes()))
}
