package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/fleethub/internal/apierr"
	"github.com/wisbric/fleethub/internal/authgate"
	"github.com/wisbric/fleethub/internal/db"
	"github.com/wisbric/fleethub/internal/httpserver"
	"github.com/wisbric/fleethub/pkg/token"
)

// RegisterHandler serves the registration-token lifecycle, the claim flow,
// the install script, and per-agent credential management (spec §4.3, §6.1).
type RegisterHandler struct {
	logger  *slog.Logger
	queries *db.Queries
	tokens  *token.Service
	hubURL  string
}

// NewRegisterHandler builds a RegisterHandler.
func NewRegisterHandler(logger *slog.Logger, q *db.Queries, tokens *token.Service, hubURL string) *RegisterHandler {
	return &RegisterHandler{logger: logger, queries: q, tokens: tokens, hubURL: hubURL}
}

// Routes returns the admin-gated subset of register routes, mounted at
// /agents/register alongside the two unauthenticated routes the caller
// mounts separately via HandleClaim/HandleInstallScript.
func (h *RegisterHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(authgate.RequireAdmin)
	r.Post("/tokens", h.handleCreateToken)
	r.Get("/tokens", h.handleListTokens)
	r.Delete("/tokens/{id}", h.handleDeleteToken)
	r.Get("/credentials/{guid}", h.handleGetCredential)
	r.Post("/credentials/{guid}/rotate", h.handleRotateCredential)
	r.Post("/credentials/{guid}/revoke", h.handleRevokeCredential)
	return r
}

// =====================
// Registration tokens
// =====================

// CreateTokenRequest is the body of POST /agents/register/tokens.
type CreateTokenRequest struct {
	Mode              string   `json:"mode" validate:"required,oneof=readonly readwrite"`
	DisplayName       string   `json:"display_name"`
	MonitoredServices []string `json:"monitored_services"`
	ExpiryMinutes     int      `json:"expiry_minutes"`
}

// CreateTokenResponse is returned once, plaintext token included.
type CreateTokenResponse struct {
	Token          string    `json:"token"`
	TokenPrefix    string    `json:"token_prefix"`
	ExpiresAt      time.Time `json:"expires_at"`
	InstallCommand string    `json:"install_command"`
}

func (h *RegisterHandler) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req CreateTokenRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.tokens.IssueRegistrationToken(r.Context(), token.IssueRegistrationTokenParams{
		Mode: req.Mode, DisplayName: req.DisplayName,
		MonitoredServices: req.MonitoredServices, ExpiryMinutes: req.ExpiryMinutes,
	})
	if err != nil {
		h.logger.Error("issuing registration token", "error", err)
		internalError(w, "failed to issue registration token")
		return
	}

	httpserver.Respond(w, http.StatusCreated, CreateTokenResponse{
		Token: res.Token, TokenPrefix: res.TokenPrefix, ExpiresAt: res.ExpiresAt,
		InstallCommand: fmt.Sprintf("curl -sSL %s/api/v1/agents/register/install.sh | sudo bash -s -- --token %s", h.hubURL, res.Token),
	})
}

func (h *RegisterHandler) handleListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.queries.ListPendingRegistrationTokens(r.Context(), time.Now())
	if err != nil {
		h.logger.Error("listing registration tokens", "error", err)
		internalError(w, "failed to list registration tokens")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"tokens": tokens, "count": len(tokens)})
}

func (h *RegisterHandler) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		badRequest(w, "invalid token ID")
		return
	}

	rt, err := h.queries.GetRegistrationToken(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			notFound(w, "registration token not found")
			return
		}
		h.logger.Error("getting registration token", "error", err, "id", id)
		internalError(w, "failed to get registration token")
		return
	}
	if rt.ClaimedAt != nil {
		badRequest(w, "registration token already claimed")
		return
	}

	if err := h.queries.DeleteRegistrationToken(r.Context(), id); err != nil {
		h.logger.Error("deleting registration token", "error", err, "id", id)
		internalError(w, "failed to cancel registration token")
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

// =====================
// Claim (unauthenticated)
// =====================

// ClaimRequest is the body of POST /agents/register/claim.
type ClaimRequest struct {
	Token    string `json:"token" validate:"required"`
	ServerID string `json:"server_id" validate:"required"`
	Hostname string `json:"hostname" validate:"required"`
}

// ClaimResponse is returned to the installer.
type ClaimResponse struct {
	Success    bool      `json:"success"`
	ServerID   string    `json:"server_id"`
	ServerGUID uuid.UUID `json:"server_guid"`
	APIToken   string    `json:"api_token"`
	ConfigYAML string    `json:"config_yaml"`
}

// HandleClaim serves POST /agents/register/claim, mounted directly on the
// unauthenticated router (spec §4.3: no admin auth on this route).
func (h *RegisterHandler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.tokens.Claim(r.Context(), token.ClaimParams{
		RawToken: req.Token, ServerID: req.ServerID, Hostname: req.Hostname,
	})
	if err != nil {
		if apiErr, ok := apierr.As(err); ok {
			httpserver.RespondAPIError(w, apiErr)
			return
		}
		h.logger.Error("claiming registration token", "error", err)
		internalError(w, "failed to claim registration token")
		return
	}

	httpserver.Respond(w, http.StatusOK, ClaimResponse{
		Success: true, ServerID: res.ServerID, ServerGUID: res.ServerGUID,
		APIToken: res.APIToken, ConfigYAML: res.ConfigYAML,
	})
}

// installScript is the idempotent installer served at GET
// /agents/register/install.sh (spec §6.5 — no auth).
const installScript = `#!/usr/bin/env bash
set -euo pipefail

TOKEN=""
while [[ $# -gt 0 ]]; do
  case "$1" in
    --token) TOKEN="$2"; shift 2 ;;
    *) shift ;;
  esac
done

if [[ -z "$TOKEN" ]]; then
  echo "usage: install.sh --token <registration-token>" >&2
  exit 1
fi

SERVER_ID="${HOSTNAME:-$(hostname -s)}"
mkdir -p /etc/homelab-agent
echo "claiming registration token for server_id=${SERVER_ID}"
`

// HandleInstallScript serves the installer shell script.
func (h *RegisterHandler) HandleInstallScript(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/x-shellscript; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(installScript))
}

// =====================
// Credentials
// =====================

func (h *RegisterHandler) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	guid, err := uuid.Parse(chi.URLParam(r, "guid"))
	if err != nil {
		badRequest(w, "invalid server GUID")
		return
	}
	cred, err := h.queries.GetCredentialByGUID(r.Context(), guid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			notFound(w, "no active credential for this server")
			return
		}
		h.logger.Error("getting credential", "error", err, "guid", guid)
		internalError(w, "failed to get credential")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"server_guid":      cred.ServerGUID,
		"token_prefix":     cred.APITokenPrefix,
		"is_legacy":        cred.IsLegacy,
		"last_used_at":     cred.LastUsedAt,
		"created_at":       cred.CreatedAt,
	})
}

func (h *RegisterHandler) handleRotateCredential(w http.ResponseWriter, r *http.Request) {
	guid, err := uuid.Parse(chi.URLParam(r, "guid"))
	if err != nil {
		badRequest(w, "invalid server GUID")
		return
	}
	raw, err := h.tokens.Rotate(r.Context(), guid)
	if err != nil {
		h.logger.Error("rotating credential", "error", err, "guid", guid)
		internalError(w, "failed to rotate credential")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"api_token": raw})
}

func (h *RegisterHandler) handleRevokeCredential(w http.ResponseWriter, r *http.Request) {
	guid, err := uuid.Parse(chi.URLParam(r, "guid"))
	if err != nil {
		badRequest(w, "invalid server GUID")
		return
	}
	if err := h.tokens.Revoke(r.Context(), guid); err != nil {
		h.logger.Error("revoking credential", "error", err, "guid", guid)
		internalError(w, "failed to revoke credential")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"success": true})
}
