// Package httpapi holds the hub's per-domain HTTP handlers: registration
// and credentials, the heartbeat endpoint, server CRUD and remediation,
// alerts, and configuration (packs, compliance, thresholds/notifications).
// Each Handler is mounted by internal/app under /api/v1, following the
// teacher's one-handler-per-domain, Routes()-returns-chi.Router convention.
package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/fleethub/internal/db"
	"github.com/wisbric/fleethub/internal/httpserver"
	"github.com/wisbric/fleethub/pkg/sshexec"
	"github.com/wisbric/fleethub/pkg/vault"
)

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

// resolveSSHTarget mirrors the scheduler's SSH target resolution (spec
// §4.5): the server's own key, falling back to the fleet-wide key.
func resolveSSHTarget(ctx context.Context, v *vault.Vault, srv db.Server) (sshexec.Target, error) {
	host := sshexec.ResolveTarget(srv.TailscaleHostname, srv.IPAddress, srv.Hostname)

	key, err := v.Get(ctx, "ssh_private_key", vault.ServerScope(srv.ID))
	if err != nil {
		key, err = v.Get(ctx, "ssh_private_key", vault.GlobalScope)
		if err != nil {
			return sshexec.Target{}, fmt.Errorf("no SSH key configured for %s", srv.ID)
		}
	}
	return sshexec.Target{Host: host, User: srv.SSHUsername, PrivateKeyPEM: key}, nil
}

func badRequest(w http.ResponseWriter, message string) {
	httpserver.RespondError(w, http.StatusBadRequest, "bad_request", message)
}

func notFound(w http.ResponseWriter, message string) {
	httpserver.RespondError(w, http.StatusNotFound, "not_found", message)
}

func internalError(w http.ResponseWriter, message string) {
	httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", message)
}
