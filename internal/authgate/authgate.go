// Package authgate authenticates inbound requests using one of the two
// schemes the hub recognises: a single shared admin key, or a per-agent
// token paired with the server's permanent GUID. It is the only place in
// the codebase that decides who a request is.
package authgate

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/wisbric/fleethub/internal/apierr"
	"github.com/wisbric/fleethub/internal/db"
)

// MethodAdmin and MethodAgent identify how a request was authenticated.
const (
	MethodAdmin = "admin"
	MethodAgent = "agent"
)

// CredentialLookup resolves an agent credential by server GUID. It is
// satisfied by internal/db.Queries.
type CredentialLookup interface {
	GetActiveCredentialByGUID(ctx context.Context, serverGUID uuid.UUID) (tokenHash string, revoked bool, err error)
}

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	Method     string
	ServerGUID uuid.UUID // zero value when Method == MethodAdmin
}

// IsAdmin reports whether the principal authenticated with the shared admin key.
func (p *Principal) IsAdmin() bool { return p.Method == MethodAdmin }

type contextKey struct{}

var principalKey contextKey

// FromContext extracts the Principal stored by Middleware, if any.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// Gate authenticates requests per spec §4.4: an admin key match short-circuits
// to the admin principal; otherwise an agent token + server GUID pair is
// verified against the credential store.
type Gate struct {
	AdminAPIKey string
	Credentials CredentialLookup
	Logger      *slog.Logger
}

func New(adminAPIKey string, credentials CredentialLookup, logger *slog.Logger) *Gate {
	return &Gate{AdminAPIKey: adminAPIKey, Credentials: credentials, Logger: logger}
}

// Authenticate resolves the Principal for a request, or returns a typed
// apierr describing why it could not.
func (g *Gate) Authenticate(r *http.Request) (*Principal, *apierr.Error) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		if subtle.ConstantTimeCompare([]byte(key), []byte(g.AdminAPIKey)) == 1 {
			return &Principal{Method: MethodAdmin}, nil
		}
		return nil, apierr.New(apierr.KindUnauthenticated, "invalid API key")
	}

	token := r.Header.Get("X-Agent-Token")
	guidHeader := r.Header.Get("X-Server-GUID")
	if token == "" || guidHeader == "" {
		return nil, apierr.New(apierr.KindUnauthenticated, "missing credentials")
	}

	serverGUID, err := uuid.Parse(guidHeader)
	if err != nil {
		return nil, apierr.New(apierr.KindUnauthenticated, "malformed server GUID")
	}

	hash, revoked, err := g.Credentials.GetActiveCredentialByGUID(r.Context(), serverGUID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apierr.New(apierr.KindUnauthenticated, "unknown agent credential")
		}
		return nil, apierr.Wrap(apierr.KindInternal, "looking up agent credential", err)
	}
	if revoked {
		return nil, apierr.New(apierr.KindUnauthenticated, "credential revoked")
	}
	if subtle.ConstantTimeCompare([]byte(hash), []byte(hashAgentToken(token))) != 1 {
		return nil, apierr.New(apierr.KindUnauthenticated, "invalid agent token")
	}

	return &Principal{Method: MethodAgent, ServerGUID: serverGUID}, nil
}

func hashAgentToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Middleware authenticates every request it wraps and stores the resulting
// Principal in the request context. Unauthenticated requests are rejected
// with 401 via the shared apierr → HTTP mapping.
func Middleware(gate *Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, apiErr := gate.Authenticate(r)
			if apiErr != nil {
				gate.Logger.Warn("authentication failed", "path", r.URL.Path, "error", apiErr)
				respondErrFn(w, apiErr)
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects any request whose Principal did not authenticate with
// the shared admin key.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := FromContext(r.Context())
		if p == nil || !p.IsAdmin() {
			respondErrFn(w, apierr.New(apierr.KindUnauthenticated, "admin credentials required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// respondErrFn is set by internal/httpserver to avoid an import cycle
// (httpserver imports authgate to mount it; authgate cannot import httpserver back).
var respondErrFn = func(w http.ResponseWriter, err *apierr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Kind.HTTPStatus())
	_, _ = w.Write([]byte(`{"detail":{"code":"` + string(err.Kind) + `","message":"` + err.Message + `"}}`))
}

// SetErrorResponder lets the httpserver package wire its canonical JSON
// error envelope into authgate without an import cycle.
func SetErrorResponder(fn func(http.ResponseWriter, *apierr.Error)) {
	respondErrFn = fn
}
