// Package token issues and verifies the hub's two credential kinds:
// one-shot registration tokens and long-lived per-agent API tokens. Raw
// tokens are shown to the caller exactly once; only their SHA-256 hash is
// ever persisted (spec §4.3).
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/wisbric/fleethub/internal/apierr"
	"github.com/wisbric/fleethub/internal/db"
)

const (
	registrationTokenPrefix = "hlh_rt_"
	agentTokenPrefix        = "hlh_ag_"
)

// Service issues, claims, and rotates registration/agent tokens.
type Service struct {
	q      *db.Queries
	HubURL string
}

func NewService(dbtx db.DBTX, hubURL string) *Service {
	return &Service{q: db.New(dbtx), HubURL: hubURL}
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("token: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

func hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// IssueRegistrationTokenParams is the input to IssueRegistrationToken.
type IssueRegistrationTokenParams struct {
	Mode              string
	DisplayName       string
	MonitoredServices []string
	ExpiryMinutes     int
}

// IssueRegistrationTokenResult carries the raw token, shown once.
type IssueRegistrationTokenResult struct {
	Token       string
	TokenPrefix string
	ExpiresAt   time.Time
}

// IssueRegistrationToken creates a one-shot install credential in the
// `hlh_rt_{64 hex}` format (spec §4.3).
func (s *Service) IssueRegistrationToken(ctx context.Context, p IssueRegistrationTokenParams) (IssueRegistrationTokenResult, error) {
	raw := registrationTokenPrefix + randomHex(32)
	if p.ExpiryMinutes <= 0 {
		p.ExpiryMinutes = 60
	}
	expiresAt := time.Now().Add(time.Duration(p.ExpiryMinutes) * time.Minute)

	_, err := s.q.InsertRegistrationToken(ctx, db.RegistrationToken{
		TokenHash:         hash(raw),
		TokenPrefix:       raw[:16],
		Mode:              p.Mode,
		DisplayName:       p.DisplayName,
		MonitoredServices: p.MonitoredServices,
		ExpiresAt:         expiresAt,
	})
	if err != nil {
		return IssueRegistrationTokenResult{}, fmt.Errorf("inserting registration token: %w", err)
	}

	return IssueRegistrationTokenResult{Token: raw, TokenPrefix: raw[:16], ExpiresAt: expiresAt}, nil
}

// ClaimParams is the input to Claim.
type ClaimParams struct {
	RawToken string
	ServerID string
	Hostname string
}

// ClaimResult is returned to the installer on a successful claim.
type ClaimResult struct {
	ServerID   string
	ServerGUID uuid.UUID
	APIToken   string
	ConfigYAML string
}

// installConfig is the shape rendered into ConfigYAML.
type installConfig struct {
	HubURL             string   `yaml:"hub_url"`
	ServerID           string   `yaml:"server_id"`
	ServerGUID         string   `yaml:"server_guid"`
	APIToken           string   `yaml:"api_token"`
	Mode               string   `yaml:"mode"`
	HeartbeatInterval  int      `yaml:"heartbeat_interval"`
	MonitoredServices  []string `yaml:"monitored_services,omitempty"`
	CommandExecution   *struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"command_execution,omitempty"`
}

// Claim validates a registration token and issues the server its permanent
// GUID and agent token, per spec §4.3's claim flow.
func (s *Service) Claim(ctx context.Context, p ClaimParams) (ClaimResult, error) {
	rt, err := s.q.GetRegistrationTokenByHash(ctx, hash(p.RawToken))
	if err != nil {
		if err == db.ErrNotFound {
			return ClaimResult{}, apierr.New(apierr.KindNotFound, "unknown registration token")
		}
		return ClaimResult{}, apierr.Wrap(apierr.KindInternal, "looking up registration token", err)
	}
	if rt.ClaimedAt != nil || time.Now().After(rt.ExpiresAt) {
		return ClaimResult{}, apierr.New(apierr.KindValidation, "registration token already claimed or expired")
	}

	existing, err := s.q.GetServerByID(ctx, p.ServerID)
	serverExists := err == nil
	if err != nil && err != db.ErrNotFound {
		return ClaimResult{}, apierr.Wrap(apierr.KindInternal, "looking up server", err)
	}

	guid := uuid.New()
	if serverExists {
		if existing.GUID != nil {
			if _, credErr := s.q.GetCredentialByGUID(ctx, *existing.GUID); credErr == nil {
				return ClaimResult{}, apierr.New(apierr.KindConflict, "server already has an active credential; rotate instead")
			}
			guid = *existing.GUID
		}
	} else {
		if _, err := s.q.CreateServer(ctx, db.Server{
			ID: p.ServerID, GUID: &guid, Hostname: p.Hostname, Status: "online",
			MachineType: "server", AssignedPacks: []string{"base"},
		}); err != nil {
			return ClaimResult{}, apierr.Wrap(apierr.KindInternal, "creating server", err)
		}
	}

	rawAPIToken := agentTokenPrefix + guid.String()[:8] + "_" + randomHex(32)
	if _, err := s.q.InsertCredential(ctx, db.AgentCredential{ServerGUID: guid, APITokenHash: hash(rawAPIToken), APITokenPrefix: rawAPIToken[:20]}); err != nil {
		return ClaimResult{}, apierr.Wrap(apierr.KindInternal, "inserting credential", err)
	}

	if err := s.q.ClaimRegistrationToken(ctx, rt.ID, p.ServerID, time.Now()); err != nil {
		return ClaimResult{}, apierr.Wrap(apierr.KindInternal, "marking token claimed", err)
	}

	cfg := installConfig{
		HubURL: s.HubURL, ServerID: p.ServerID, ServerGUID: guid.String(),
		APIToken: rawAPIToken, Mode: rt.Mode, HeartbeatInterval: 60,
		MonitoredServices: rt.MonitoredServices,
	}
	if rt.Mode == "readwrite" {
		cfg.CommandExecution = &struct {
			Enabled bool `yaml:"enabled"`
		}{Enabled: true}
	}
	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("rendering install config: %w", err)
	}

	return ClaimResult{ServerID: p.ServerID, ServerGUID: guid, APIToken: rawAPIToken, ConfigYAML: string(yamlBytes)}, nil
}

// Rotate issues a fresh agent token and revokes the prior one atomically.
func (s *Service) Rotate(ctx context.Context, serverGUID uuid.UUID) (string, error) {
	if err := s.q.RevokeCredential(ctx, serverGUID, time.Now()); err != nil {
		return "", fmt.Errorf("revoking prior credential: %w", err)
	}
	raw := agentTokenPrefix + serverGUID.String()[:8] + "_" + randomHex(32)
	if _, err := s.q.InsertCredential(ctx, db.AgentCredential{ServerGUID: serverGUID, APITokenHash: hash(raw), APITokenPrefix: raw[:20]}); err != nil {
		return "", fmt.Errorf("inserting rotated credential: %w", err)
	}
	return raw, nil
}

// Revoke marks a server's active credential revoked.
func (s *Service) Revoke(ctx context.Context, serverGUID uuid.UUID) error {
	return s.q.RevokeCredential(ctx, serverGUID, time.Now())
}

// Verify performs a constant-time check of a raw agent token against the
// stored hash for serverGUID, updating last_used_at on success.
func (s *Service) Verify(ctx context.Context, serverGUID uuid.UUID, rawToken string) (bool, error) {
	storedHash, revoked, err := s.q.GetActiveCredentialByGUID(ctx, serverGUID)
	if err != nil {
		return false, err
	}
	if revoked {
		return false, nil
	}
	ok := subtle.ConstantTimeCompare([]byte(storedHash), []byte(hash(rawToken))) == 1
	if ok {
		_ = s.q.TouchCredentialLastUsed(ctx, serverGUID, time.Now())
	}
	return ok, nil
}
