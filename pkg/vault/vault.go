// Package vault stores at-rest secrets (SSH keys, the Tailscale token,
// per-server sudo passwords, agent-token material) behind AES-256-GCM,
// keyed by a (credential_type, scope) tuple. It never returns plaintext
// from a list/describe operation — only type, scope, and presence.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/wisbric/fleethub/internal/db"
)

// GlobalScope is the scope for fleet-wide secrets (e.g. the default SSH key).
const GlobalScope = "global"

// ServerScope returns the per-server scope string for id.
func ServerScope(serverID string) string {
	return "server:" + serverID
}

// Record is the typed, plaintext-free description of a stored secret.
type Record struct {
	Type       string
	Scope      string
	Configured bool
	LastUsedAt *time.Time
}

// Vault encrypts and decrypts secrets with a single process-wide key loaded
// from configuration (spec §4.2).
type Vault struct {
	gcm cipher.AEAD
	q   *db.Queries
}

// New creates a Vault. key must be 32 bytes (AES-256).
func New(key []byte, dbtx db.DBTX) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault: encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: creating GCM: %w", err)
	}
	return &Vault{gcm: gcm, q: db.New(dbtx)}, nil
}

// Store encrypts and persists a secret, overwriting any existing value for
// the same (credentialType, scope) — rotation is delete+store.
func (v *Vault) Store(ctx context.Context, credentialType, scope string, plaintext []byte) error {
	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("vault: generating nonce: %w", err)
	}
	ciphertext := v.gcm.Seal(nonce, nonce, plaintext, nil)
	return v.q.PutVaultEntry(ctx, credentialType, scope, ciphertext)
}

// Get decrypts and returns a secret's plaintext bytes.
func (v *Vault) Get(ctx context.Context, credentialType, scope string) ([]byte, error) {
	entry, err := v.q.GetVaultEntry(ctx, credentialType, scope)
	if err != nil {
		return nil, err
	}
	if len(entry.Ciphertext) < v.gcm.NonceSize() {
		return nil, fmt.Errorf("vault: stored ciphertext too short")
	}
	nonce, ct := entry.Ciphertext[:v.gcm.NonceSize()], entry.Ciphertext[v.gcm.NonceSize():]
	plaintext, err := v.gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypting: %w", err)
	}
	go func() { _ = v.q.TouchVaultEntry(context.Background(), credentialType, scope, time.Now()) }()
	return plaintext, nil
}

// Exists reports whether a secret is configured, without decrypting it.
func (v *Vault) Exists(ctx context.Context, credentialType, scope string) (bool, error) {
	_, err := v.q.GetVaultEntry(ctx, credentialType, scope)
	if err != nil {
		if err == db.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes a secret.
func (v *Vault) Delete(ctx context.Context, credentialType, scope string) error {
	return v.q.DeleteVaultEntry(ctx, credentialType, scope)
}

// ListTypesForScope returns the configured credential types for a scope as
// typed Records, never plaintext (spec §4.2, §9 "never a free-form map").
func (v *Vault) ListTypesForScope(ctx context.Context, scope string) ([]Record, error) {
	types, err := v.q.ListVaultTypesForScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(types))
	for _, t := range types {
		entry, err := v.q.GetVaultEntry(ctx, t, scope)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{Type: t, Scope: scope, Configured: true, LastUsedAt: entry.LastUsedAt})
	}
	return out, nil
}
