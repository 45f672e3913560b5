package db

import (
	"context"
	"time"
)

// VaultEntry is one encrypted secret keyed by (credential_type, scope).
type VaultEntry struct {
	CredentialType string
	Scope          string
	Ciphertext     []byte
	LastUsedAt     *time.Time
	CreatedAt      time.Time
}

// GetVaultEntry fetches a secret's ciphertext by its scope tuple.
func (q *Queries) GetVaultEntry(ctx context.Context, credentialType, scope string) (VaultEntry, error) {
	var e VaultEntry
	e.CredentialType, e.Scope = credentialType, scope
	err := q.db.QueryRow(ctx, `SELECT ciphertext, last_used_at, created_at FROM vault_entries
		WHERE credential_type = $1 AND scope = $2`, credentialType, scope).
		Scan(&e.Ciphertext, &e.LastUsedAt, &e.CreatedAt)
	return e, err
}

// PutVaultEntry stores (or overwrites, for rotation) a secret's ciphertext.
func (q *Queries) PutVaultEntry(ctx context.Context, credentialType, scope string, ciphertext []byte) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO vault_entries (credential_type, scope, ciphertext)
		VALUES ($1, $2, $3)
		ON CONFLICT (credential_type, scope) DO UPDATE SET ciphertext = EXCLUDED.ciphertext, created_at = now()`,
		credentialType, scope, ciphertext)
	return err
}

// DeleteVaultEntry removes a secret.
func (q *Queries) DeleteVaultEntry(ctx context.Context, credentialType, scope string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM vault_entries WHERE credential_type = $1 AND scope = $2`, credentialType, scope)
	return err
}

// TouchVaultEntry records that a secret was just read, for `get`'s
// last_used_at bookkeeping.
func (q *Queries) TouchVaultEntry(ctx context.Context, credentialType, scope string, now time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE vault_entries SET last_used_at = $3 WHERE credential_type = $1 AND scope = $2`, credentialType, scope, now)
	return err
}

// ListVaultTypesForScope lists the configured credential types for a scope,
// for `list_types_for_server` — never returns ciphertext.
func (q *Queries) ListVaultTypesForScope(ctx context.Context, scope string) ([]string, error) {
	rows, err := q.db.Query(ctx, `SELECT credential_type FROM vault_entries WHERE scope = $1 ORDER BY credential_type`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
