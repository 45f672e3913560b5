package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const credentialColumns = `id, server_guid, api_token_hash, api_token_prefix, is_legacy, last_used_at, revoked_at, created_at`

func scanCredential(row pgx.Row) (AgentCredential, error) {
	var c AgentCredential
	err := row.Scan(&c.ID, &c.ServerGUID, &c.APITokenHash, &c.APITokenPrefix, &c.IsLegacy, &c.LastUsedAt, &c.RevokedAt, &c.CreatedAt)
	return c, err
}

// GetActiveCredentialByGUID returns the non-revoked credential for a server
// GUID. Satisfies authgate.CredentialLookup.
func (q *Queries) GetActiveCredentialByGUID(ctx context.Context, serverGUID uuid.UUID) (string, bool, error) {
	row := q.db.QueryRow(ctx, `
		SELECT api_token_hash, revoked_at IS NOT NULL FROM agent_credentials
		WHERE server_guid = $1 AND revoked_at IS NULL
		ORDER BY created_at DESC LIMIT 1`, serverGUID)

	var hash string
	var revoked bool
	if err := row.Scan(&hash, &revoked); err != nil {
		if err == pgx.ErrNoRows {
			return "", false, ErrNotFound
		}
		return "", false, err
	}
	return hash, revoked, nil
}

// GetCredentialByGUID returns full credential metadata (no plaintext is ever
// stored) for the admin describe endpoint.
func (q *Queries) GetCredentialByGUID(ctx context.Context, serverGUID uuid.UUID) (AgentCredential, error) {
	row := q.db.QueryRow(ctx, `SELECT `+credentialColumns+` FROM agent_credentials
		WHERE server_guid = $1 AND revoked_at IS NULL ORDER BY created_at DESC LIMIT 1`, serverGUID)
	return scanCredential(row)
}

// InsertCredential stores a newly issued credential's hash.
func (q *Queries) InsertCredential(ctx context.Context, c AgentCredential) (AgentCredential, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO agent_credentials (server_guid, api_token_hash, api_token_prefix, is_legacy)
		VALUES ($1, $2, $3, $4)
		RETURNING `+credentialColumns,
		c.ServerGUID, c.APITokenHash, c.APITokenPrefix, c.IsLegacy,
	)
	return scanCredential(row)
}

// RevokeCredential marks a credential as revoked; used standalone (admin
// revoke endpoint) and within the rotate transaction.
func (q *Queries) RevokeCredential(ctx context.Context, serverGUID uuid.UUID, now time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE agent_credentials SET revoked_at = $2 WHERE server_guid = $1 AND revoked_at IS NULL`, serverGUID, now)
	return err
}

// TouchCredentialLastUsed records successful agent-token verification.
func (q *Queries) TouchCredentialLastUsed(ctx context.Context, serverGUID uuid.UUID, now time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE agent_credentials SET last_used_at = $2 WHERE server_guid = $1 AND revoked_at IS NULL`, serverGUID, now)
	return err
}

// ErrNotFound is returned by lookup queries when no row matches.
var ErrNotFound = pgx.ErrNoRows
