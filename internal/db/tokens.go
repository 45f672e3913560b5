package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const registrationTokenColumns = `id, token_hash, token_prefix, mode, display_name, monitored_services, expires_at, claimed_at, claimed_by_server_id, created_at`

func scanRegistrationToken(row pgx.Row) (RegistrationToken, error) {
	var t RegistrationToken
	err := row.Scan(&t.ID, &t.TokenHash, &t.TokenPrefix, &t.Mode, &t.DisplayName, &t.MonitoredServices,
		&t.ExpiresAt, &t.ClaimedAt, &t.ClaimedByServerID, &t.CreatedAt)
	return t, err
}

// InsertRegistrationToken stores a newly issued registration token.
func (q *Queries) InsertRegistrationToken(ctx context.Context, t RegistrationToken) (RegistrationToken, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO registration_tokens (token_hash, token_prefix, mode, display_name, monitored_services, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+registrationTokenColumns,
		t.TokenHash, t.TokenPrefix, t.Mode, t.DisplayName, t.MonitoredServices, t.ExpiresAt,
	)
	return scanRegistrationToken(row)
}

// ListPendingRegistrationTokens returns unclaimed, unexpired tokens.
func (q *Queries) ListPendingRegistrationTokens(ctx context.Context, now time.Time) ([]RegistrationToken, error) {
	rows, err := q.db.Query(ctx, `SELECT `+registrationTokenColumns+` FROM registration_tokens
		WHERE claimed_at IS NULL AND expires_at > $1 ORDER BY created_at DESC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RegistrationToken
	for rows.Next() {
		t, err := scanRegistrationToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetRegistrationTokenByHash looks up a token by its hash for the claim flow.
func (q *Queries) GetRegistrationTokenByHash(ctx context.Context, hash string) (RegistrationToken, error) {
	row := q.db.QueryRow(ctx, `SELECT `+registrationTokenColumns+` FROM registration_tokens WHERE token_hash = $1`, hash)
	return scanRegistrationToken(row)
}

// GetRegistrationToken fetches by ID, for the cancel endpoint.
func (q *Queries) GetRegistrationToken(ctx context.Context, id uuid.UUID) (RegistrationToken, error) {
	row := q.db.QueryRow(ctx, `SELECT `+registrationTokenColumns+` FROM registration_tokens WHERE id = $1`, id)
	return scanRegistrationToken(row)
}

// DeleteRegistrationToken cancels a pending token; the caller must already
// have verified it is unclaimed.
func (q *Queries) DeleteRegistrationToken(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM registration_tokens WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ClaimRegistrationToken marks a token claimed, atomically with server
// credential creation in the caller's transaction.
func (q *Queries) ClaimRegistrationToken(ctx context.Context, id uuid.UUID, serverID string, now time.Time) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE registration_tokens SET claimed_at = $2, claimed_by_server_id = $3
		WHERE id = $1 AND claimed_at IS NULL`, id, now, serverID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
