// Package db is the hand-written query layer over the Postgres schema in
// migrations/. It follows the sqlc-generated shape the rest of this
// repository's stores are written against: a DBTX interface satisfied by
// both a pool and a transaction, and a Queries struct wrapping one.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx, letting every store run
// either against the pool directly or inside a caller-supplied transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries wraps a DBTX and exposes one method per stored operation.
type Queries struct {
	db DBTX
}

// New creates a Queries bound to the given DBTX.
func New(dbtx DBTX) *Queries {
	return &Queries{db: dbtx}
}

// WithTx returns a Queries bound to a transaction, for callers composing
// multiple statements atomically (the heartbeat pipeline, token rotation).
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}
