package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/fleethub/internal/db"
)

const (
	// dedupTTL is the Redis TTL for open-alert dedup keys.
	dedupTTL = 5 * time.Minute

	redisKeyPrefix = "alert:dedup:"
)

// Deduplicator caches the open alert ID for a (server, alert_type, metric)
// triple in Redis, so the per-heartbeat threshold and service evaluation
// loops don't round-trip Postgres on every sample once an alert is open.
type Deduplicator struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewDeduplicator builds a Deduplicator.
func NewDeduplicator(rdb *redis.Client, logger *slog.Logger) *Deduplicator {
	return &Deduplicator{rdb: rdb, logger: logger}
}

func dedupKey(serverID, alertType, metric string) string {
	return redisKeyPrefix + serverID + ":" + alertType + ":" + metric
}

// Lookup returns the open alert's ID for this key. Redis is checked first;
// a miss or Redis error falls back to q.GetOpenAlert, warming the cache on
// a DB hit.
func (d *Deduplicator) Lookup(ctx context.Context, q *db.Queries, serverID, alertType, metric string) (uuid.UUID, bool) {
	key := dedupKey(serverID, alertType, metric)
	val, err := d.rdb.Get(ctx, key).Result()
	if err == nil {
		if id, parseErr := uuid.Parse(val); parseErr == nil {
			return id, true
		}
		d.logger.Warn("invalid UUID in alert dedup cache", "key", key, "value", val)
	} else if err != redis.Nil {
		d.logger.Warn("redis dedup lookup failed, falling back to DB", "error", err)
	}

	existing, err := q.GetOpenAlert(ctx, serverID, alertType, metric)
	if err != nil {
		return uuid.UUID{}, false
	}
	d.Set(ctx, serverID, alertType, metric, existing.ID)
	return existing.ID, true
}

// Set warms the cache after an alert is created or re-affirmed open.
func (d *Deduplicator) Set(ctx context.Context, serverID, alertType, metric string, alertID uuid.UUID) {
	key := dedupKey(serverID, alertType, metric)
	if err := d.rdb.Set(ctx, key, alertID.String(), dedupTTL).Err(); err != nil {
		d.logger.Warn("failed to set alert dedup cache", "error", err, "key", key)
	}
}

// Clear evicts the cache entry once an alert auto-resolves, so the next
// breach opens a fresh alert instead of reusing a stale cached ID.
func (d *Deduplicator) Clear(ctx context.Context, serverID, alertType, metric string) {
	key := dedupKey(serverID, alertType, metric)
	if err := d.rdb.Del(ctx, key).Err(); err != nil {
		d.logger.Warn("failed to clear alert dedup cache", "error", err, "key", key)
	}
}
