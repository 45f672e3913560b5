package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertMetrics persists one raw telemetry sample.
func (q *Queries) InsertMetrics(ctx context.Context, m MetricSample) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO metrics (server_id, timestamp, cpu_percent, memory_percent, memory_total_mb, memory_used_mb,
			disk_percent, disk_total_gb, disk_used_gb, network_rx_bytes, network_tx_bytes,
			load_1m, load_5m, load_15m, uptime_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		m.ServerID, m.Timestamp, m.CPUPercent, m.MemoryPercent, m.MemoryTotalMB, m.MemoryUsedMB,
		m.DiskPercent, m.DiskTotalGB, m.DiskUsedGB, m.NetworkRxBytes, m.NetworkTxBytes,
		m.Load1, m.Load5, m.Load15, m.UptimeSeconds,
	)
	return err
}

func scanMetricSample(rows pgx.Rows) (MetricSample, error) {
	var m MetricSample
	err := rows.Scan(&m.ServerID, &m.Timestamp, &m.CPUPercent, &m.MemoryPercent, &m.MemoryTotalMB, &m.MemoryUsedMB,
		&m.DiskPercent, &m.DiskTotalGB, &m.DiskUsedGB, &m.NetworkRxBytes, &m.NetworkTxBytes,
		&m.Load1, &m.Load5, &m.Load15, &m.UptimeSeconds)
	return m, err
}

// ListRawMetrics returns raw samples for a server within [since, until), for
// the 24h/short-range metrics read and the rollup jobs.
func (q *Queries) ListRawMetrics(ctx context.Context, serverID string, since, until time.Time) ([]MetricSample, error) {
	rows, err := q.db.Query(ctx, `
		SELECT server_id, timestamp, cpu_percent, memory_percent, memory_total_mb, memory_used_mb,
			disk_percent, disk_total_gb, disk_used_gb, network_rx_bytes, network_tx_bytes,
			load_1m, load_5m, load_15m, uptime_seconds
		FROM metrics WHERE server_id = $1 AND timestamp >= $2 AND timestamp < $3 ORDER BY timestamp`,
		serverID, since, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MetricSample
	for rows.Next() {
		m, err := scanMetricSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanAggregate(rows pgx.Rows) (MetricAggregate, error) {
	var a MetricAggregate
	err := rows.Scan(&a.ServerID, &a.BucketStart,
		&a.CPUAvg, &a.CPUMin, &a.CPUMax,
		&a.MemoryAvg, &a.MemoryMin, &a.MemoryMax,
		&a.DiskAvg, &a.DiskMin, &a.DiskMax)
	return a, err
}

// UpsertHourlyAggregate idempotently writes one rolled-up hourly bucket
// (spec §4.13 raw→hourly rollup; idempotence is required by §8).
func (q *Queries) UpsertHourlyAggregate(ctx context.Context, a MetricAggregate) error {
	return q.upsertAggregate(ctx, "metrics_hourly", a)
}

// UpsertDailyAggregate is the hourly→daily analogue.
func (q *Queries) UpsertDailyAggregate(ctx context.Context, a MetricAggregate) error {
	return q.upsertAggregate(ctx, "metrics_daily", a)
}

func (q *Queries) upsertAggregate(ctx context.Context, table string, a MetricAggregate) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO `+table+` (server_id, bucket_start, cpu_avg, cpu_min, cpu_max, memory_avg, memory_min, memory_max, disk_avg, disk_min, disk_max)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (server_id, bucket_start) DO UPDATE SET
			cpu_avg = EXCLUDED.cpu_avg, cpu_min = EXCLUDED.cpu_min, cpu_max = EXCLUDED.cpu_max,
			memory_avg = EXCLUDED.memory_avg, memory_min = EXCLUDED.memory_min, memory_max = EXCLUDED.memory_max,
			disk_avg = EXCLUDED.disk_avg, disk_min = EXCLUDED.disk_min, disk_max = EXCLUDED.disk_max`,
		a.ServerID, a.BucketStart, a.CPUAvg, a.CPUMin, a.CPUMax, a.MemoryAvg, a.MemoryMin, a.MemoryMax, a.DiskAvg, a.DiskMin, a.DiskMax,
	)
	return err
}

// ListHourlyAggregates is the 30d range read.
func (q *Queries) ListHourlyAggregates(ctx context.Context, serverID string, since time.Time) ([]MetricAggregate, error) {
	return q.listAggregates(ctx, "metrics_hourly", serverID, since)
}

// ListDailyAggregates is the 12m range read.
func (q *Queries) ListDailyAggregates(ctx context.Context, serverID string, since time.Time) ([]MetricAggregate, error) {
	return q.listAggregates(ctx, "metrics_daily", serverID, since)
}

func (q *Queries) listAggregates(ctx context.Context, table, serverID string, since time.Time) ([]MetricAggregate, error) {
	rows, err := q.db.Query(ctx, `
		SELECT server_id, bucket_start, cpu_avg, cpu_min, cpu_max, memory_avg, memory_min, memory_max, disk_avg, disk_min, disk_max
		FROM `+table+` WHERE server_id = $1 AND bucket_start >= $2 ORDER BY bucket_start`, serverID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MetricAggregate
	for rows.Next() {
		a, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PruneMetricsBefore deletes raw/hourly/daily rows older than cutoff in
// bounded chunks, per spec §4.13 retention prune (≤10000 rows per commit).
func (q *Queries) PruneMetricsBefore(ctx context.Context, table, timestampColumn string, cutoff time.Time, chunkSize int) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM `+table+` WHERE ctid IN (
			SELECT ctid FROM `+table+` WHERE `+timestampColumn+` < $1 LIMIT $2
		)`, cutoff, chunkSize)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
