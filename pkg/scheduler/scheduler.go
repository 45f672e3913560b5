// Package scheduler runs the hub's background jobs (C13): stale-server
// detection, offline reminders, metrics rollups, retention pruning, and the
// config-apply worker. Each job is a ticker loop modeled on the teacher's
// escalation engine and schedule top-up loop; every tick is guarded by a
// Redis lock so overlapping ticks are skipped rather than run concurrently
// (spec §4.13, §5: ticks must not be reentrant).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/fleethub/internal/db"
	"github.com/wisbric/fleethub/pkg/alert"
	"github.com/wisbric/fleethub/pkg/configapply"
	"github.com/wisbric/fleethub/pkg/configpack"
	"github.com/wisbric/fleethub/pkg/sshexec"
	"github.com/wisbric/fleethub/pkg/vault"
)

const (
	staleCheckInterval      = 60 * time.Second
	offlineReminderInterval = 15 * time.Minute
	hourlyRollupInterval    = 5 * time.Minute
	dailyRollupInterval     = time.Hour
	retentionPruneInterval  = 24 * time.Hour
	configApplyPollInterval = 5 * time.Second

	staleCutoff = 180 * time.Second

	rawRetention    = 7 * 24 * time.Hour
	hourlyRetention = 90 * 24 * time.Hour
	dailyRetention  = 365 * 24 * time.Hour

	pruneChunkSize = 10000

	lockTTL = 50 * time.Second
)

// Scheduler wires the background jobs to the hub's storage, SSH, and
// notification components.
type Scheduler struct {
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Logger      *slog.Logger
	Alerts      *alert.Engine
	Notify      alert.NotificationConfig
	ConfigApply *configapply.Engine
	Packs       *configpack.Loader
	Vault       *vault.Vault
}

// New builds a Scheduler.
func New(pool *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger, alerts *alert.Engine, notify alert.NotificationConfig, ca *configapply.Engine, packs *configpack.Loader, v *vault.Vault) *Scheduler {
	return &Scheduler{
		Pool: pool, Redis: rdb, Logger: logger,
		Alerts: alerts, Notify: notify,
		ConfigApply: ca, Packs: packs, Vault: v,
	}
}

// Run starts every job loop as a goroutine and blocks on the stale-check
// loop until ctx is cancelled, mirroring the teacher's worker wiring where
// secondary loops run via `go X.RunLoop(...)` alongside the primary engine.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Logger.Info("scheduler started")

	go s.RunOfflineReminderLoop(ctx)
	go s.RunHourlyRollupLoop(ctx)
	go s.RunDailyRollupLoop(ctx)
	go s.RunRetentionPruneLoop(ctx)
	go s.RunConfigApplyWorkerLoop(ctx)

	s.RunStaleCheckLoop(ctx)
	return nil
}

// withLock runs fn only if it acquires the named Redis lock, so that a tick
// which is still running when the next one fires does not run twice. The
// lock is released unconditionally once fn returns.
func (s *Scheduler) withLock(ctx context.Context, name string, fn func(context.Context) error) {
	key := "fleethub:scheduler:lock:" + name
	ok, err := s.Redis.SetNX(ctx, key, "1", lockTTL).Result()
	if err != nil {
		s.Logger.Error("scheduler lock acquire failed", "job", name, "error", err)
		return
	}
	if !ok {
		s.Logger.Debug("scheduler tick skipped, already running", "job", name)
		return
	}
	defer s.Redis.Del(ctx, key)

	if err := fn(ctx); err != nil {
		s.Logger.Error("scheduler job failed", "job", name, "error", err)
	}
}

// RunStaleCheckLoop moves servers whose heartbeat has gone quiet to offline
// and raises an alert for non-workstations (spec §4.13 stale check).
func (s *Scheduler) RunStaleCheckLoop(ctx context.Context) {
	ticker := time.NewTicker(staleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.withLock(ctx, "stale_check", s.staleCheckTick)
		}
	}
}

func (s *Scheduler) staleCheckTick(ctx context.Context) error {
	q := db.New(s.Pool)
	now := time.Now()

	stale, err := q.ListStaleOnlineServers(ctx, now.Add(-staleCutoff))
	if err != nil {
		return fmt.Errorf("listing stale servers: %w", err)
	}

	for _, srv := range stale {
		if err := q.MarkOffline(ctx, srv.ID); err != nil {
			s.Logger.Error("marking server offline", "server", srv.ID, "error", err)
			continue
		}
		if srv.MachineType == "workstation" {
			continue
		}
		if err := s.Alerts.TriggerOfflineAlert(ctx, now, srv.ID, false, s.Notify); err != nil {
			s.Logger.Error("triggering offline alert", "server", srv.ID, "error", err)
		}
	}
	return nil
}

// RunOfflineReminderLoop re-raises the offline alert for servers that are
// still offline, subject to the alert's cooldown (spec §4.13 offline
// reminders).
func (s *Scheduler) RunOfflineReminderLoop(ctx context.Context) {
	ticker := time.NewTicker(offlineReminderInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.withLock(ctx, "offline_reminders", s.offlineReminderTick)
		}
	}
}

func (s *Scheduler) offlineReminderTick(ctx context.Context) error {
	q := db.New(s.Pool)
	now := time.Now()

	offline, err := q.ListOfflineNonWorkstations(ctx)
	if err != nil {
		return fmt.Errorf("listing offline servers: %w", err)
	}

	for _, srv := range offline {
		if err := s.Alerts.TriggerOfflineAlert(ctx, now, srv.ID, true, s.Notify); err != nil {
			s.Logger.Error("sending offline reminder", "server", srv.ID, "error", err)
		}
	}
	return nil
}

// RunHourlyRollupLoop buckets raw metrics into hourly {avg,min,max} rows
// (spec §4.13 raw→hourly rollup).
func (s *Scheduler) RunHourlyRollupLoop(ctx context.Context) {
	ticker := time.NewTicker(hourlyRollupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.withLock(ctx, "hourly_rollup", func(ctx context.Context) error {
				return s.rollup(ctx, time.Hour, (*db.Queries).UpsertHourlyAggregate)
			})
		}
	}
}

// RunDailyRollupLoop buckets raw metrics into daily {avg,min,max} rows
// (spec §4.13 hourly→daily rollup). It buckets from the same raw table as
// the hourly job; both upserts are idempotent so re-running either is safe.
func (s *Scheduler) RunDailyRollupLoop(ctx context.Context) {
	ticker := time.NewTicker(dailyRollupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.withLock(ctx, "daily_rollup", func(ctx context.Context) error {
				return s.rollup(ctx, 24*time.Hour, (*db.Queries).UpsertDailyAggregate)
			})
		}
	}
}

// rollup computes per-metric {avg,min,max} over the most recently completed
// bucket for every server with raw samples in that window, and upserts the
// result via upsert.
func (s *Scheduler) rollup(ctx context.Context, bucketSize time.Duration, upsert func(*db.Queries, context.Context, db.MetricAggregate) error) error {
	q := db.New(s.Pool)
	now := time.Now().UTC()
	bucketStart := now.Truncate(bucketSize).Add(-bucketSize)
	bucketEnd := bucketStart.Add(bucketSize)

	servers, err := q.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("listing servers: %w", err)
	}

	for _, srv := range servers {
		samples, err := q.ListRawMetrics(ctx, srv.ID, bucketStart, bucketEnd)
		if err != nil {
			s.Logger.Error("listing raw metrics for rollup", "server", srv.ID, "error", err)
			continue
		}
		if len(samples) == 0 {
			continue
		}

		agg := aggregate(srv.ID, bucketStart, samples)
		if err := upsert(q, ctx, agg); err != nil {
			s.Logger.Error("upserting rollup aggregate", "server", srv.ID, "error", err)
		}
	}
	return nil
}

// runningStat accumulates avg/min/max over the non-nil samples of one metric.
type runningStat struct {
	sum, min, max float64
	n             int
}

func (r *runningStat) add(v *float64) {
	if v == nil {
		return
	}
	if r.n == 0 {
		r.min, r.max = *v, *v
	} else {
		r.min, r.max = minF(r.min, *v), maxF(r.max, *v)
	}
	r.sum += *v
	r.n++
}

func (r *runningStat) avg() float64 {
	if r.n == 0 {
		return 0
	}
	return r.sum / float64(r.n)
}

func aggregate(serverID string, bucketStart time.Time, samples []db.MetricSample) db.MetricAggregate {
	var cpu, mem, disk runningStat
	for _, m := range samples {
		cpu.add(m.CPUPercent)
		mem.add(m.MemoryPercent)
		disk.add(m.DiskPercent)
	}

	return db.MetricAggregate{
		ServerID: serverID, BucketStart: bucketStart,
		CPUAvg: cpu.avg(), CPUMin: cpu.min, CPUMax: cpu.max,
		MemoryAvg: mem.avg(), MemoryMin: mem.min, MemoryMax: mem.max,
		DiskAvg: disk.avg(), DiskMin: disk.min, DiskMax: disk.max,
	}
}

func minF(a, b float64) float64 {
	if b < a {
		return b
	}
	return a
}

func maxF(a, b float64) float64 {
	if b > a {
		return b
	}
	return a
}

// RunRetentionPruneLoop deletes metrics rows past their tier's retention
// cutoff in bounded chunks (spec §4.13 retention prune).
func (s *Scheduler) RunRetentionPruneLoop(ctx context.Context) {
	ticker := time.NewTicker(retentionPruneInterval)
	defer ticker.Stop()

	// Run once at start, as the teacher's schedule top-up loop does.
	s.withLock(ctx, "retention_prune", s.retentionPruneTick)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.withLock(ctx, "retention_prune", s.retentionPruneTick)
		}
	}
}

func (s *Scheduler) retentionPruneTick(ctx context.Context) error {
	q := db.New(s.Pool)
	now := time.Now()

	tiers := []struct {
		table     string
		column    string
		retention time.Duration
	}{
		{"metrics", "timestamp", rawRetention},
		{"metrics_hourly", "bucket_start", hourlyRetention},
		{"metrics_daily", "bucket_start", dailyRetention},
	}

	for _, t := range tiers {
		cutoff := now.Add(-t.retention)
		for {
			n, err := q.PruneMetricsBefore(ctx, t.table, t.column, cutoff, pruneChunkSize)
			if err != nil {
				s.Logger.Error("pruning metrics", "table", t.table, "error", err)
				break
			}
			if n < pruneChunkSize {
				break
			}
		}
	}
	return nil
}

// RunConfigApplyWorkerLoop picks up pending config-pack applies/removes and
// executes them in the background (spec §4.13 config-apply background
// task).
func (s *Scheduler) RunConfigApplyWorkerLoop(ctx context.Context) {
	ticker := time.NewTicker(configApplyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.withLock(ctx, "config_apply_worker", s.configApplyTick)
		}
	}
}

func (s *Scheduler) configApplyTick(ctx context.Context) error {
	q := db.New(s.Pool)

	pending, err := q.ListPendingConfigApplies(ctx)
	if err != nil {
		return fmt.Errorf("listing pending config applies: %w", err)
	}

	for _, apply := range pending {
		srv, err := q.GetServerByID(ctx, apply.ServerID)
		if err != nil {
			s.Logger.Error("loading server for config apply", "apply", apply.ID, "error", err)
			continue
		}

		pack, err := s.Packs.Load(apply.PackName)
		if err != nil {
			s.Logger.Error("loading config pack", "pack", apply.PackName, "error", err)
			continue
		}

		target, err := s.resolveTarget(ctx, srv)
		if err != nil {
			s.Logger.Error("resolving SSH target", "server", srv.ID, "error", err)
			continue
		}

		if apply.Operation == "remove" {
			s.ConfigApply.RunRemove(ctx, apply, target, srv.ConfigUser, pack)
		} else {
			s.ConfigApply.RunApply(ctx, apply, target, srv.ConfigUser, pack)
		}
	}
	return nil
}

// resolveTarget builds an SSH target for srv, resolving the private key
// per-server first and falling back to the fleet-wide key (spec §4.5
// acquisition path).
func (s *Scheduler) resolveTarget(ctx context.Context, srv db.Server) (sshexec.Target, error) {
	host := sshexec.ResolveTarget(srv.TailscaleHostname, srv.IPAddress, srv.Hostname)

	key, err := s.Vault.Get(ctx, "ssh_private_key", vault.ServerScope(srv.ID))
	if err != nil {
		key, err = s.Vault.Get(ctx, "ssh_private_key", vault.GlobalScope)
		if err != nil {
			return sshexec.Target{}, fmt.Errorf("no SSH key configured for %s: %w", srv.ID, err)
		}
	}

	return sshexec.Target{Host: host, User: srv.SSHUsername, PrivateKeyPEM: key}, nil
}
