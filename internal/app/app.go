// Package app wires every component of the fleet hub together and starts
// it in one of two run modes: "api" (HTTP surface, C14) or "worker"
// (scheduler loops, C13).
package app

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/fleethub/internal/authgate"
	"github.com/wisbric/fleethub/internal/config"
	"github.com/wisbric/fleethub/internal/db"
	"github.com/wisbric/fleethub/internal/httpserver"
	"github.com/wisbric/fleethub/internal/platform"
	"github.com/wisbric/fleethub/internal/telemetry"
	"github.com/wisbric/fleethub/internal/version"
	"github.com/wisbric/fleethub/pkg/alert"
	"github.com/wisbric/fleethub/pkg/compliance"
	"github.com/wisbric/fleethub/pkg/configapply"
	"github.com/wisbric/fleethub/pkg/configpack"
	"github.com/wisbric/fleethub/pkg/heartbeat"
	"github.com/wisbric/fleethub/pkg/notifier"
	"github.com/wisbric/fleethub/pkg/remediation"
	"github.com/wisbric/fleethub/pkg/scheduler"
	"github.com/wisbric/fleethub/pkg/sshexec"
	"github.com/wisbric/fleethub/pkg/token"
	"github.com/wisbric/fleethub/pkg/vault"
	"github.com/wisbric/fleethub/pkg/whitelist"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the run mode named by cfg.Mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting fleethubd",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
		"version", version.Version,
	)

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry()

	parts, err := buildComponents(cfg, logger, pool, rdb)
	if err != nil {
		return fmt.Errorf("building components: %w", err)
	}

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, pool, rdb, metricsReg, parts)
	case "worker":
		return runWorker(ctx, logger, pool, rdb, parts)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// components holds every domain engine, shared across the api and worker
// run modes.
type components struct {
	Queries     *db.Queries
	Vault       *vault.Vault
	Tokens      *token.Service
	Gate        *authgate.Gate
	SSHPool     *sshexec.Pool
	Whitelist   *whitelist.Registry
	Packs       *configpack.Loader
	Compliance  *compliance.Checker
	ConfigApply *configapply.Engine
	Notifier    *notifier.Notifier
	Alerts      *alert.Engine
	Heartbeats  *heartbeat.Pipeline
	Remediation *remediation.Engine
	Thresholds  alert.Thresholds
	Notify      alert.NotificationConfig
}

func buildComponents(cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client) (*components, error) {
	q := db.New(pool)

	vaultKey, err := hex.DecodeString(cfg.VaultKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding vault key: %w", err)
	}
	v, err := vault.New(vaultKey, pool)
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	tokens := token.NewService(pool, cfg.HubURL)
	gate := authgate.New(cfg.AdminAPIKey, q, logger)

	sshPool := sshexec.NewPool(cfg.SSHPoolIdleTTL, cfg.SSHConnectTimeout, logger)
	wl := whitelist.NewRegistry(logger)
	packs := configpack.NewLoader(cfg.PacksDir)

	checker := compliance.NewChecker(sshPool)
	ca := configapply.NewEngine(q, sshPool)

	n := notifier.New(cfg.WebhookURL, logger)
	dedup := alert.NewDeduplicator(rdb, logger)
	alerts := alert.NewEngine(q, n, dedup)
	hb := heartbeat.NewPipeline(pool, alerts, n)
	rem := remediation.NewEngine(q, wl, sshPool)

	thresholds := alert.Thresholds{
		CPU:    alert.MetricThreshold{HighPercent: cfg.CPUHighPercent, CriticalPercent: cfg.CPUCriticalPercent, SustainedHeartbeats: cfg.AlertSustainedBeats, SustainedSeconds: cfg.AlertSustainedSeconds},
		Memory: alert.MetricThreshold{HighPercent: cfg.MemoryHighPercent, CriticalPercent: cfg.MemoryCriticalPercent, SustainedHeartbeats: cfg.AlertSustainedBeats, SustainedSeconds: cfg.AlertSustainedSeconds},
		Disk:   alert.MetricThreshold{HighPercent: cfg.DiskHighPercent, CriticalPercent: cfg.DiskCriticalPercent, SustainedHeartbeats: cfg.AlertSustainedBeats, SustainedSeconds: cfg.AlertSustainedSeconds},
	}
	notify := alert.NotificationConfig{
		WebhookURL:       cfg.WebhookURL,
		NotifyOnCritical: cfg.NotifyOnCritical, NotifyOnHigh: cfg.NotifyOnHigh,
		NotifyOnMedium: cfg.NotifyOnMedium, NotifyOnLow: cfg.NotifyOnLow,
		CriticalMinutes: cfg.NotifyCriticalMinutes, HighMinutes: cfg.NotifyHighMinutes,
	}

	return &components{
		Queries: q, Vault: v, Tokens: tokens, Gate: gate,
		SSHPool: sshPool, Whitelist: wl, Packs: packs,
		Compliance: checker, ConfigApply: ca, Notifier: n,
		Alerts: alerts, Heartbeats: hb, Remediation: rem,
		Thresholds: thresholds, Notify: notify,
	}, nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, parts *components) error {
	srv := httpserver.NewServer(cfg, logger, pool, rdb, metricsReg, parts.Gate)

	mountRoutes(srv, cfg, logger, parts)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client, parts *components) error {
	logger.Info("worker started")

	sched := scheduler.New(pool, rdb, logger, parts.Alerts, parts.Notify, parts.ConfigApply, parts.Packs, parts.Vault)
	return sched.Run(ctx)
}
