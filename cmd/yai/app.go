package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/francescomaiomascio/yai/pkg/api"
	"github.com/francescomaiomascio/yai/pkg/archive"
	"github.com/francescomaiomascio/yai/pkg/capabilities"
	"github.com/francescomaiomascio/yai/pkg/config"
	"github.com/francescomaiomascio/yai/pkg/ids"
	"github.com/francescomaiomascio/yai/pkg/kernel"
	"github.com/francescomaiomascio/yai/pkg/limiter"
	"github.com/francescomaiomascio/yai/pkg/memory"
	"github.com/francescomaiomascio/yai/pkg/observability"
)

// app is the wired ledger: kernel, memory subsystem, archive and HTTP surface.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	telemetry *observability.Provider
	emitter   *kernel.Emitter
	memories  *memory.Service
	archive   *archive.SQLArchive
	follower  *archive.Follower
	limiter   limiter.Store
	server    *api.Server
}

// loadConfig resolves --config, then YAI_CONFIG, then the environment alone.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("YAI_CONFIG")
	}
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// configFlag registers the shared --config flag on fs.
func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "", "Path to a YAML config file (env: YAI_CONFIG)")
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// openArchive opens SQLite in lite mode and Postgres otherwise.
func openArchive(ctx context.Context, cfg *config.Config) (*archive.SQLArchive, error) {
	if !cfg.LiteMode() {
		return archive.OpenPostgres(ctx, cfg.DatabaseURL)
	}
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." && cfg.SQLitePath != ":memory:" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return archive.OpenSQLite(ctx, cfg.SQLitePath)
}

func tokenSecret(cfg *config.Config, logger *slog.Logger) ([]byte, error) {
	if cfg.TokenSecret != "" {
		return []byte(cfg.TokenSecret), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate token secret: %w", err)
	}
	logger.Warn("YAI_TOKEN_SECRET not set; using an ephemeral secret, tokens issued by `yai token` will not verify")
	return secret, nil
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	tcfg := observability.DefaultConfig()
	tcfg.ServiceVersion = version
	tcfg.Environment = cfg.Environment
	tcfg.OTLPEndpoint = cfg.TelemetryEndpoint
	tcfg.Enabled = cfg.TelemetryEnabled
	telemetry, err := observability.New(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.telemetry = telemetry

	observer, err := observability.NewEmissionObserver(telemetry.Meter())
	if err != nil {
		return nil, a.fail(ctx, err)
	}
	a.emitter = kernel.NewEmitter(kernel.NewStore(), nil).WithLogger(logger).WithObserver(observer)

	governanceRun := cfg.GovernanceRunID
	if governanceRun == "" {
		governanceRun = ids.NewRunID()
		logger.Info("governance run generated", "run_id", governanceRun)
	}
	journal := memory.NewJournal(a.emitter, governanceRun)
	lifecycle := memory.NewLifecycle(journal).WithLogger(logger)
	registry := memory.NewRegistry()
	a.memories = memory.NewService(journal, registry, lifecycle).
		WithLedger(a.emitter.Store()).
		WithLogger(logger)
	views := memory.NewViewBuilder(registry, lifecycle, capabilities.NewGrantTable())

	secret, err := tokenSecret(cfg, logger)
	if err != nil {
		return nil, a.fail(ctx, err)
	}
	tokens, err := capabilities.NewTokenManager(secret)
	if err != nil {
		return nil, a.fail(ctx, err)
	}

	a.archive, err = openArchive(ctx, cfg)
	if err != nil {
		return nil, a.fail(ctx, fmt.Errorf("archive: %w", err))
	}
	a.follower = archive.NewFollower(a.emitter.Store(), a.archive).WithLogger(logger)
	logger.Info("archive ready", "dialect", a.archive.Dialect().String())

	if cfg.RedisAddr != "" {
		rs, err := limiter.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, 0)
		if err != nil {
			return nil, a.fail(ctx, fmt.Errorf("rate limiter: %w", err))
		}
		a.limiter = rs
	} else {
		a.limiter = limiter.NewInMemoryStore()
	}

	a.server, err = api.NewServer(a.emitter, a.memories, views, tokens)
	if err != nil {
		return nil, a.fail(ctx, err)
	}
	a.server.
		WithLimiter(a.limiter, limiter.Policy{PerMinute: cfg.RatePerMinute, Burst: cfg.RateBurst}).
		WithTelemetry(telemetry).
		WithHealthCheck("archive", a.archive.Ping).
		WithLogger(logger)
	return a, nil
}

// fail releases whatever was opened before err and returns it.
func (a *app) fail(ctx context.Context, err error) error {
	return errors.Join(err, a.close(ctx))
}

// runBackground archives the log and sweeps elapsed TTLs until ctx is done.
func (a *app) runBackground(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.follower.Run(ctx, a.cfg.ArchiveSyncInterval)
	}()
	go a.sweepExpired(ctx, expirySweepInterval)
	return done
}

const expirySweepInterval = 30 * time.Second

func (a *app) sweepExpired(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			expired, err := a.memories.ExpireDue(ctx, now)
			if err != nil {
				a.logger.Error("ttl sweep failed", "error", err)
			}
			if len(expired) > 0 {
				a.logger.Info("memories expired", "count", len(expired))
			}
		}
	}
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if rs, ok := a.limiter.(*limiter.RedisStore); ok {
		errs = append(errs, rs.Close())
	}
	if a.archive != nil {
		errs = append(errs, a.archive.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
