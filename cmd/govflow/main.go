// Package main is the entry point for the GovFlow API server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/govflow/govflow/internal/access"
	"github.com/govflow/govflow/internal/auth"
	"github.com/govflow/govflow/internal/catalog"
	"github.com/govflow/govflow/internal/config"
	"github.com/govflow/govflow/internal/document"
	"github.com/govflow/govflow/internal/observability"
	"github.com/govflow/govflow/internal/seed"
	"github.com/govflow/govflow/internal/store"
	"github.com/govflow/govflow/internal/transport"
	"github.com/govflow/govflow/internal/workflow"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "", "path to configuration file (defaults only when empty)")
	seedDir := flag.String("seed", "", "override the seed data directory")
	flag.Parse()

	// Step 2: Load configuration. Load also applies .env.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}
	if *seedDir != "" {
		cfg.Seed.Directory = *seedDir
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "govflow", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	var metrics *observability.Metrics
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.InitMetrics(prometheus.DefaultRegisterer)
	}

	// Step 4: Open entity storage.
	stores, err := buildStores(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}
	defer stores.Close()

	// Step 5: Load seed data.
	var seeded atomic.Pointer[observability.SeedState]
	var seedOpts []seed.Option
	if metrics != nil {
		seedOpts = append(seedOpts, seed.WithObserver(metrics))
	}
	results, err := seed.NewLoader(stores, cfg.Auth.BcryptCost, logger, seedOpts...).LoadDir(ctx, cfg.Seed.Directory)
	if err != nil {
		logger.Error("seed loading failed", zap.Error(err))
		return 1
	}
	checksums := make([]string, len(results))
	loaded := 0
	for i, r := range results {
		checksums[i] = r.Checksum
		loaded += r.Loaded
	}
	state := observability.NewSeedState(checksums, loaded)
	seeded.Store(&state)

	// Step 6: Access policy.
	policy, err := access.NewPolicy(cfg.Policy.File)
	if err != nil {
		logger.Error("access policy load failed", zap.Error(err))
		return 1
	}

	// Step 7: Authentication.
	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		logger.Error("token issuer initialization failed", zap.Error(err))
		return 1
	}
	resets, sweeper, resetCloser, err := buildResetTokenStore(cfg.ResetTokens, logger)
	if err != nil {
		logger.Error("reset token store initialization failed", zap.Error(err))
		return 1
	}
	authOpts := []auth.Option{auth.WithNotifier(auth.LogNotifier{Logger: logger})}
	if metrics != nil {
		authOpts = append(authOpts, auth.WithObserver(metrics))
	}
	authSvc := auth.NewService(stores.Users, tokens, resets, cfg.Auth, logger, authOpts...)

	// Step 8: Domain services.
	docs, err := document.NewFSStore(cfg.Documents.Directory, cfg.Documents.MaxBytes)
	if err != nil {
		logger.Error("document store initialization failed", zap.Error(err))
		return 1
	}
	defs := workflow.NewDefinitions(stores)
	engineOpts := []workflow.EngineOption{workflow.WithMaxDocumentBytes(docs.MaxBytes())}
	if metrics != nil {
		engineOpts = append(engineOpts, workflow.WithObserver(metrics))
	}
	engine := workflow.NewEngine(stores, defs, logger, engineOpts...)

	// Step 9: Build HTTP router.
	readiness := observability.ReadinessChecks{
		Seed: func() observability.SeedState {
			if s := seeded.Load(); s != nil {
				return *s
			}
			return observability.SeedState{}
		},
		Store:       stores,
		ResetTokens: resets,
		Documents:   docs,
	}
	router := transport.NewRouter(transport.Dependencies{
		Config:      cfg,
		Logger:      logger,
		Auth:        authSvc,
		Policy:      policy,
		Catalog:     catalog.New(stores),
		Definitions: defs,
		Engine:      engine,
		Documents:   docs,
		Metrics:     metrics,
		Readiness:   readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 10: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	if sweeper != nil {
		go runResetTokenSweeper(bgCtx, sweeper, cfg.ResetTokens.SweepInterval, logger)
	}

	// Step 11: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store", cfg.Store.Driver),
		zap.Int("seed_records", loaded),
		zap.String("seed_digest", state.Digest),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()
	if resetCloser != nil {
		resetCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildStores opens the configured entity store. The postgres driver creates
// its schema on first use.
func buildStores(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*store.Stores, error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory store")
		return store.NewMemoryStores(), nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("store: ping: %w", err)
		}
		if err := store.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("using postgres store")
		return store.NewPgStores(pool), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildResetTokenStore creates the reset token store. The memory store is
// returned as the sweeper too, since only it needs expired entries removed.
func buildResetTokenStore(cfg config.ResetTokenConfig, logger *zap.Logger) (auth.ResetTokenStore, *auth.MemoryResetTokenStore, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory reset token store")
		s := auth.NewMemoryResetTokenStore()
		return s, s, nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, nil, fmt.Errorf("reset tokens: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		logger.Info("using redis reset token store", zap.String("addr", addr))
		return auth.NewRedisResetTokenStore(client), nil, func() { _ = client.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported reset token driver: %q", cfg.Driver)
	}
}

// runResetTokenSweeper periodically drops expired reset tokens.
func runResetTokenSweeper(ctx context.Context, s *auth.MemoryResetTokenStore, interval time.Duration, logger *zap.Logger) {
	if interval == 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				logger.Debug("expired reset tokens removed", zap.Int("count", n))
			}
		}
	}
}
