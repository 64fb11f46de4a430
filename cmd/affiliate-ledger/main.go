package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/radiusdt/affiliate-ledger/internal/affiliate"
	"github.com/radiusdt/affiliate-ledger/internal/archive"
	"github.com/radiusdt/affiliate-ledger/internal/config"
	"github.com/radiusdt/affiliate-ledger/internal/database"
	"github.com/radiusdt/affiliate-ledger/internal/httpserver"
	"github.com/radiusdt/affiliate-ledger/internal/metrics"
	"github.com/radiusdt/affiliate-ledger/internal/middleware"
	"github.com/radiusdt/affiliate-ledger/internal/storage"
	"github.com/radiusdt/affiliate-ledger/internal/targeting"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting affiliate ledger",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
		zap.String("storage", cfg.Storage.Backend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics(cfg.Metrics.Namespace)
	}

	checks := map[string]httpserver.HealthCheck{}

	// Storage
	var backend storage.Backend
	switch cfg.Storage.Backend {
	case "postgres":
		db, err := database.NewPostgresDB(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
		}
		defer db.Close()

		pg := storage.NewPostgresStore(db.Pool, logger)
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate document store", zap.Error(err))
		}
		backend = pg
		checks["postgres"] = db.Health
	default:
		fs, err := storage.OpenFileStore(cfg.Storage.FilePath)
		if err != nil {
			logger.Fatal("failed to open file store", zap.Error(err))
		}
		backend = fs
	}
	store := storage.NewStore(backend, logger)
	if m != nil {
		store.WithObserver(m.RecordStoreOp)
	}
	defer store.Close()

	// Optional collaborators degrade to no-ops when unavailable.
	var statsCache affiliate.StatsCache
	if cfg.Redis.Enabled {
		redis, err := database.NewRedisDB(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis not available, stats cache disabled", zap.Error(err))
		} else {
			defer redis.Close()
			statsCache = affiliate.NewRedisStatsCache(redis.Client, cfg.Redis.StatsTTL)
			checks["redis"] = redis.Health
		}
	}

	var locator *targeting.Locator
	if cfg.Geo.Enabled {
		provider, err := targeting.NewMaxMindGeoProvider(cfg.Geo.DatabasePath)
		if err != nil {
			logger.Warn("failed to open GeoIP database, clicks will not carry a country", zap.Error(err))
		} else {
			locator = targeting.NewLocator(provider, cfg.Geo.CacheSize, cfg.Geo.CacheTTL, m)
			defer locator.Close()
		}
	}

	var sink archive.Sink = archive.NoopSink{}
	if cfg.Archive.Enabled {
		ch, err := archive.NewClickHouseSink(ctx, cfg.Archive, logger, m)
		if err != nil {
			logger.Warn("ClickHouse archive not available", zap.Error(err))
		} else {
			sink = ch
		}
	}

	svc := affiliate.NewServices(affiliate.Deps{
		Store:      store,
		Logger:     logger,
		Metrics:    m,
		Locator:    locator,
		Archive:    sink,
		StatsCache: statsCache,
		Config:     cfg,
	})

	if cfg.Commission.RulesFile != "" {
		if _, err := svc.Rules.SeedRules(ctx, cfg.Commission.RulesFile); err != nil {
			logger.Fatal("failed to seed commission rules", zap.Error(err))
		}
	}

	handler := httpserver.NewServer(&httpserver.Dependencies{
		Services: svc,
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
		Checks:   checks,
	})

	// Recovery -> Logging -> RateLimit -> Auth -> Handler
	recoveryMW := middleware.NewRecoveryMiddleware(logger)
	loggingMW := middleware.NewLoggingMiddleware(logger)
	rateLimitMW := middleware.NewRateLimitMiddleware(cfg.RateLimit, logger)
	rateLimitMW.SetMetrics(m)
	authMW := middleware.NewAuthMiddleware(cfg.Auth, logger)

	finalHandler := recoveryMW.Handler(
		loggingMW.Handler(
			rateLimitMW.Handler(
				authMW.Handler(handler),
			),
		),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           finalHandler,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("HTTP server starting", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rateLimitMW.CleanupIPLimiters()
			case <-ctx.Done():
				return
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// In-flight counter updates finish before the archive drains and the
	// store closes.
	if err := svc.Close(); err != nil {
		logger.Error("failed to stop services", zap.Error(err))
	}
	if err := sink.Close(); err != nil {
		logger.Error("failed to flush archive", zap.Error(err))
	}
	cancel()

	logger.Info("server stopped")
}
