package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"audience-sync/internal/audience"
	"audience-sync/internal/cache"
	"audience-sync/internal/config"
	"audience-sync/internal/httpserver"
	"audience-sync/internal/insights"
	"audience-sync/internal/logging"
	"audience-sync/internal/meta"
	"audience-sync/internal/metrics"
	"audience-sync/internal/phone"
	"audience-sync/internal/pipeline"
	"audience-sync/internal/repo"
	"audience-sync/internal/scheduler"
	"audience-sync/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting audience-sync", "env", cfg.AppEnv, "kv_backend", cfg.Store.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	kv, err := openBackend(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer kv.close()

	if !cfg.MetaConfigured() {
		logger.Warn("META_ACCESS_TOKEN or META_AD_ACCOUNT_ID missing; pipeline routes will answer 500")
	}

	metaClient := meta.New(meta.Config{
		BaseURL:     cfg.Meta.BaseURL,
		APIVersion:  cfg.Meta.APIVersion,
		AccessToken: cfg.Meta.AccessToken,
		AdAccountID: cfg.Meta.AdAccountID,
		Timeout:     cfg.Meta.Timeout,
	}, logger, metricRegistry)

	resources := cache.NewResources(kv.store, logger, metricRegistry)
	orchestrator := pipeline.New(pipeline.Config{
		Account:             cfg.Meta.AdAccountID,
		AudienceName:        cfg.Audience.Name,
		AudienceDescription: cfg.Audience.Description,
		LookalikeName:       cfg.Lookalike.Name,
		LookalikeCountry:    cfg.Lookalike.Country,
		LookalikeRatio:      cfg.Lookalike.Ratio,
		InsightsLevel:       cfg.Insights.Level,
		InsightsFields:      cfg.Insights.Fields,
		InsightsDatePreset:  cfg.Insights.DatePreset,
		MetricsTTL:          cfg.Insights.MetricsTTL,
		HashWorkers:         cfg.Upload.HashWorkers,
		LockTTL:             cfg.Schedule.RunLockTTL,
	}, pipeline.Deps{
		Remote:   metaClient,
		Resolver: audience.NewResolver(metaClient, resources, logger),
		Uploader: audience.NewUploader(metaClient, audience.UploaderConfig{
			BatchSize:  cfg.Upload.BatchSize,
			MaxRetries: cfg.Upload.MaxRetries,
			Pacing:     audience.IntervalPacing(cfg.Upload.Pacing),
		}, logger, metricRegistry),
		Deriver:   audience.NewDeriver(metaClient, resources, logger),
		Collector: insights.NewCollector(metaClient, logger),
		Cache:     resources,
		Locker:    kv.locker,
	}, logger, metricRegistry)

	var phoneSource func() ([]string, error)
	if path := cfg.Audience.PhonesFile; path != "" {
		phoneSource = func() ([]string, error) { return phone.LoadFile(path) }
	}

	if kv.purge != nil && cfg.Store.PurgeInterval > 0 {
		go purgeLoop(ctx, kv.purge, cfg.Store.PurgeInterval, logger)
	}

	switch {
	case !cfg.Schedule.Enabled:
		logger.Info("scheduler disabled")
	case !cfg.MetaConfigured():
		logger.Warn("scheduler not started: Meta API credentials are not configured")
	default:
		if phoneSource == nil {
			logger.Warn("PHONES_FILE is not configured; only metrics collection is scheduled")
		}
		sched := scheduler.New(scheduler.Config{
			SyncInterval:    cfg.Schedule.SyncInterval,
			MetricsInterval: cfg.Schedule.MetricsInterval,
		}, orchestrator, phoneSource, logger)
		stopScheduler := sched.Start(ctx)
		defer stopScheduler()
	}

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Dependencies{
		Pipeline:       orchestrator,
		Phones:         phoneSource,
		MetaConfigured: cfg.MetaConfigured(),
	}, cfg.PublicBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type backend struct {
	store  cache.Store
	locker cache.Locker
	purge  purger
	close  func()
}

func openBackend(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (backend, error) {
	switch cfg.Backend {
	case "postgres":
		store, err := repo.NewPostgres(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
		if err != nil {
			return backend{}, fmt.Errorf("init postgres store: %w", err)
		}
		if err := store.RunMigrations(ctx, migrations.Files); err != nil {
			store.Close()
			return backend{}, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrated", "backend", "postgres")
		return backend{store: store, locker: cache.NewLocalLocker(), purge: store, close: store.Close}, nil

	case "sqlite":
		store, err := repo.NewSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return backend{}, fmt.Errorf("init sqlite store: %w", err)
		}
		if err := store.RunMigrations(ctx, migrations.Files); err != nil {
			store.Close()
			return backend{}, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrated", "backend", "sqlite", "path", cfg.SQLitePath)
		return backend{store: store, locker: cache.NewLocalLocker(), purge: store, close: store.Close}, nil

	case "memory":
		logger.Warn("using in-memory kv store; cached audience ids are lost on restart")
		return backend{store: cache.NewMemory(), locker: cache.NewLocalLocker(), close: func() {}}, nil

	default:
		redisClient := cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
		return backend{
			store:  redisClient,
			locker: cache.NewRedisLocker(redisClient.Client()),
			close: func() {
				if err := redisClient.Close(); err != nil {
					logger.Warn("failed closing redis", "error", err)
				}
			},
		}, nil
	}
}

func purgeLoop(ctx context.Context, p purger, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("purging expired kv entries failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("purged expired kv entries", "count", n)
			}
		}
	}
}
