package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appintegration "github.com/erp/syncengine/internal/application/integration"
	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/auth"
	"github.com/erp/syncengine/internal/infrastructure/cache"
	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/erp/syncengine/internal/infrastructure/migration"
	"github.com/erp/syncengine/internal/infrastructure/persistence"
	"github.com/erp/syncengine/internal/infrastructure/platform"
	"github.com/erp/syncengine/internal/infrastructure/resilience"
	"github.com/erp/syncengine/internal/infrastructure/scheduler"
	"github.com/erp/syncengine/internal/infrastructure/telemetry"
	"github.com/erp/syncengine/internal/interfaces/http/handler"
	"github.com/erp/syncengine/internal/interfaces/http/middleware"
	"github.com/erp/syncengine/internal/interfaces/http/router"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}, cfg.App.Name)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting sync engine",
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	if cfg.Database.AutoMigrate {
		if err := applyMigrations(cfg.Database.DSN(), log); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected")

	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: 200 * time.Millisecond,
		DBSystem:        "postgresql",
	}, log); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = cache.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer func() { _ = redisClient.Close() }()
		log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	}
	stores := cache.NewStoreFactory(redisClient,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	)
	idempotency, err := stores.IdempotencyStore()
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}

	metrics := telemetry.NewSyncMetrics()
	if sqlDB, err := db.SQL(); err == nil {
		metrics.Registry().MustRegister(collectors.NewDBStatsCollector(sqlDB, cfg.Database.DBName))
	}

	platforms, err := platform.NewRegistryFromConfig(cfg.Connectors, log)
	if err != nil {
		log.Fatal("Failed to load connectors", zap.Error(err))
	}
	breakers, defaults := newResilienceRegistry(cfg, redisClient, metrics)
	for _, c := range cfg.Connectors {
		breakers.Configure(c.ID, platform.ConnectorPolicy(c, defaults))
	}
	log.Info("Connectors loaded", zap.Int("count", len(cfg.Connectors)))

	queueRepo := persistence.NewGormSyncQueueRepository(db.DB)
	itemRepo := persistence.NewGormSyncQueueItemRepository(db.DB)
	mappingRepo := persistence.NewGormIntegrationMappingRepository(db.DB)
	activityRepo := persistence.NewGormActivityLogRepository(db.DB)
	previewRepo := persistence.NewGormPreviewRepository(db.DB)

	syncDefaults := integration.SyncConfig{
		BatchSize:         cfg.Sync.BatchSize,
		BatchDelay:        cfg.Sync.BatchDelay,
		MaxRetries:        cfg.Sync.MaxRetries,
		InitialBackoff:    cfg.Sync.InitialBackoff,
		BackoffMultiplier: cfg.Sync.BackoffMultiplier,
		MaxBackoff:        cfg.Sync.MaxBackoff,
	}

	// the worker is created after the service it drives; enqueues before
	// that only wait for the next poll
	var worker *scheduler.SyncWorker
	syncService := appintegration.NewSyncService(appintegration.SyncServiceDeps{
		Queues:     queueRepo,
		Items:      itemRepo,
		Upserter:   mappingRepo,
		Activity:   activityRepo,
		Platforms:  platforms,
		Resilience: breakers,
	},
		appintegration.WithSyncDefaults(syncDefaults),
		appintegration.WithIdempotencyStore(idempotency, cfg.Sync.IdempotencyTTL),
		appintegration.WithObserver(metrics),
		appintegration.WithEnqueueNotifier(func(queueID uuid.UUID) {
			if worker != nil {
				worker.NotifyEnqueued(queueID)
			}
		}),
		appintegration.WithLogger(log),
	)
	previewService := appintegration.NewPreviewService(appintegration.PreviewServiceDeps{
		Mappings:   mappingRepo,
		Previews:   previewRepo,
		Cache:      stores.PreviewCache(),
		Platforms:  platforms,
		Resilience: breakers,
	},
		appintegration.WithPreviewTTL(cfg.Preview.TTL),
		appintegration.WithPreviewPageSize(cfg.Preview.PageSize),
		appintegration.WithPreviewComputeTimeout(cfg.Preview.ComputeTimeout),
		appintegration.WithPreviewRetry(syncDefaults),
		appintegration.WithPreviewObserver(metrics),
		appintegration.WithPreviewLogger(log),
	)
	bulkService := appintegration.NewBulkService(syncService, previewService,
		appintegration.WithBulkConcurrency(cfg.Sync.BulkConcurrency),
		appintegration.WithBulkLogger(log),
	)
	dispatcher := appintegration.NewDispatcher(syncService, previewService, bulkService, log)

	if cfg.Worker.Enabled {
		worker, err = scheduler.NewSyncWorker(scheduler.WorkerConfig{
			WorkerID:            cfg.Worker.WorkerID,
			PollInterval:        cfg.Worker.PollInterval,
			LeaseTTL:            cfg.Worker.LeaseTTL,
			MaxConcurrentQueues: cfg.Worker.MaxConcurrentQueues,
		}, queueRepo, itemRepo, syncService, log)
		if err != nil {
			log.Fatal("Failed to create sync worker", zap.Error(err))
		}
		if err := worker.Start(ctx); err != nil {
			log.Fatal("Failed to start sync worker", zap.Error(err))
		}
	} else {
		log.Warn("Sync worker disabled; queues are only created, never processed by this instance")
	}

	var cronTrigger *scheduler.CronTrigger
	if cfg.Scheduler.Enabled {
		entries := make(map[integration.EntityType]string, len(cfg.Scheduler.Entries))
		for et, spec := range cfg.Scheduler.Entries {
			entries[integration.EntityType(et)] = spec
		}
		cronTrigger, err = scheduler.NewCronTrigger(scheduler.CronTriggerConfig{
			Entries:    entries,
			JobTimeout: cfg.Scheduler.JobTimeout,
		}, syncService, platforms, log)
		if err != nil {
			log.Fatal("Failed to create cron trigger", zap.Error(err))
		}
		if err := cronTrigger.Start(ctx); err != nil {
			log.Fatal("Failed to start cron trigger", zap.Error(err))
		}
	}

	engine, rateLimiter, err := newEngine(cfg, log, db, redisClient, metrics, dispatcher, syncService)
	if err != nil {
		log.Fatal("Failed to build router", zap.Error(err))
	}
	if rateLimiter != nil {
		defer rateLimiter.Stop()
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-serverErr:
		log.Error("Server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if cronTrigger != nil {
		if err := cronTrigger.Stop(shutdownCtx); err != nil {
			log.Error("Cron trigger did not stop cleanly", zap.Error(err))
		}
	}
	// stopping the worker reverts in-flight items to pending and releases leases
	if worker != nil {
		if err := worker.Stop(shutdownCtx); err != nil {
			log.Error("Sync worker did not stop cleanly", zap.Error(err))
		}
	}
	if closer, ok := idempotency.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracer shutdown failed", zap.Error(err))
	}

	log.Info("Server exited")
}

// applyMigrations runs the embedded migrations on a dedicated connection;
// the migrator closes the connection it is given
func applyMigrations(dsn string, log *zap.Logger) error {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	m, err := migration.NewEmbedded(sqlDB, log)
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("Failed to close migrator", zap.Error(err))
		}
	}()
	return m.Up()
}

func newResilienceRegistry(cfg *config.Config, client *redis.Client, metrics *telemetry.SyncMetrics) (*resilience.Registry, resilience.Policy) {
	defaults := resilience.DefaultPolicy()
	defaults.MaxTokens = cfg.Resilience.MaxTokens
	defaults.RefillRate = cfg.Resilience.RefillRate
	defaults.Breaker.FailureThreshold = cfg.Resilience.FailureThreshold
	defaults.Breaker.Cooldown = cfg.Resilience.Cooldown

	opts := []resilience.RegistryOption{
		resilience.WithFailureClassifier(appintegration.IsBreakerFailure),
		resilience.WithStateObserver(metrics.BreakerStateChanged),
	}
	if client != nil {
		opts = append(opts, resilience.WithRedis(client, "sync:ratelimit:"))
	}
	backend := resilience.LimiterBackend(cfg.Resilience.LimiterBackend)
	return resilience.NewRegistry(backend, defaults, opts...), defaults
}

func newEngine(
	cfg *config.Config,
	log *zap.Logger,
	db *persistence.Database,
	redisClient *redis.Client,
	metrics *telemetry.SyncMetrics,
	dispatcher *appintegration.Dispatcher,
	queries handler.QueueQueries,
) (http.Handler, *middleware.RateLimiter, error) {
	checks := []handler.SystemOption{
		handler.WithSystemLogger(log),
		handler.WithHealthCheck("database", db.Ping),
	}
	if redisClient != nil {
		checks = append(checks, handler.WithHealthCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}

	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.HTTP.CORSAllowOrigins

	opts := router.Options{
		ServiceName:    cfg.Telemetry.ServiceName,
		TracingEnabled: cfg.Telemetry.Enabled,
		MaxBodyBytes:   cfg.HTTP.MaxBodySize,
		CORS:           cors,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		AuthOptional:   cfg.HTTP.AuthOptional,
		AllowOrgHeader: cfg.HTTP.AllowOrgHeader,
	}
	if cfg.HTTP.RateLimitEnabled {
		opts.RateLimiter = middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
	}
	if cfg.Telemetry.MetricsEnabled {
		httpMetrics, err := middleware.NewHTTPMetrics(metrics.Registry())
		if err != nil {
			return nil, opts.RateLimiter, err
		}
		opts.HTTPMetrics = httpMetrics
		opts.MetricsHandler = metrics.Handler()
		opts.MetricsPath = cfg.Telemetry.MetricsPath
	}
	if cfg.JWT.Secret != "" {
		opts.JWTService = auth.NewJWTService(cfg.JWT)
		if redisClient != nil {
			opts.Revocations = auth.NewRedisRevocationList(redisClient)
		} else {
			opts.Revocations = auth.NewInMemoryRevocationList()
		}
	}

	engine, err := router.New(opts, router.Handlers{
		System: handler.NewSystemHandler(cfg.App.Name, version, checks...),
		Sync:   handler.NewSyncHandler(dispatcher, queries),
	}, log)
	if err != nil {
		return nil, opts.RateLimiter, err
	}
	return engine, opts.RateLimiter, nil
}
