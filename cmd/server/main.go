package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	batchapp "github.com/erp/sync-engine/internal/application/batch"
	conflictapp "github.com/erp/sync-engine/internal/application/conflict"
	"github.com/erp/sync-engine/internal/application/monitoring"
	recoveryapp "github.com/erp/sync-engine/internal/application/recovery"
	syncapp "github.com/erp/sync-engine/internal/application/sync"
	webhookapp "github.com/erp/sync-engine/internal/application/webhook"
	"github.com/erp/sync-engine/internal/domain/batch"
	domainsync "github.com/erp/sync-engine/internal/domain/sync"
	"github.com/erp/sync-engine/internal/domain/webhook"
	"github.com/erp/sync-engine/internal/infrastructure/cache"
	"github.com/erp/sync-engine/internal/infrastructure/config"
	"github.com/erp/sync-engine/internal/infrastructure/event"
	"github.com/erp/sync-engine/internal/infrastructure/logger"
	"github.com/erp/sync-engine/internal/infrastructure/persistence"
	"github.com/erp/sync-engine/internal/infrastructure/platform"
	"github.com/erp/sync-engine/internal/infrastructure/telemetry"
	"github.com/erp/sync-engine/internal/interfaces/http/handler"
	"github.com/erp/sync-engine/internal/interfaces/http/middleware"
	"github.com/erp/sync-engine/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting sync engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Initialize database connection with a zap-backed GORM logger
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Redis backs webhook rate limiting and fast-path dedup. When it is
	// unreachable the in-memory fallbacks keep a single instance working.
	var (
		rateLimiter webhook.RateLimiter
		dedupStore  webhook.DedupStore
	)
	redisClient, err := cache.NewRedisClient(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Warn("Redis unavailable, using in-memory rate limiting and dedup", zap.Error(err))
		rateLimiter = cache.NewInMemoryRateLimiter(cfg.Webhook.RateLimitMax, cfg.Webhook.RateLimitWindow)
		dedupStore = cache.NewInMemoryDedupStore()
	} else {
		defer func() { _ = redisClient.Close() }()
		rateLimiter = cache.NewRedisRateLimiter(redisClient, cfg.Webhook.RateLimitMax, cfg.Webhook.RateLimitWindow)
		dedupStore = cache.NewRedisDedupStore(redisClient)
	}

	// Telemetry
	ctx := context.Background()
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if err := meterProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down telemetry", zap.Error(err))
		}
	}()

	var syncMetrics *telemetry.SyncMetrics
	if meterProvider.IsEnabled() {
		syncMetrics, err = telemetry.NewSyncMetrics(meterProvider.Meter("sync-engine"), log)
		if err != nil {
			log.Fatal("Failed to initialize metrics", zap.Error(err))
		}
	}

	// Repositories
	mappingRepo := persistence.NewGormEntityMappingRepository(db.DB)
	conflictRepo := persistence.NewGormConflictRepository(db.DB)
	sessionRepo := persistence.NewGormSessionRepository(db.DB)
	errorRecordRepo := persistence.NewGormErrorRecordRepository(db.DB)
	attemptLogRepo := persistence.NewGormAttemptLogRepository(db.DB)
	breakerRepo := persistence.NewGormCircuitBreakerRepository(db.DB)
	webhookEventRepo := persistence.NewGormWebhookEventRepository(db.DB)
	jobRepo := persistence.NewGormBatchJobRepository(db.DB)
	itemRepo := persistence.NewGormBatchItemRepository(db.DB)
	progressRepo := persistence.NewGormProgressLogRepository(db.DB)
	localStore := persistence.NewGormLocalStore(db.DB)
	sessionLock := persistence.NewPgAdvisoryLock(db.DB)

	// Event bus
	eventBus := event.NewInMemoryEventBus(log)
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	// Platform client
	platformClient := platform.NewClient(platform.Config{
		BaseURL:        cfg.Platform.BaseURL,
		ConsumerKey:    cfg.Platform.ConsumerKey,
		ConsumerSecret: cfg.Platform.ConsumerSecret,
		RequestTimeout: cfg.Platform.RequestTimeout,
		MaxRetries:     cfg.Platform.MaxRetries,
		RetryBaseDelay: cfg.Platform.RetryBaseDelay,
	}, log)

	// Application services
	schemas := domainsync.DefaultSchemaRegistry()

	breakerSvc := recoveryapp.NewBreakerService(breakerRepo, recoveryapp.BreakerConfig{
		FailureThreshold: cfg.Recovery.FailureThreshold,
		Cooldown:         cfg.Recovery.BreakerCooldown,
	}, log)
	breakerSvc.SetEventPublisher(eventBus)

	recoveryMgr := recoveryapp.NewManager(errorRecordRepo, attemptLogRepo, recoveryapp.ManagerConfig{
		MaxAttempts: cfg.Recovery.MaxAttempts,
		BaseDelay:   cfg.Recovery.BaseDelay,
	}, log)
	recoveryMgr.SetEventPublisher(eventBus)
	recoveryMgr.SetMetrics(syncMetrics)

	detector := conflictapp.NewDetector(schemas)
	resolver := conflictapp.NewResolver(conflictRepo, log)
	resolver.SetEventPublisher(eventBus)

	conflictSvc := conflictapp.NewService(conflictRepo, mappingRepo, localStore, platformClient, schemas, log)
	conflictSvc.SetEventPublisher(eventBus)

	engine := syncapp.NewEngine(sessionRepo, sessionLock, mappingRepo, localStore,
		platformClient, schemas, detector, resolver, breakerSvc, log)
	engine.SetEventPublisher(eventBus)
	engine.SetRecoveryManager(recoveryMgr)
	engine.SetLockScope(cfg.Sync.LockScope)

	registerRetryHandlers(recoveryMgr, engine)

	webhookSvc := webhookapp.NewService(webhookEventRepo, rateLimiter, dedupStore, engine, webhookapp.Config{
		Secret:           cfg.Webhook.Secret,
		RetryBaseBackoff: cfg.Webhook.RetryBaseBackoff,
		DrainInterval:    cfg.Webhook.DrainInterval,
		DrainBatchSize:   cfg.Webhook.DrainBatchSize,
	}, log)
	webhookSvc.SetMetrics(syncMetrics)
	webhookSvc.Start()
	defer webhookSvc.Stop()

	scheduler := batchapp.NewScheduler(jobRepo, itemRepo, progressRepo, batchapp.Config{
		SweepSchedule:   cfg.Batch.SweepSchedule,
		RetryDelay:      cfg.Batch.RetryDelay,
		RetryBatchLimit: cfg.Batch.RetryBatchLimit,
	}, log)
	scheduler.SetEventPublisher(eventBus)
	scheduler.RegisterHandler(batch.JobTypeFullSync, batchapp.NewFullSyncHandler(engine))
	scheduler.RegisterHandler(batch.JobTypeWebhookReplay, batchapp.NewWebhookReplayHandler(webhookSvc))
	scheduler.RegisterHandler(batch.JobTypeCleanup, batchapp.NewCleanupHandler(jobRepo, progressRepo, webhookSvc, batchapp.CleanupConfig{
		JobRetention:      cfg.Batch.CleanupRetention,
		EventRetention:    cfg.Batch.CleanupRetention,
		ProgressRetention: cfg.Batch.ProgressRetention,
	}))
	if err := scheduler.Start(); err != nil {
		log.Fatal("Failed to start batch scheduler", zap.Error(err))
	}
	defer scheduler.Stop()

	monitor := monitoring.NewMonitor(conflictRepo, breakerRepo, syncMetrics, monitoring.Config{}, log)
	eventBus.Subscribe(monitor)
	monitor.Start()
	defer monitor.Stop()

	// Recovery drain loop
	recoveryStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-recoveryStop:
				return
			case <-ticker.C:
				if _, err := recoveryMgr.ProcessDue(context.Background(), 50); err != nil {
					log.Warn("recovery drain pass failed", zap.Error(err))
				}
			}
		}
	}()
	defer close(recoveryStop)

	// HTTP server
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	ginEngine := gin.New()
	ginEngine.Use(
		middleware.Recovery(log),
		middleware.RequestID(log),
		middleware.RequestLogger(log),
	)

	router.NewRouter(ginEngine).
		Register(handler.NewHealthHandler(db)).
		Register(handler.NewSyncHandler(engine, sessionRepo)).
		Register(handler.NewConflictHandler(conflictSvc)).
		Register(handler.NewWebhookHandler(webhookSvc)).
		Register(handler.NewBatchHandler(scheduler)).
		Register(handler.NewRecoveryHandler(recoveryMgr, breakerSvc)).
		Setup()

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           ginEngine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := eventBus.Stop(shutdownCtx); err != nil {
		log.Error("Event bus shutdown failed", zap.Error(err))
	}
}

// registerRetryHandlers wires recovery retries back into the engine. Pull
// failures are keyed by remote ID, push failures by local ID; page-level
// failures are repaired by the next full sweep rather than replayed.
func registerRetryHandlers(mgr *recoveryapp.Manager, engine *syncapp.Engine) {
	for _, entityType := range domainsync.AllEntityTypes() {
		t := entityType
		mgr.RegisterHandler("sync.pull."+t.String(), func(ctx context.Context, operationID string) error {
			remoteID, err := strconv.ParseInt(operationID, 10, 64)
			if err != nil {
				// Page-scoped failures carry no record identity
				return nil
			}
			_, err = engine.FetchAndReconcile(ctx, t, remoteID)
			return err
		})
		mgr.RegisterHandler("sync.push."+t.String(), func(ctx context.Context, operationID string) error {
			localID, err := uuid.Parse(operationID)
			if err != nil {
				return err
			}
			return engine.PushLocal(ctx, t, localID)
		})
		// Push validation failures get one schema-driven repair before retry
		mgr.RegisterCoercer("sync.push."+t.String(), func(ctx context.Context, operationID string) error {
			localID, err := uuid.Parse(operationID)
			if err != nil {
				return err
			}
			return engine.CoerceAndPush(ctx, t, localID)
		})
	}
}
