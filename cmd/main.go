package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"doc-ingest-platform/internal/ai"
	"doc-ingest-platform/internal/config"
	"doc-ingest-platform/internal/events"
	"doc-ingest-platform/internal/ingest"
	"doc-ingest-platform/internal/logger"
	"doc-ingest-platform/internal/pipeline"
	"doc-ingest-platform/internal/queue"
	"doc-ingest-platform/internal/search"
	"doc-ingest-platform/internal/store"
	foldersync "doc-ingest-platform/internal/sync"
	"doc-ingest-platform/internal/telemetry"
	"doc-ingest-platform/middleware"
	"doc-ingest-platform/routes"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Backing stores.
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()
	db := mongoClient.Database(cfg.DBName)

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	// Telemetry is opt-in; the service runs fine without a collector.
	var metrics *telemetry.Metrics
	if cfg.TracingEnabled {
		shutdownTracer, err := telemetry.InitTracer("doc-ingest-platform", cfg.OTLPEndpoint)
		if err != nil {
			log.Fatal("Failed to init tracer:", err)
		}
		defer shutdownTracer()

		metrics, err = telemetry.InitMetrics()
		if err != nil {
			log.Fatal("Failed to init metrics:", err)
		}
	}

	// Repositories.
	documents := store.NewDocumentRepo(db)
	chunks := store.NewChunkRepo(db)
	profiles := store.NewProfileRepo(db)
	bindings := store.NewBindingRepo(db)

	seedCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	if err := profiles.SeedDefault(seedCtx, cfg.EmbeddingModel, cfg.EmbeddingDim, cfg.QualityMinChars); err != nil {
		cancel()
		log.Fatal("Failed to seed default profile:", err)
	}
	cancel()

	bus := events.NewBus()
	defer bus.Close()
	go logEvents(bus.Subscribe("event-log"))

	machine := pipeline.NewStateMachine(documents, chunks, bus)

	embedder, err := ai.NewGeminiEmbedder(rootCtx, cfg.GeminiAPIKey,
		cfg.EmbeddingModel, cfg.EmbeddingDim, cfg.EmbedRPM)
	if err != nil {
		log.Fatal("Failed to init embedder:", err)
	}
	defer embedder.Close()

	// Processing lanes.
	fast := pipeline.NewFastLaneProcessor(machine, documents, chunks, embedder)
	fast.SetNoiseThresholds(cfg.QualityNoiseWarn, cfg.QualityNoiseReject)

	connOpt, err := queue.RedisConnOpt(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal("Invalid Redis URL for queue:", err)
	}
	asynqClient := asynq.NewClient(connOpt)
	defer asynqClient.Close()

	enqueuer := queue.NewEnqueuer(asynqClient, rdb, profiles,
		cfg.RetryMaxAttempts, cfg.RetryBaseDelay, cfg.JobTimeout)

	intake := ingest.NewIntake(documents, profiles, fast, enqueuer, bus,
		cfg.UploadDir, int64(cfg.MaxFileSizeMB)*1024*1024)

	reconciler := pipeline.NewCallbackReconciler(machine, documents, chunks,
		embedder, profiles, enqueuer)
	reconciler.SetNoiseThresholds(cfg.QualityNoiseWarn, cfg.QualityNoiseReject)

	// Retrieval.
	dense, sparse := search.NewRetrievers(db, cfg.VectorProvider)
	searcher := search.NewSearcher(embedder, dense, sparse, cfg.RRFK)

	// Remote folder sync, enabled only when Drive credentials are configured.
	var (
		synchronizer *foldersync.Synchronizer
		scheduler    *foldersync.Scheduler
	)
	if cfg.DriveCredentialsFile != "" {
		driveStore, err := foldersync.NewDriveStore(rootCtx, cfg.DriveCredentialsFile)
		if err != nil {
			log.Fatal("Failed to init Drive client:", err)
		}
		synchronizer = foldersync.NewSynchronizer(bindings, documents, driveStore, intake, machine, bus)
		scheduler = foldersync.NewScheduler(synchronizer, bindings, cfg.JobTimeout)
		if err := scheduler.Start(rootCtx); err != nil {
			log.Fatal("Failed to start sync scheduler:", err)
		}
		defer scheduler.Stop()
	} else {
		logger.Info("remote folder sync disabled, DRIVE_CREDENTIALS_FILE not set")
	}

	// HTTP surface.
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddlewareWithOrigins(cfg.CORSOrigins))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.APIKeyMiddleware(cfg.APIKey))
	router.Use(middleware.RateLimitMiddleware(rdb, cfg))
	if cfg.TracingEnabled {
		router.Use(middleware.TracingMiddleware())
		router.Use(middleware.EnrichTrace())
		router.Use(middleware.MetricsMiddleware(metrics))
	}

	routes.SetupHealthRoutes(router, routes.HealthDeps{Mongo: mongoClient, Redis: rdb})
	routes.SetupDocumentRoutes(router, routes.DocumentDeps{
		Intake:    intake,
		Documents: documents,
		Chunks:    chunks,
		Machine:   machine,
	})
	routes.SetupQueryRoutes(router, searcher, metrics)
	routes.SetupCallbackRoutes(router, reconciler)
	routes.SetupProfileRoutes(router, profiles)
	if synchronizer != nil {
		routes.SetupSyncRoutes(router, routes.SyncDeps{
			Bindings:     bindings,
			Synchronizer: synchronizer,
			Scheduler:    scheduler,
			RunTimeout:   cfg.JobTimeout,
		})
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "vector_provider", cfg.VectorProvider)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("server exited")
}

// logEvents drains the bus so pipeline and sync events land in the log even
// when nothing else subscribes.
func logEvents(ch <-chan events.Event) {
	for evt := range ch {
		switch evt.Type {
		case events.SyncError:
			logger.Warn("event", "type", evt.Type, "payload", evt.Payload)
		default:
			logger.Info("event", "type", evt.Type, "payload", evt.Payload)
		}
	}
}
