package main

import (
	"context"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"doc-ingest-platform/internal/config"
	"doc-ingest-platform/internal/converter"
	"doc-ingest-platform/internal/events"
	"doc-ingest-platform/internal/logger"
	"doc-ingest-platform/internal/pipeline"
	"doc-ingest-platform/internal/queue"
	"doc-ingest-platform/internal/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

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

	documents := store.NewDocumentRepo(db)
	chunks := store.NewChunkRepo(db)

	bus := events.NewBus()
	defer bus.Close()

	machine := pipeline.NewStateMachine(documents, chunks, bus)

	// The worker only dispatches to the converter; completion arrives at the
	// API server through the callback endpoint.
	dispatcher := converter.NewClient(cfg.ConverterURL,
		cfg.CallbackBaseURL+"/internal/callback", cfg.ConverterTimeout)

	processor := queue.NewTaskProcessor(machine, documents, dispatcher, rdb, cfg.JobTimeout)

	connOpt, err := queue.RedisConnOpt(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal("Invalid Redis URL for queue:", err)
	}

	server := asynq.NewServer(connOpt, asynq.Config{
		Concurrency: cfg.MaxConcurrentJobs,
		Queues: map[string]int{
			queue.QueueIngest: 1,
		},
		RetryDelayFunc: queue.RetryDelay(cfg.RetryBaseDelay),
		ErrorHandler:   queue.NewErrorHandler(machine),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskConvertDocument, processor.HandleConvert)

	logger.Info("worker starting",
		"concurrency", cfg.MaxConcurrentJobs,
		"queue", queue.QueueIngest,
		"converter_url", cfg.ConverterURL)

	// Run blocks until SIGINT/SIGTERM, then drains in-flight tasks.
	if err := server.Run(mux); err != nil {
		log.Fatal("Worker stopped with error:", err)
	}
}
