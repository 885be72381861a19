// The sync-worker binary drains calendar-change events from SQS and
// propagates each one to its sibling appointments. Deployments using the
// in-memory queue run the workers inside the API process instead.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/inkflow-ai/studio-platform/cmd/mainconfig"
	"github.com/inkflow-ai/studio-platform/internal/calendarsync"
	appconfig "github.com/inkflow-ai/studio-platform/internal/config"
	"github.com/inkflow-ai/studio-platform/internal/engine"
	"github.com/inkflow-ai/studio-platform/internal/events"
	"github.com/inkflow-ai/studio-platform/internal/highlevel"
	obsmetrics "github.com/inkflow-ai/studio-platform/internal/observability/metrics"
	"github.com/inkflow-ai/studio-platform/internal/scheduling"
	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.UseMemoryQueue {
		logger.Error("sync worker cannot run when USE_MEMORY_QUEUE=true; run inline workers via the API process instead")
		os.Exit(1)
	}

	roster, err := scheduling.ParseRoster(cfg.ArtistCalendarsJSON, cfg.InterpreterCalendarsJSON)
	if err != nil {
		logger.Error("invalid calendar roster", "error", err)
		os.Exit(1)
	}

	crm, err := highlevel.New(highlevel.Config{
		BaseURL:       cfg.CRMBaseURL,
		LegacyBaseURL: cfg.CRMLegacyBaseURL,
		APIKey:        cfg.CRMAPIKey,
		LocationID:    cfg.CRMLocationID,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("CRM client init failed", "error", err)
		os.Exit(1)
	}

	awsConfig, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	queue := engine.NewSQSQueue(sqs.NewFromConfig(awsConfig), cfg.SyncQueueURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var eventStore *events.Store
	if cfg.DatabaseURL != "" {
		pool, perr := pgxpool.New(ctx, cfg.DatabaseURL)
		if perr != nil {
			logger.Error("postgres connect failed", "error", perr)
			os.Exit(1)
		}
		defer pool.Close()
		eventStore = events.NewStore(pool)
	}

	syncer := calendarsync.NewSyncer(crm, roster, logger, obsmetrics.NewEngineMetrics(nil))
	worker := engine.NewSyncWorker(queue, syncer, eventStore, engine.SyncWorkerConfig{
		Workers: cfg.WorkerCount,
	}, logger)

	worker.Start(ctx)
	logger.Info("sync worker started", "workers", cfg.WorkerCount, "queue_url", cfg.SyncQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down sync worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("sync worker stopped")
	case <-doneCtx.Done():
		logger.Error("sync worker shutdown timed out", "error", doneCtx.Err())
	}
}
