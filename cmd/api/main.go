package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/inkflow-ai/studio-platform/cmd/mainconfig"
	"github.com/inkflow-ai/studio-platform/internal/api/router"
	"github.com/inkflow-ai/studio-platform/internal/calendarsync"
	appconfig "github.com/inkflow-ai/studio-platform/internal/config"
	"github.com/inkflow-ai/studio-platform/internal/debounce"
	"github.com/inkflow-ai/studio-platform/internal/engine"
	"github.com/inkflow-ai/studio-platform/internal/events"
	"github.com/inkflow-ai/studio-platform/internal/fieldstore"
	"github.com/inkflow-ai/studio-platform/internal/highlevel"
	"github.com/inkflow-ai/studio-platform/internal/holds"
	httphandlers "github.com/inkflow-ai/studio-platform/internal/http/handlers"
	"github.com/inkflow-ai/studio-platform/internal/llm"
	"github.com/inkflow-ai/studio-platform/internal/notify"
	obsmetrics "github.com/inkflow-ai/studio-platform/internal/observability/metrics"
	"github.com/inkflow-ai/studio-platform/internal/payments"
	"github.com/inkflow-ai/studio-platform/internal/pipeline"
	"github.com/inkflow-ai/studio-platform/internal/scheduling"
	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting studio-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	engineMetrics := obsmetrics.NewEngineMetrics(prometheus.DefaultRegisterer)
	fields := fieldstore.NewAdapter(crm, nil, logger)

	scheduler, err := scheduling.NewEngine(crm, roster, scheduling.Options{
		RangeCapDays:    cfg.SlotRangeCapDays,
		SlotsPerReply:   cfg.SlotsPerReply,
		WorkloadWindow:  cfg.WorkloadWindow,
		ConsultDuration: time.Duration(cfg.ConsultDurationMins) * time.Minute,
	}, logger, engineMetrics)
	if err != nil {
		logger.Error("scheduling engine init failed", "error", err)
		os.Exit(1)
	}
	if cfg.PaymentAccessToken != "" {
		scheduler = scheduler.WithRefunder(payments.NewRefundService(cfg.PaymentBaseURL, cfg.PaymentAccessToken, logger))
	}

	holdRegistry := holds.NewRegistry()
	holdMgr := holds.NewManager(crm, fields, crm, cfg.HoldMinutes, cfg.HoldWarningMinutes, logger, engineMetrics).
		WithRegistry(holdRegistry)

	stageKeys, err := pipeline.ParseStageKeys(cfg.PipelineStagesJSON)
	if err != nil {
		logger.Error("invalid pipeline stage map", "error", err)
		os.Exit(1)
	}
	stages := pipeline.NewManager(crm, fields, stageKeys, cfg.OpportunityNameTmpl, logger)

	var debounceStore debounce.Store
	if cfg.DebounceStore == "redis" {
		redisOptions := &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisTLS {
			redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		debounceStore = debounce.NewRedisStore(redis.NewClient(redisOptions))
		logger.Info("debounce store: redis", "addr", cfg.RedisAddr)
	} else {
		debounceStore = debounce.NewMemoryStore()
		logger.Info("debounce store: memory")
	}
	debouncer := debounce.New(debounceStore, cfg.DebounceWindow, logger)

	awsCfg, err := mainconfig.LoadAWSConfig(rootCtx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	var replyClient llm.Client
	var replyModel string
	if cfg.BedrockModelID != "" {
		replyClient = llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg))
		replyModel = cfg.BedrockModelID
	}
	if cfg.GeminiAPIKey != "" {
		gemini, gerr := llm.NewGeminiClient(rootCtx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if gerr != nil {
			logger.Warn("gemini client init failed", "error", gerr)
		} else {
			defer gemini.Close()
			if replyClient != nil {
				replyClient = llm.NewFallbackClient(replyClient, gemini, logger)
			} else {
				replyClient = gemini
				replyModel = cfg.GeminiModelID
			}
		}
	}
	var replyGen engine.ReplyGenerator
	if replyClient != nil {
		replyGen = llm.NewReplyService(replyClient, replyModel, logger)
	} else {
		logger.Warn("no LLM configured, generative replies degrade to a canned response")
	}

	var eventStore *events.Store
	if cfg.DatabaseURL != "" {
		pool, perr := pgxpool.New(rootCtx, cfg.DatabaseURL)
		if perr != nil {
			logger.Error("postgres connect failed", "error", perr)
			os.Exit(1)
		}
		defer pool.Close()
		eventStore = events.NewStore(pool)
		logger.Info("event log enabled")
	}

	var queue engine.Queue
	if cfg.UseMemoryQueue {
		queue = engine.NewMemoryQueue(128)
		logger.Info("sync queue: memory")
	} else {
		queue = engine.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.SyncQueueURL)
		logger.Info("sync queue: sqs", "queue_url", cfg.SyncQueueURL)
	}

	syncer := calendarsync.NewSyncer(crm, roster, logger, engineMetrics)
	syncWorker := engine.NewSyncWorker(queue, syncer, eventStore, engine.SyncWorkerConfig{
		Workers: cfg.WorkerCount,
	}, logger)
	syncWorker.Start(rootCtx)

	svc := engine.NewService(
		fields, crm, scheduler, holdMgr, stages, replyGen, debouncer, eventStore,
		engine.Options{
			SearchWindowDays: cfg.SearchWindowDays,
			DefaultChannel:   "SMS",
			DepositCents:     int32(cfg.DepositAmountCents),
		},
		logger, engineMetrics,
	)

	if cfg.NotifyRecipients != "" {
		var emailSender notify.EmailSender
		from := notify.Address{Email: cfg.NotifyFromEmail, Name: cfg.StudioName}
		switch {
		case cfg.SendGridAPIKey != "":
			emailSender = notify.NewSendGridSender(cfg.SendGridAPIKey, from, logger)
		case cfg.SESEnabled:
			emailSender = notify.NewSESSender(sesv2.NewFromConfig(awsCfg), from, logger)
		default:
			emailSender = notify.NewLogSender(logger)
		}
		svc.WithNotifier(notify.NewService(emailSender, notify.Config{
			StudioName: cfg.StudioName,
			Recipients: splitRecipients(cfg.NotifyRecipients),
		}, logger))
		logger.Info("staff alerts enabled", "recipients", cfg.NotifyRecipients)
	}

	go engine.RunHoldSweeper(rootCtx, svc, func(context.Context) ([]string, error) {
		return holdRegistry.Snapshot(), nil
	}, cfg.HoldSweepInterval, logger)

	webhooks := httphandlers.NewWebhookHandler(svc, queue, logger)
	r := router.New(&router.Config{
		Logger:         logger,
		Webhooks:       webhooks,
		MetricsHandler: promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	syncWorker.Wait()

	logger.Info("server stopped")
}

func splitRecipients(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
