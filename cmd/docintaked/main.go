// docintaked is the document-intake daemon: it accepts PDF uploads, runs the
// classification and extraction pipeline against the provider, and serves the
// result and cost surfaces over HTTP.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mgebhardt/docintake/internal/batch"
	"github.com/mgebhardt/docintake/internal/classify"
	"github.com/mgebhardt/docintake/internal/common"
	"github.com/mgebhardt/docintake/internal/extract"
	"github.com/mgebhardt/docintake/internal/llm/openai"
	"github.com/mgebhardt/docintake/internal/queue"
	"github.com/mgebhardt/docintake/internal/ratelimit"
	"github.com/mgebhardt/docintake/internal/repository"
	"github.com/mgebhardt/docintake/internal/server"
	"github.com/mgebhardt/docintake/internal/storage"
	"github.com/mgebhardt/docintake/internal/webhook"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("config.invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		DialTimeout:     cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		logger.Error("db.open_failed", "error", err)
		os.Exit(1)
	}
	defer db.Close(logger)

	store, err := storage.NewLocalStore(cfg.Storage.UploadDir, logger)
	if err != nil {
		logger.Error("storage.init_failed", "error", err)
		os.Exit(1)
	}

	docs := repository.NewDocumentRepository(db, logger)
	extracted := repository.NewExtractedDataRepository(db, logger)
	metrics := repository.NewCostMetricsRepository(db, logger)
	batches := repository.NewBatchJobRepository(db, logger)

	provider := openai.NewClient(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		HighModel:   cfg.LLM.HighModel,
		LowModel:    cfg.LLM.LowModel,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		BaseDelay:            cfg.RateLimit.BaseDelay,
		MaxDelay:             cfg.RateLimit.MaxDelay,
		PollInterval:         cfg.RateLimit.PollInterval,
		MaxRetries:           cfg.RateLimit.MaxRetries,
	}, logger)

	notifier := webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Timeout, logger)
	classifier := classify.New(provider, limiter, logger)
	svc := extract.NewService(docs, extracted, metrics, store, classifier, provider, limiter, notifier, logger)

	ws := server.NewWSManager(logger)
	go ws.Run(ctx)

	q := queue.New(svc.Processor(), logger,
		queue.WithConcurrency[extract.JobPayload, *extract.Result](cfg.Queue.Concurrency),
		queue.WithMaxRetries[extract.JobPayload, *extract.Result](cfg.Queue.MaxRetries),
		queue.WithRetryDelay[extract.JobPayload, *extract.Result](cfg.Queue.RetryDelay),
		queue.WithNotifier[extract.JobPayload, *extract.Result](func(s queue.Summary) {
			ws.Broadcast("job.update", s)
		}),
	)

	unsubscribe := limiter.Subscribe(func(s ratelimit.Status) {
		ws.Broadcast("rate_limit.update", map[string]any{
			"limited":        s.Limited,
			"remaining":      s.Remaining,
			"retry_after_ms": s.RetryAfter.Milliseconds(),
			"message":        s.Message,
		})
	})
	defer unsubscribe()

	coordinator := batch.NewCoordinator(batch.Config{
		BatchAPIThreshold: cfg.Batch.BatchAPIThreshold,
		SyncWaitLimit:     cfg.Batch.SyncWaitLimit,
		PollInterval:      cfg.Batch.PollInterval,
		MaxWait:           cfg.Batch.WaitTimeout,
	}, batches, docs, q, notifier, logger)

	srv := server.New(cfg.Server, store, docs, extracted, metrics, svc, q, coordinator, limiter, ws, logger)

	logger.Info("docintaked.starting", "addr", cfg.Server.Addr, "queue_concurrency", cfg.Queue.Concurrency)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("http.serve_failed", "error", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	q.Shutdown(drainCtx)
	logger.Info("docintaked.stopped")
}
