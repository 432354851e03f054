package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"newsflow/internal/assess"
	"newsflow/internal/backoff"
	"newsflow/internal/classify"
	"newsflow/internal/collector"
	"newsflow/internal/config"
	"newsflow/internal/dedup"
	"newsflow/internal/domain"
	"newsflow/internal/enhance"
	"newsflow/internal/infrastructure/archive"
	"newsflow/internal/infrastructure/feeds"
	"newsflow/internal/infrastructure/llm"
	"newsflow/internal/infrastructure/scheduler"
	"newsflow/internal/infrastructure/storage"
	"newsflow/internal/infrastructure/telegram"
	"newsflow/internal/infrastructure/webhook"
	"newsflow/internal/ledger"
	"newsflow/internal/logging"
	"newsflow/internal/ports"
	"newsflow/internal/usecase"
)

// Application wires configuration to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *storage.SQLiteStore
	ledger   *ledger.Ledger
	pipeline *usecase.Pipeline
	sched    *usecase.Scheduler
}

// New builds a runnable application instance. All adapters are constructed
// here; construction failures are fatal.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	store, err := storage.Open(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if purged, err := store.PurgeExpired(ctx); err != nil {
		baseLogger.Warn("purge expired cache entries failed", "error", err)
	} else if purged > 0 {
		baseLogger.Debug("purged expired cache entries", "count", purged)
	}

	spendLedger, err := ledger.New(ctx, store, cfg.LLM.DailyLimitUSD, cfg.LLM.MonthlyBudgetUSD)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	classifier, err := classify.New(cfg.Rules)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build classifier: %w", err)
	}

	deduper := dedup.New(store, cfg.Cache.TTL(), cfg.Dedup.Semantic, cfg.Dedup.Threshold,
		baseLogger.With("component", "dedup"))

	var enhancer *enhance.Enhancer
	if cfg.LLM.Enabled {
		client := llm.NewClient(cfg.LLM)
		enhancer = enhance.New(client, store, spendLedger, cfg.LLM, cfg.Cache.TTL(),
			baseLogger.With("component", "enhance"))
	}

	var quality *assess.Quality
	if !cfg.Processing.Quality.Disabled {
		quality = assess.NewQuality(cfg.Processing.Quality)
	}
	var verifier *assess.Verifier
	if !cfg.Processing.Verification.Disabled {
		verifier = assess.NewVerifier(cfg.Processing.Verification)
	}

	source := buildSource(cfg.Sources, baseLogger)
	sink := buildArchive(cfg.Archive, baseLogger)
	notifiers := buildNotifiers(cfg.Notifications, baseLogger)

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:      source,
		Dedup:       deduper,
		Classifier:  classifier,
		Quality:     quality,
		Verifier:    verifier,
		Enhancer:    enhancer,
		Archive:     sink,
		Notifiers:   notifiers,
		Logger:      baseLogger.With("component", "pipeline"),
		Concurrency: cfg.Pipeline.Concurrency,
		SinkRetry:   retryPolicy(cfg.Pipeline.SinkRetry),
	})

	driver := scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Location())
	sched := usecase.NewScheduler(driver, pipeline, baseLogger.With("component", "scheduler"))

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		store:    store,
		ledger:   spendLedger,
		pipeline: pipeline,
		sched:    sched,
	}, nil
}

func buildSource(cfg config.SourcesConfig, logger *slog.Logger) ports.Source {
	content := feeds.NewContentFetcher(nil)
	feedCollector := feeds.NewFeedCollector(&http.Client{Timeout: 20 * time.Second}, content)

	registry := collector.NewRegistry()
	registry.Register(feedCollector)
	registry.Register(feeds.NewYouTubeCollector(feedCollector))

	return feeds.NewStrategySource(registry, cfg, logger.With("component", "source"))
}

func buildArchive(cfg config.ArchiveConfig, logger *slog.Logger) ports.Archive {
	if cfg.Token == "" || cfg.DatabaseID == "" {
		logger.Warn("archive credentials absent, records will only be logged")
		return &logArchive{logger: logger.With("component", "archive")}
	}
	return archive.NewClient(cfg, nil)
}

func buildNotifiers(cfg config.NotificationConfig, logger *slog.Logger) []ports.Notifier {
	var notifiers []ports.Notifier

	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != 0 {
		tg, err := telegram.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			logger.Warn("telegram notifier disabled", "error", err)
		} else {
			notifiers = append(notifiers, tg)
		}
	}

	if cfg.Webhook.URL != "" {
		notifiers = append(notifiers, webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret))
	}

	return notifiers
}

func retryPolicy(cfg config.RetryConfig) backoff.Policy {
	policy := backoff.Default()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BackoffFactor > 0 {
		policy.Factor = cfg.BackoffFactor
	}
	if cfg.MinWaitSeconds > 0 {
		policy.MinDelay = time.Duration(cfg.MinWaitSeconds * float64(time.Second))
	}
	if cfg.MaxWaitSeconds > 0 {
		policy.MaxDelay = time.Duration(cfg.MaxWaitSeconds * float64(time.Second))
	}
	return policy
}

// Run performs a single pipeline execution and reports spend afterwards.
func (a *Application) Run(ctx context.Context) error {
	result, err := a.pipeline.Run(ctx)
	if err != nil {
		return err
	}
	a.logSpend()

	if result.Failed > 0 {
		return fmt.Errorf("run %s finished with %d failed items", result.RunID, result.Failed)
	}
	return nil
}

// RunScheduled starts the cron loop and blocks until the context is done.
func (a *Application) RunScheduled(ctx context.Context) error {
	if err := a.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("scheduler started", "cron", a.cfg.Scheduler.CronExpression, "timezone", a.cfg.Scheduler.Timezone)

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.sched.Stop(stopCtx)
}

// Close releases the persistent store.
func (a *Application) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func (a *Application) logSpend() {
	summary := a.ledger.Summary()
	a.logger.Info("spend summary",
		"daily_cost_usd", summary.DailyCost,
		"daily_remaining_usd", summary.DailyRemaining,
		"monthly_cost_usd", summary.MonthlyCost,
		"monthly_remaining_usd", summary.MonthlyRemaining)
}

// logArchive is the credential-free fallback sink for local runs. Records
// are logged and acknowledged with a generated identifier.
type logArchive struct {
	logger *slog.Logger
}

var _ ports.Archive = (*logArchive)(nil)

func (l *logArchive) Write(_ context.Context, rec domain.ProcessedRecord) (string, error) {
	id := ulid.Make().String()
	l.logger.Info("record archived (log only)",
		"id", id,
		"title", rec.Item.Title,
		"url", rec.Item.URL,
		"priority", rec.Classification.Priority,
		"topics", rec.Classification.Topics)
	return id, nil
}
