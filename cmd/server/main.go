// Package main is the entrypoint for the BuildWatch API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/buildwatch/internal/ai"
	"github.com/kiranshivaraju/buildwatch/internal/api"
	"github.com/kiranshivaraju/buildwatch/internal/api/handler"
	mw "github.com/kiranshivaraju/buildwatch/internal/api/middleware"
	"github.com/kiranshivaraju/buildwatch/internal/archive"
	"github.com/kiranshivaraju/buildwatch/internal/azdo"
	"github.com/kiranshivaraju/buildwatch/internal/cache"
	"github.com/kiranshivaraju/buildwatch/internal/config"
	"github.com/kiranshivaraju/buildwatch/internal/notify"
	"github.com/kiranshivaraju/buildwatch/internal/observability"
	"github.com/kiranshivaraju/buildwatch/internal/pipeline"
	"github.com/kiranshivaraju/buildwatch/internal/store"
	"github.com/kiranshivaraju/buildwatch/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config; fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	pgStore := store.NewPostgresStore(pool, store.WithLeaseTTL(cfg.Worker.LeaseTTL))

	// 4. Optional Redis cache
	var redisCache cache.Cache
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer rc.Close()

		if err := rc.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		redisCache = rc
		slog.Info("redis connected")
	} else {
		slog.Info("redis disabled, ingestion is not rate limited")
	}

	// 5. Create AI provider
	aiProvider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	diagnoser := ai.NewDiagnoser(aiProvider, cfg.AI.InferenceTimeout)
	slog.Info("AI provider initialized", "provider", aiProvider.Name(), "model", modelName(cfg.AI))

	metrics := observability.NewMetrics(nil)

	// 6. Log retrieval
	azClient := azdo.NewHTTPClient(cfg.AzureDevOps)
	fetcher := newLogFetcher(cfg.AzureDevOps, azClient, pgStore).WithMetrics(metrics)

	// 7. Optional log archive
	var archiver pipeline.Archiver
	if cfg.Archive.Bucket != "" {
		s3Archiver, err := archive.NewS3Archiver(ctx, cfg.Archive)
		if err != nil {
			return fmt.Errorf("create log archiver: %w", err)
		}
		archiver = s3Archiver
		slog.Info("log archive enabled", "bucket", cfg.Archive.Bucket)
	}

	// 8. Notification sinks
	var buildURL func(string) string
	if cfg.AzureDevOps.Org != "" {
		buildURL = azClient.BuildResultsURL
	}
	dispatcher, closeNotifiers, err := newDispatcher(cfg.Notify, buildURL)
	if err != nil {
		return fmt.Errorf("create notifiers: %w", err)
	}
	defer closeNotifiers()

	// 9. Pipeline
	analyzer := pipeline.NewAnalyzer(pipeline.Deps{
		Store:          pgStore,
		Fetcher:        fetcher,
		Diagnoser:      diagnoser,
		Archiver:       archiver,
		ArchiveTimeout: cfg.Archive.Timeout,
		Notifier:       dispatcher,
		Metrics:        metrics,
	})
	workers := worker.New(cfg.Worker.Count, cfg.Worker.QueueSize)
	ingestor := pipeline.NewIngestor(pgStore, analyzer, workers, metrics)

	// 10. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewTokenAuth(cfg.Server.IngestToken, cfg.Server.IngestTokenHash),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.IngestRateLimit),

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache, handler.HealthInfo{
			Service: "buildwatch",
			Model:   modelName(cfg.AI),
		}),
		WebhookHandler:    handler.NewWebhookHandler(ingestor, nil),
		HistoryHandler:    handler.NewHistoryHandler(pgStore),
		MetricsHandler:    handler.NewMetricsHandler(pgStore, redisCache),
		ResetHandler:      handler.NewResetHandler(pgStore, redisCache),
		PrometheusHandler: observability.Handler(),
	}
	if !deps.Auth.Enabled() {
		slog.Warn("ingestion token not configured, webhook and admin routes are open")
	}

	router := api.NewRouter(deps)

	// 11. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	if err := shutdown(srv, workers, shutdownTimeout, cfg.Worker.ShutdownTimeout); err != nil {
		return err
	}

	slog.Info("server stopped gracefully")
	return nil
}

type serverShutdowner interface {
	Shutdown(ctx context.Context) error
}

type queueDrainer interface {
	Queued() int
	Shutdown(ctx context.Context) error
}

// shutdown stops the HTTP server, then drains the analysis queue. The queue is
// drained even when the server fails to stop in time.
func shutdown(srv serverShutdowner, workers queueDrainer, serverTimeout, drainTimeout time.Duration) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverTimeout)
	defer cancel()
	srvErr := srv.Shutdown(shutdownCtx)
	if srvErr != nil {
		slog.Warn("server shutdown incomplete", "error", srvErr)
	}

	// Queued analyses still run; in-flight ones are cancelled at the deadline.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()

	slog.Info("draining analysis queue", "queued", workers.Queued())
	if err := workers.Shutdown(drainCtx); err != nil {
		slog.Warn("analysis queue not drained before deadline", "error", err)
	}

	if srvErr != nil {
		return fmt.Errorf("server shutdown: %w", srvErr)
	}
	return nil
}

// newLogFetcher disables retrieval when no PAT is configured.
func newLogFetcher(cfg config.AzureDevOpsConfig, client azdo.Client, recorder azdo.FailureRecorder) *azdo.Fetcher {
	if !cfg.LogFetchEnabled() {
		slog.Warn("AZURE_DEVOPS_PAT not set, log retrieval disabled")
		client = nil
	}
	return azdo.NewFetcher(client, recorder, cfg.MaxSegments)
}

// newDispatcher builds the configured notification sinks. The returned func
// closes sinks holding connections.
func newDispatcher(cfg config.NotifyConfig, buildURL func(string) string) (*notify.Dispatcher, func(), error) {
	var notifiers []notify.Notifier
	closeFn := func() {}

	if cfg.TeamsWebhookURL != "" {
		notifiers = append(notifiers, notify.NewTeamsNotifier(cfg.TeamsWebhookURL, buildURL))
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, closeFn, fmt.Errorf("kafka publisher: %w", err)
		}
		notifiers = append(notifiers, publisher)
		closeFn = publisher.Close
	}

	d := notify.NewDispatcher(cfg.Timeout, notifiers...)
	if d.Len() == 0 {
		slog.Info("no notification sinks configured")
	}
	return d, closeFn, nil
}

func modelName(cfg config.AIConfig) string {
	switch cfg.Provider {
	case "ollama":
		return cfg.Ollama.Model
	case "vllm":
		return cfg.VLLM.Model
	case "openai":
		return cfg.OpenAI.Model
	case "anthropic":
		return cfg.Anthropic.Model
	default:
		return ""
	}
}
