// Package main is the entrypoint for the riskscan API server and worker.
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

	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/riskscan/internal/ai"
	"github.com/kiranshivaraju/riskscan/internal/analysis"
	"github.com/kiranshivaraju/riskscan/internal/api"
	"github.com/kiranshivaraju/riskscan/internal/api/handler"
	mw "github.com/kiranshivaraju/riskscan/internal/api/middleware"
	"github.com/kiranshivaraju/riskscan/internal/api/response"
	"github.com/kiranshivaraju/riskscan/internal/cache"
	"github.com/kiranshivaraju/riskscan/internal/config"
	"github.com/kiranshivaraju/riskscan/internal/extract"
	"github.com/kiranshivaraju/riskscan/internal/notify"
	"github.com/kiranshivaraju/riskscan/internal/observability"
	"github.com/kiranshivaraju/riskscan/internal/ratelimit"
	"github.com/kiranshivaraju/riskscan/internal/source"
	"github.com/kiranshivaraju/riskscan/internal/store"
	"github.com/kiranshivaraju/riskscan/internal/taxonomy"
	"github.com/kiranshivaraju/riskscan/internal/worker"
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
	// 1. Load config and taxonomy, fail fast on either
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"text_providers", cfg.AI.TextProviders,
		"multimodal_providers", cfg.AI.MultiModalProviders,
		"governor", cfg.Governor.Backend,
		"env", cfg.Server.Env,
	)

	tx, err := taxonomy.Load(cfg.Taxonomy)
	if err != nil {
		return fmt.Errorf("load taxonomy: %w", err)
	}

	textChain, mmChain, err := ai.NewChains(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI providers: %w", err)
	}
	slog.Info("AI providers initialized", "text", len(textChain), "multimodal", len(mmChain))

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
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Assemble the pipeline
	metrics := observability.NewMetrics(nil)
	governor := newGovernor(cfg.Governor, redisCache, metrics)

	orchestrator := ai.NewOrchestrator(textChain, mmChain, governor,
		ai.WithMetrics(metrics),
		ai.WithRetry(cfg.AI.MaxAttempts, cfg.AI.BackoffBase),
	)
	parser := extract.NewParser(extract.WithMetrics(metrics))
	classifier := analysis.NewContextClassifier(orchestrator, parser, tx)
	analyzer := analysis.NewCategoryAnalyzer(orchestrator, parser, tx,
		analysis.WithBatchRetries(cfg.Worker.BatchRetries),
		analysis.WithAnalyzerMetrics(metrics),
	)
	acquirer := source.NewResolver(source.NewHTTPAcquirer(
		&http.Client{Timeout: cfg.Source.FetchTimeout}, cfg.Source.MaxBytes))

	pgStore := store.NewPostgresStore(pool)
	w := worker.New(pgStore, acquirer, classifier, analyzer,
		worker.WithCache(redisCache),
		worker.WithNotifier(notify.NewRedisNotifier(redisCache.Client())),
		worker.WithMetrics(metrics),
		worker.WithTimings(cfg.Worker.JobTimeout, cfg.Worker.ChainDelay, cfg.Worker.PollInterval),
	)

	// 6. Build router with dependencies
	if cfg.Worker.APITokenHash == "" {
		slog.Warn("WORKER_API_TOKEN_HASH is not set; protected endpoints will reject every request")
	}

	deps := api.Dependencies{
		Auth:      mw.NewAuth(cfg.Worker.APITokenHash),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Worker.TriggerRPM),

		HealthHandler:      healthHandler(pgStore, redisCache),
		ProcessNextHandler: handler.NewProcessNextHandler(w),
		CreateJobHandler:   handler.NewCreateJobHandler(pgStore, w),
		JobProgressHandler: handler.NewJobProgressHandler(redisCache, pgStore),
		GetResultHandler:   handler.NewGetResultHandler(redisCache, pgStore),
		MetricsHandler:     metrics.Handler(),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server and worker loop
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Worker.JobTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return w.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newGovernor picks the in-process or Redis-backed governor. The Redis one
// is shared by every replica pointed at the same instance.
func newGovernor(cfg config.GovernorConfig, c *cache.RedisCache, metrics *observability.Metrics) ratelimit.Governor {
	settings := ratelimit.Settings{
		Window:           cfg.Window,
		WarningThreshold: cfg.WarningThreshold,
		Default:          ratelimit.Limit(cfg.Default),
		Limits:           make(map[string]ratelimit.Limit, len(cfg.Limits)),
	}
	for name, l := range cfg.Limits {
		settings.Limits[name] = ratelimit.Limit(l)
	}

	if cfg.Backend == "redis" {
		return ratelimit.NewRedis(c.Client(), settings, ratelimit.WithRedisObserver(metrics))
	}
	return ratelimit.NewMemory(settings, ratelimit.WithObserver(metrics))
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(db, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
