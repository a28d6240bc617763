// Package main is the entrypoint for the docsift API server.
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

	"github.com/kiranshivaraju/docsift/internal/ai"
	"github.com/kiranshivaraju/docsift/internal/api"
	"github.com/kiranshivaraju/docsift/internal/api/handler"
	mw "github.com/kiranshivaraju/docsift/internal/api/middleware"
	"github.com/kiranshivaraju/docsift/internal/api/response"
	"github.com/kiranshivaraju/docsift/internal/cache"
	"github.com/kiranshivaraju/docsift/internal/config"
	"github.com/kiranshivaraju/docsift/internal/events"
	"github.com/kiranshivaraju/docsift/internal/files"
	"github.com/kiranshivaraju/docsift/internal/logging"
	"github.com/kiranshivaraju/docsift/internal/metrics"
	"github.com/kiranshivaraju/docsift/internal/retention"
	"github.com/kiranshivaraju/docsift/internal/scheduler"
	"github.com/kiranshivaraju/docsift/internal/store"
	"github.com/kiranshivaraju/docsift/pkg/models"
	"golang.org/x/sync/errgroup"
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
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	slog.SetDefault(logger)
	logger.Info("config loaded",
		"env", cfg.Server.Env,
		"store", cfg.Store.Driver,
		"providers", len(cfg.AI.Providers),
		"max_concurrent", cfg.Scheduler.MaxConcurrent,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected")

	registry := ai.NewRegistry(logger)
	if err := ai.RegisterProviders(registry, cfg.AI.Providers); err != nil {
		return fmt.Errorf("register AI providers: %w", err)
	}
	if err := registry.Refresh(ctx); err != nil {
		logger.Warn("initial provider refresh failed", "error", err)
	}
	logger.Info("AI providers registered", "count", registry.Len())

	filesClient := files.NewHTTPClient(cfg.Files.BaseURL, cfg.Files.APIToken, cfg.Files.Timeout)
	resolver := files.NewResolver(filesClient, cfg.Files.MaxContentBytes)
	notifier := events.NewRedisNotifier(redisCache, logger)
	selector := ai.NewSelector(registry)
	executor := ai.NewExecutor(registry, cfg.AI.RequestsPerMinute, logger)

	dispatcher := scheduler.NewDispatcher(cfg.Scheduler, st, selector, executor, resolver, notifier, logger)
	controller := scheduler.NewController(cfg.Scheduler, st, selector, dispatcher, notifier, logger)
	healthChecker := ai.NewHealthChecker(registry, cfg.AI.HealthInterval, logger)
	janitor := retention.NewJanitor(cfg.Retention, st, logger)

	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(st),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitRPM),

		HealthHandler:  healthHandler(st, redisCache, registry),
		MetricsHandler: metrics.Handler(),

		SubmitJob:   handler.NewSubmitJobHandler(controller),
		SubmitBatch: handler.NewSubmitBatchHandler(controller),
		ListJobs:    handler.NewListJobsHandler(controller),
		JobStats:    handler.NewJobStatsHandler(controller),
		GetJob:      handler.NewGetJobHandler(controller),
		CancelJob:   handler.NewCancelJobHandler(controller),
		RetryJob:    handler.NewRetryJobHandler(controller),

		ListProviders:    handler.NewListProvidersHandler(registry),
		RefreshProviders: handler.NewRefreshProvidersHandler(registry),
		Events:           handler.NewEventsHandler(notifier),
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: /api/v1/events holds the response open.
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, draining connections...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return healthChecker.Run(gctx) })
	g.Go(func() error { return janitor.Run(gctx) })

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}

// openStore returns the configured job and API key store and a func releasing it.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		slog.Warn("using in-memory store; jobs are lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	default:
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		slog.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
		return store.NewPostgresStore(pool), pool.Close, nil
	}
}

// providerLister is the slice of the AI registry the health check reads.
type providerLister interface {
	Descriptors() []models.ProviderDescriptor
}

// healthHandler checks database and cache connectivity and reports how many AI providers
// are currently functional. Having no functional provider does not fail the check.
func healthHandler(s store.Store, c cache.Cache, providers providerLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
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

		descs := providers.Descriptors()
		functional := 0
		for _, d := range descs {
			if d.Functional {
				functional++
			}
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
			"providers": map[string]int{
				"registered": len(descs),
				"functional": functional,
			},
		})
	}
}
