package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/scopeguard/scopeguard/internal/app"
	"github.com/scopeguard/scopeguard/internal/authz"
	"github.com/scopeguard/scopeguard/internal/httpapi"
	"github.com/scopeguard/scopeguard/internal/observability"
	"github.com/scopeguard/scopeguard/internal/platform/cache"
	"github.com/scopeguard/scopeguard/internal/platform/db"
	"github.com/scopeguard/scopeguard/internal/store/cached"
	"github.com/scopeguard/scopeguard/internal/store/postgres"
	"github.com/scopeguard/scopeguard/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	repo := postgres.NewRepository(pool)
	store := cached.New(repo, redisClient, cfg.CacheTTL, logger)

	opts, err := cfg.ScopeOptions()
	if err != nil {
		logger.Error("scope options", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	gate, err := authz.New(authz.Config{
		Provider:    repo,
		Store:       store,
		Options:     opts,
		Logger:      logger,
		Observer:    metrics,
		Invalidator: store,
	})
	if err != nil {
		logger.Error("init gate", slog.Any("error", err))
		os.Exit(1)
	}

	apiHandler := httpapi.NewHandler(logger, gate, repo)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Config: cfg,
		Middleware: app.MiddlewareConfig{
			Logger:  logger,
			Config:  cfg,
			Gate:    gate,
			Metrics: metrics,
		},
		API:     apiHandler,
		Jobs:    jobHandler,
		Metrics: metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
