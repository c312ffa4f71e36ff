package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/scopeguard/scopeguard/internal/app"
	"github.com/scopeguard/scopeguard/internal/authz"
	jobmetrics "github.com/scopeguard/scopeguard/internal/jobs"
	"github.com/scopeguard/scopeguard/internal/platform/cache"
	"github.com/scopeguard/scopeguard/internal/platform/db"
	"github.com/scopeguard/scopeguard/internal/store/cached"
	"github.com/scopeguard/scopeguard/internal/store/postgres"
	"github.com/scopeguard/scopeguard/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	gate, err := authz.New(authz.Config{
		Provider:    repo,
		Store:       store,
		Options:     opts,
		Logger:      logger,
		Invalidator: store,
	})
	if err != nil {
		logger.Error("init gate", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := jobmetrics.NewMetrics(nil)
	invalidate := jobs.NewInvalidateHandler(gate, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:  asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:     logger,
		Invalidate: invalidate,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
