package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/acesso-gov/acesso/internal/app"
	"github.com/acesso-gov/acesso/internal/authz"
	"github.com/acesso-gov/acesso/internal/identity"
	"github.com/acesso-gov/acesso/internal/platform/cache"
	"github.com/acesso-gov/acesso/internal/platform/db"
	"github.com/acesso-gov/acesso/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
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

	store := identity.NewRepository(pool)
	perms := authz.NewPermissionRepository(authz.PermissionRepositoryConfig{
		Store:  store,
		Cache:  authz.NewRedisCache(redisClient),
		TTL:    cfg.PermCacheTTL,
		Logger: logger,
	})

	warmupJob := jobs.NewPermsWarmupJob(perms, store, logger, nil)
	invalidationJob := jobs.NewRoleInvalidationJob(perms, logger, nil)

	warmupTask, err := jobs.NewPermsWarmupTask(cfg.WarmupWindow)
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPermsWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskPermsInvalidateRole, Handler: invalidationJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 3 * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
