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

	"github.com/acesso-gov/acesso/internal/app"
	"github.com/acesso-gov/acesso/internal/authz"
	"github.com/acesso-gov/acesso/internal/identity"
	"github.com/acesso-gov/acesso/internal/observability"
	"github.com/acesso-gov/acesso/internal/platform/cache"
	"github.com/acesso-gov/acesso/internal/platform/db"
	"github.com/acesso-gov/acesso/internal/shared"
	"github.com/acesso-gov/acesso/internal/token"
	"github.com/acesso-gov/acesso/jobs"
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

	metrics := observability.NewMetrics()
	authzMetrics := authz.NewMetrics(metrics.Registerer())

	store := identity.NewRepository(pool)
	perms := authz.NewPermissionRepository(authz.PermissionRepositoryConfig{
		Store:   store,
		Cache:   authz.NewRedisCache(redisClient),
		TTL:     cfg.PermCacheTTL,
		Logger:  logger,
		Metrics: authzMetrics,
	})
	roles := authz.NewRoleResolver(store, logger)
	authzService := authz.NewService(authz.ServiceConfig{
		Permissions: perms,
		Roles:       roles,
		Store:       store,
		Logger:      logger,
		Metrics:     authzMetrics,
	})

	tokenService, err := token.NewService(token.ServiceConfig{
		Store:  store,
		Secret: cfg.TokenSecret,
		TTL:    cfg.TokenTTL,
		Logger: logger,
	})
	if err != nil {
		logger.Error("init token service", slog.Any("error", err))
		os.Exit(1)
	}

	jobsClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	identityService := identity.NewService(store, perms, jobsClient, logger)

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessionManager,
		TokenService:    tokenService,
		AuthzHandler:    authz.NewHandler(authzService, logger),
		TokenHandler:    token.NewHandler(tokenService, logger),
		IdentityHandler: identity.NewHandler(identityService, logger),
		Guard:           authz.Middleware{Service: authzService, Logger: logger},
		Metrics:         metrics,
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
