package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atlas-grants/atlas-grants/internal/activity"
	"github.com/atlas-grants/atlas-grants/internal/app"
	"github.com/atlas-grants/atlas-grants/internal/approval"
	"github.com/atlas-grants/atlas-grants/internal/audit"
	"github.com/atlas-grants/atlas-grants/internal/auth"
	"github.com/atlas-grants/atlas-grants/internal/notify"
	"github.com/atlas-grants/atlas-grants/internal/observability"
	"github.com/atlas-grants/atlas-grants/internal/platform/cache"
	"github.com/atlas-grants/atlas-grants/internal/platform/db"
	"github.com/atlas-grants/atlas-grants/internal/rbac"
	"github.com/atlas-grants/atlas-grants/internal/settings"
	"github.com/atlas-grants/atlas-grants/internal/shared"
	"github.com/atlas-grants/atlas-grants/internal/users"
	"github.com/atlas-grants/atlas-grants/jobs"
)

func main() {
	if app.InTestMode() {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("failed to connect to postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer redisClient.Close()

	sessionManager := shared.NewSessionManager(redisClient, "atlas_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(pool)

	usersService := users.NewService(users.NewRepository(pool))
	rbacMiddleware := rbac.Middleware{Directory: usersService, Logger: logger}

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("failed to create jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer jobsClient.Close()
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer inspector.Close()

	notifyService := notify.NewService(notify.NewRepository(pool), usersService, jobsClient, logger)
	settingsService := settings.NewService(settings.NewRepository(pool), redisClient, cfg.SettingsCacheTTL, auditLogger, logger)
	approvalService := approval.NewService(approval.NewRepository(pool), usersService, notifyService, settingsService, logger, cfg.BaseURL)
	activityService := activity.NewService(activity.NewRepository(pool), auditLogger, logger)
	authService := auth.NewService(auth.NewRepository(pool))
	auditService := audit.NewService(audit.NewRepository(pool))

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Middleware: app.MiddlewareStack(app.MiddlewareConfig{
			Logger:         logger,
			Config:         cfg,
			SessionManager: sessionManager,
			CSRFManager:    csrfManager,
			Metrics:        metrics,
		}),
		AuthHandler:     auth.NewHandler(logger, authService, sessionManager, csrfManager, rbacMiddleware),
		UsersHandler:    users.NewHandler(logger, usersService, rbacMiddleware.RequireAuthenticated, rbacMiddleware.RequireRole(users.RoleDirector)),
		ActivityHandler: activity.NewHandler(logger, activityService, rbacMiddleware),
		ApprovalHandler: approval.NewHandler(logger, approvalService, rbacMiddleware, metrics),
		SettingsHandler: settings.NewHandler(logger, settingsService, rbacMiddleware),
		NotifyHandler:   notify.NewHandler(logger, notifyService, rbacMiddleware),
		AuditHandler:    audit.NewHandler(logger, auditService, rbacMiddleware),
		JobsHandler:     jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
		Pool:            pool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server failed", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
	logger.Info("server stopped")
}
