package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/atlas-grants/atlas-grants/internal/app"
	jobmetrics "github.com/atlas-grants/atlas-grants/internal/jobs"
	"github.com/atlas-grants/atlas-grants/internal/platform/db"
	"github.com/atlas-grants/atlas-grants/jobs"
)

func main() {
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

	metrics := jobmetrics.NewMetrics(nil)

	sender := jobs.NewSMTPSender(jobs.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	sendEmailJob := jobs.NewSendEmailJob(sender, logger, metrics)
	reminderJob := jobs.NewApprovalReminderJob(pool, logger, metrics, cfg.BaseURL)

	reminderTask, err := jobs.NewApprovalReminderTask(jobs.ApprovalReminderPayload{
		OlderThanHours: cfg.ReminderAfterHours,
	})
	if err != nil {
		logger.Error("failed to build reminder task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: sendEmailJob.Handle},
			{Type: jobs.TaskTypeApprovalReminder, Handler: reminderJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 8 * * *", Task: reminderTask},
		},
	})
	if err != nil {
		logger.Error("failed to build worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
