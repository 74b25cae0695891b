package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/assessly/assessly/internal/app"
	jobmetrics "github.com/assessly/assessly/internal/jobs"
	"github.com/assessly/assessly/internal/platform/cache"
	"github.com/assessly/assessly/internal/platform/db"
	"github.com/assessly/assessly/internal/security"
	"github.com/assessly/assessly/jobs"
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

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	eventList := security.NewRedisSink(redisClient, cfg.SecurityEventList, cfg.SecurityMaxEvents)

	// A nil table leaves Postgres out of the prune run.
	var table jobs.EventPruner
	if cfg.PGDSN != "" {
		pool, err := db.New(ctx, cfg.PGDSN, cfg.Postgres())
		if err != nil {
			logger.Error("connect database", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		table = security.NewPostgresSink(pool)
	}

	metrics := jobmetrics.NewMetrics(nil)
	digestJob := jobs.NewSecurityDigestJob(eventList, cfg.Security(), logger, metrics)
	pruneJob := jobs.NewSecurityPruneJob(table, eventList, cfg.SecurityRetention, logger, metrics)

	digestTask, err := jobs.NewSecurityDigestTask(jobs.DigestPayload{})
	if err != nil {
		logger.Error("build digest task", slog.Any("error", err))
		os.Exit(1)
	}
	pruneTask, err := jobs.NewSecurityPruneTask(jobs.PrunePayload{})
	if err != nil {
		logger.Error("build prune task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSecurityDigest, Handler: digestJob.Handle},
			{Type: jobs.TaskSecurityPrune, Handler: pruneJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: jobs.DigestSchedule, Task: digestTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: jobs.PruneSchedule, Task: pruneTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
