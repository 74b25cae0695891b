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

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/assessly/assessly/internal/app"
	"github.com/assessly/assessly/internal/auth"
	"github.com/assessly/assessly/internal/csrf"
	"github.com/assessly/assessly/internal/observability"
	"github.com/assessly/assessly/internal/platform/cache"
	"github.com/assessly/assessly/internal/platform/db"
	"github.com/assessly/assessly/internal/ratelimit"
	"github.com/assessly/assessly/internal/rbac"
	"github.com/assessly/assessly/internal/security"
	"github.com/assessly/assessly/internal/shared"
	"github.com/assessly/assessly/jobs"
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

	var dbpool *pgxpool.Pool
	if cfg.PGDSN != "" {
		dbpool, err = db.New(ctx, cfg.PGDSN, cfg.Postgres())
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer dbpool.Close()
		if err := db.EnsureSchema(ctx, dbpool); err != nil {
			logger.Error("apply schema", slog.Any("error", err))
			os.Exit(1)
		}
	}

	metrics := observability.NewMetrics()

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())

	resolver, err := auth.NewResolver(cfg.IdentitySource)
	if err != nil {
		logger.Error("identity resolver", slog.Any("error", err))
		os.Exit(1)
	}

	routeGuard, routes, err := app.NewGuard(cfg)
	if err != nil {
		logger.Error("route guard", slog.Any("error", err))
		os.Exit(1)
	}

	limitStore, err := app.NewRateLimitStore(cfg, redisClient)
	if err != nil {
		logger.Error("rate limit store", slog.Any("error", err))
		os.Exit(1)
	}
	limiters, err := app.NewLimiters(cfg, limitStore, ratelimit.NewMetrics(metrics.Registerer()))
	if err != nil {
		logger.Error("rate limiters", slog.Any("error", err))
		os.Exit(1)
	}

	collectors := security.NewCollectors(metrics.Registerer())
	sinks := security.MultiSink{security.NewRedisSink(redisClient, cfg.SecurityEventList, cfg.SecurityMaxEvents)}
	if dbpool != nil {
		sinks = append(sinks, security.NewPostgresSink(dbpool))
	}
	forwarder := security.NewForwarder(sinks, security.DefaultForwardBuffer, logger, collectors)
	monitor, err := security.NewMonitor(cfg.Security(),
		security.WithLogger(logger),
		security.WithForwarder(forwarder),
		security.WithCollectors(collectors),
	)
	if err != nil {
		logger.Error("security monitor", slog.Any("error", err))
		os.Exit(1)
	}

	csrfConfig, err := cfg.CSRF()
	if err != nil {
		logger.Error("csrf config", slog.Any("error", err))
		os.Exit(1)
	}
	csrfService, err := csrf.NewService(csrfConfig)
	if err != nil {
		logger.Error("csrf service", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessionManager,
		Resolver:        resolver,
		Guard:           routeGuard,
		Routes:          routes,
		Monitor:         monitor,
		CSRF:            csrfService,
		Limiters:        limiters,
		AuthHandler:     auth.NewHandler(logger, sessionManager),
		SecurityHandler: security.NewHandler(monitor, logger),
		Metrics:         metrics,
		Mount: func(r chi.Router) {
			r.With(app.Permissions(logger).RequireAll(rbac.PermSecurityReadAll, rbac.PermSettingsEditAll)).
				Route("/api/admin/system/jobs", jobHandler.MountRoutes)
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return forwarder.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}
