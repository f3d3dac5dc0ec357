package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/notify-outbox/internal/config"
	"github.com/kursadbilgin/notify-outbox/internal/handler"
	"github.com/kursadbilgin/notify-outbox/internal/infra/postgresql"
	"github.com/kursadbilgin/notify-outbox/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/notify-outbox/internal/infra/redis"
	"github.com/kursadbilgin/notify-outbox/internal/observability"
	"github.com/kursadbilgin/notify-outbox/internal/provider"
	"github.com/kursadbilgin/notify-outbox/internal/repository"
	"github.com/kursadbilgin/notify-outbox/internal/service"
	"github.com/kursadbilgin/notify-outbox/internal/template"
	"github.com/kursadbilgin/notify-outbox/internal/transport"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	var rdb *goredis.Client
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()
	}

	metrics := observability.NewMetrics()

	jobRepo := repository.NewGormJobRepo(db)
	logRepo := repository.NewGormDeliveryLogRepo(db)

	emailProvider, err := buildProvider(cfg, logger)
	if err != nil {
		logger.Fatal("provider initialization failed", zap.Error(err))
	}

	enqueueSvc, err := service.NewEnqueueService(jobRepo, cfg.AppBaseURL, logger)
	if err != nil {
		logger.Fatal("enqueue service initialization failed", zap.Error(err))
	}
	enqueueSvc.SetMetrics(metrics)
	enqueueSvc.SetMaxAttempts(cfg.MaxAttempts)

	dispatchSvc, err := service.NewDispatchService(
		jobRepo,
		logRepo,
		template.NewRenderer(cfg.AppBaseURL),
		emailProvider,
		cfg.WorkerBatchSize,
		logger,
	)
	if err != nil {
		logger.Fatal("dispatch service initialization failed", zap.Error(err))
	}
	dispatchSvc.SetMetrics(metrics)

	if rdb != nil && cfg.RateLimitPerSec > 0 {
		limiter, err := infraredis.NewRateLimiter(rdb, cfg.RateLimitPerSec)
		if err != nil {
			logger.Fatal("rate limiter initialization failed", zap.Error(err))
		}
		dispatchSvc.SetRateLimiter(limiter)
	}

	worker, err := service.NewWorker(
		dispatchSvc,
		time.Duration(cfg.WorkerIntervalMS)*time.Millisecond,
		logger,
	)
	if err != nil {
		logger.Fatal("worker initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterNotificationRoutes(app, enqueueSvc, jobRepo, logRepo); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("notify-outbox api started",
			zap.Int("port", cfg.APIPort),
			zap.String("provider", emailProvider.Name()),
		)
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		logger.Info("dispatch worker started",
			zap.Int("batchSize", cfg.WorkerBatchSize),
			zap.Int("intervalMs", cfg.WorkerIntervalMS),
		)
		return worker.Start(groupCtx)
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("service exited with error", zap.Error(err))
	}

	logger.Info("notify-outbox stopped")
}

func buildProvider(cfg *config.Config, logger *zap.Logger) (provider.Provider, error) {
	switch cfg.EmailProvider {
	case "sendgrid":
		return provider.NewSendGridProvider(provider.SendGridConfig{
			APIKey:      cfg.SendGridAPIKey,
			FromAddress: cfg.EmailFromAddress,
			FromName:    cfg.EmailFromName,
			Endpoint:    cfg.SendGridEndpoint,
		}), nil
	case "console":
		return provider.NewConsoleProvider(logger), nil
	default:
		return nil, fmt.Errorf("unsupported email provider %q", cfg.EmailProvider)
	}
}
