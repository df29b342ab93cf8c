package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/foodops-backend/internal/app"
	"github.com/angelmondragon/foodops-backend/internal/cron"
	"github.com/angelmondragon/foodops-backend/pkg/config"
	"github.com/angelmondragon/foodops-backend/pkg/db"
	"github.com/angelmondragon/foodops-backend/pkg/instance"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
	"github.com/angelmondragon/foodops-backend/pkg/metrics"
	"github.com/angelmondragon/foodops-backend/pkg/migrate"
	"github.com/angelmondragon/foodops-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	domain, err := app.NewDomain(app.DomainParams{
		Config:  cfg,
		DB:      dbClient,
		Logger:  logg,
		Metrics: metrics.NewDomainMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to wire domain services", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, domain)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.CronLockKey(cfg.Service.Kind), cfg.Cron.LockTTL, instance.GetID())
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"jobs":        len(registry.Jobs()),
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, domain *app.Domain) (*cron.Registry, error) {
	lockSweep, err := cron.NewLockSweepJob(cron.LockSweepJobParams{
		Logger: logg,
		Locks:  domain.Locks,
	})
	if err != nil {
		return nil, err
	}
	reconcile, err := cron.NewPaymentReconcileJob(cron.PaymentReconcileJobParams{
		Logger:     logg,
		Reconciler: domain.Payments,
		BatchSize:  cfg.Payments.ReconcileBatchSize,
	})
	if err != nil {
		return nil, err
	}
	reclaim, err := cron.NewNotificationReclaimJob(cron.NotificationReclaimJobParams{
		Logger:  logg,
		Queue:   domain.Notifications,
		Timeout: cfg.Notifications.ProcessingTimeout,
	})
	if err != nil {
		return nil, err
	}
	archive, err := cron.NewNotificationArchiveJob(cron.NotificationArchiveJobParams{
		Logger:        logg,
		Queue:         domain.Notifications,
		RetentionDays: cfg.Notifications.RetentionDays,
	})
	if err != nil {
		return nil, err
	}
	registry := cron.NewRegistry(lockSweep, reclaim)
	if err := registry.Register(reconcile, cfg.Cron.ReconcileEvery); err != nil {
		return nil, err
	}
	if err := registry.Register(archive, cfg.Cron.ArchiveEvery); err != nil {
		return nil, err
	}
	return registry, nil
}
