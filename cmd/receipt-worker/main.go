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
	"github.com/angelmondragon/foodops-backend/internal/notifications"
	"github.com/angelmondragon/foodops-backend/pkg/config"
	"github.com/angelmondragon/foodops-backend/pkg/db"
	"github.com/angelmondragon/foodops-backend/pkg/instance"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
	"github.com/angelmondragon/foodops-backend/pkg/metrics"
	"github.com/angelmondragon/foodops-backend/pkg/pubsub"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "receipt-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "receipt-worker"

	logg = logger.New(logger.Options{
		ServiceName: "receipt-worker",
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

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
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

	consumer, err := notifications.NewReceiptConsumer(domain.Notifications, pubsubClient.ReceiptSubscriber(), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create receipt consumer", err)
		os.Exit(1)
	}

	svc, err := NewService(ServiceParams{
		Logger:   logg,
		DB:       dbClient,
		PubSub:   pubsubClient,
		Consumer: consumer,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create receipt worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = logg.WithFields(ctx, map[string]any{
		"subscription": cfg.PubSub.ReceiptSubscription,
		"instance":     instance.GetID(),
	})
	logg.Info(ctx, "starting receipt worker")
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "receipt worker stopped", err)
		os.Exit(1)
	}
	logg.Info(ctx, "receipt worker shutting down gracefully")
}
