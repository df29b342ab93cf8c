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
	"github.com/angelmondragon/foodops-backend/pkg/config"
	"github.com/angelmondragon/foodops-backend/pkg/db"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
	"github.com/angelmondragon/foodops-backend/pkg/metrics"
	"github.com/angelmondragon/foodops-backend/pkg/migrate"
	"github.com/angelmondragon/foodops-backend/pkg/pubsub"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "notification-dispatcher"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "notification-dispatcher"

	logg = logger.New(logger.Options{
		ServiceName: "notification-dispatcher",
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

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
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

	notificationPublisher := pubsubClient.NotificationPublisher()
	defer notificationPublisher.Stop()

	service, err := NewService(ServiceParams{
		Config:    cfg,
		Logger:    logg,
		DB:        dbClient,
		PubSub:    pubsubClient,
		Queue:     domain.Notifications,
		Publisher: newGCPPublisher(notificationPublisher),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification dispatcher", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"topic":       cfg.PubSub.NotificationTopic,
	})
	logg.Info(ctx, "starting notification dispatcher")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "notification dispatcher stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "notification dispatcher shutting down gracefully")
}
