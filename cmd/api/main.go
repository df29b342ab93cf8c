package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/foodops-backend/api/routes"
	"github.com/angelmondragon/foodops-backend/internal/app"
	paymentwebhook "github.com/angelmondragon/foodops-backend/internal/webhooks/payments"
	"github.com/angelmondragon/foodops-backend/pkg/config"
	"github.com/angelmondragon/foodops-backend/pkg/db"
	"github.com/angelmondragon/foodops-backend/pkg/instance"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
	"github.com/angelmondragon/foodops-backend/pkg/metrics"
	"github.com/angelmondragon/foodops-backend/pkg/migrate"
	"github.com/angelmondragon/foodops-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	webhookService, err := paymentwebhook.NewService(domain.Payments)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment webhook service", err)
		os.Exit(1)
	}
	webhookGuard, err := paymentwebhook.NewIdempotencyGuard(redisClient, cfg.Payments.WebhookIdempotencyTTL, paymentwebhook.DefaultScope)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment webhook guard", err)
		os.Exit(1)
	}
	if cfg.Payments.WebhookSecret == "" {
		logg.Warn(context.Background(), "payment webhook secret not configured; webhook deliveries will be rejected")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, routes.Services{
			Orders:              domain.Orders,
			Locks:               domain.Locks,
			Payments:            domain.Payments,
			Notifications:       domain.Notifications,
			PaymentWebhook:      webhookService,
			PaymentWebhookGuard: webhookGuard,
		}),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
