package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/foodops-backend/api/controllers"
	lockcontrollers "github.com/angelmondragon/foodops-backend/api/controllers/locks"
	ordercontrollers "github.com/angelmondragon/foodops-backend/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/foodops-backend/api/controllers/payments"
	webhookcontrollers "github.com/angelmondragon/foodops-backend/api/controllers/webhooks"
	"github.com/angelmondragon/foodops-backend/api/middleware"
	"github.com/angelmondragon/foodops-backend/internal/orders"
	"github.com/angelmondragon/foodops-backend/pkg/config"
	"github.com/angelmondragon/foodops-backend/pkg/enums"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
)

// Store is the Redis surface the HTTP layer needs.
type Store interface {
	middleware.ResponseStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

type paymentsService interface {
	paymentcontrollers.Recorder
	paymentcontrollers.Reconciler
}

type notificationService interface {
	controllers.NotificationQueue
	webhookcontrollers.DeliveryReporter
}

// Services groups the domain services routed by the API.
type Services struct {
	Orders              orders.Service
	Locks               lockcontrollers.Manager
	Payments            paymentsService
	Notifications       notificationService
	PaymentWebhook      webhookcontrollers.PaymentWebhookService
	PaymentWebhookGuard webhookcontrollers.WebhookGuard
	MetricsHandler      http.Handler
	ReadyChecks         map[string]controllers.Pinger
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	store Store,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.CORSAllowedOrigins),
	)

	lockPolicy := middleware.NewRateLimitPolicy("order_lock", cfg.HTTP.LockRateWindow, cfg.HTTP.LockRateLimit)
	lockLimit := middleware.ActorRateLimit(lockPolicy, store, logg)

	readyDeps := map[string]controllers.Pinger{"database": dbP, "redis": store}
	for name, dep := range svc.ReadyChecks {
		readyDeps[name] = dep
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readyDeps))
	})

	metricsHandler := svc.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/payments", webhookcontrollers.PaymentWebhook(svc.PaymentWebhook, cfg.Payments.WebhookSecret, svc.PaymentWebhookGuard, logg))
			r.Post("/notifications", webhookcontrollers.DeliveryWebhook(svc.Notifications, cfg.Notifications.WebhookSecret, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.Idempotency(store, logg))
			r.Post("/payments/verify", paymentcontrollers.Verify(svc.Payments, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireActorKind(logg, enums.ActorKindAdmin))
		r.Use(middleware.Idempotency(store, logg))

		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Get("/", ordercontrollers.Detail(svc.Orders, logg))
			r.Get("/history", ordercontrollers.History(svc.Orders, logg))
			r.Post("/status", ordercontrollers.ChangeStatus(svc.Orders, logg))
			r.Post("/courier", ordercontrollers.AssignCourier(svc.Orders, logg))

			r.Route("/lock", func(r chi.Router) {
				r.Get("/", lockcontrollers.Detail(svc.Locks, logg))
				r.With(lockLimit).Post("/", lockcontrollers.Acquire(svc.Locks, logg))
				r.With(lockLimit).Post("/renew", lockcontrollers.Renew(svc.Locks, logg))
				r.Delete("/", lockcontrollers.Release(svc.Locks, logg))
			})
		})
	})

	r.Route("/api/internal/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireActorKind(logg, enums.ActorKindSystem))
		r.Use(middleware.Idempotency(store, logg))

		r.Post("/orders", ordercontrollers.Create(svc.Orders, logg))
		r.Post("/orders/{orderId}/status", ordercontrollers.ChangeStatus(svc.Orders, logg))
		r.Post("/notifications", controllers.EnqueueNotification(svc.Notifications, logg))
		r.Get("/notifications/{notificationId}", controllers.GetNotification(svc.Notifications, logg))
		r.Post("/payments/reconcile", paymentcontrollers.Reconcile(svc.Payments, logg))
	})

	return r
}
