// Package app assembles the order, payment, lock and notification services
// shared by the api, cron-worker and notification-dispatcher binaries.
package app

import (
	"fmt"
	"time"

	"github.com/angelmondragon/foodops-backend/internal/locks"
	"github.com/angelmondragon/foodops-backend/internal/notifications"
	"github.com/angelmondragon/foodops-backend/internal/orders"
	"github.com/angelmondragon/foodops-backend/internal/payments"
	"github.com/angelmondragon/foodops-backend/pkg/config"
	"github.com/angelmondragon/foodops-backend/pkg/db"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
	"github.com/angelmondragon/foodops-backend/pkg/metrics"
)

type DomainParams struct {
	Config  *config.Config
	DB      *db.Client
	Logger  *logger.Logger
	Metrics *metrics.DomainMetrics
	// Now overrides the service clock; tests pin it.
	Now func() time.Time
}

type Domain struct {
	OrdersRepo    orders.Repository
	Machine       *orders.StateMachine
	Orders        orders.Service
	Locks         *locks.Manager
	Payments      *payments.Service
	Notifications *notifications.Service
}

func NewDomain(params DomainParams) (*Domain, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	conn := params.DB.DB()

	lockManager, err := locks.NewManager(locks.ManagerParams{
		Repo:       locks.NewRepository(conn),
		Tx:         params.DB,
		Logger:     params.Logger,
		Metrics:    params.Metrics,
		DefaultTTL: cfg.Locks.DefaultTTL,
		MaxTTL:     cfg.Locks.MaxTTL,
		Now:        params.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("lock manager: %w", err)
	}

	notificationService, err := notifications.NewService(notifications.ServiceParams{
		Repo:         notifications.NewRepository(conn),
		Tx:           params.DB,
		Logger:       params.Logger,
		Metrics:      params.Metrics,
		DedupeBucket: cfg.Notifications.DedupeBucket,
		MaxRetries:   cfg.Notifications.MaxRetries,
		Now:          params.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("notification service: %w", err)
	}

	ordersRepo := orders.NewRepository(conn)
	machine, err := orders.NewStateMachine(orders.StateMachineParams{
		Repo:    ordersRepo,
		Logger:  params.Logger,
		Metrics: params.Metrics,
		Now:     params.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("state machine: %w", err)
	}

	orderService, err := orders.NewService(orders.ServiceParams{
		Repo:     ordersRepo,
		Tx:       params.DB,
		Machine:  machine,
		Locks:    lockManager,
		Notifier: notificationService,
		Logger:   params.Logger,
		Now:      params.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}

	paymentService, err := payments.NewService(payments.ServiceParams{
		Repo:       payments.NewRepository(conn),
		OrdersRepo: ordersRepo,
		Machine:    machine,
		Notifier:   notificationService,
		Tx:         params.DB,
		Logger:     params.Logger,
		Metrics:    params.Metrics,
		Now:        params.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("payment service: %w", err)
	}

	return &Domain{
		OrdersRepo:    ordersRepo,
		Machine:       machine,
		Orders:        orderService,
		Locks:         lockManager,
		Payments:      paymentService,
		Notifications: notificationService,
	}, nil
}
