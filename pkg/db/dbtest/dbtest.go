// Package dbtest opens in-memory sqlite databases carrying the order schema
// for repository and service tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/angelmondragon/foodops-backend/pkg/db/models"
	"github.com/angelmondragon/foodops-backend/pkg/enums"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL UNIQUE,
  fulfillment_type TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  payment_status TEXT NOT NULL DEFAULT 'pending',
  assigned_courier_id TEXT,
  customer_contact TEXT NOT NULL,
  total TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  payment_reference TEXT,
  needs_reconciliation INTEGER NOT NULL DEFAULT 0,
  reconciliation_note TEXT,
  paid_at DATETIME,
  confirmed_at DATETIME,
  delivered_at DATETIME,
  completed_at DATETIME,
  cancelled_at DATETIME,
  archived_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  CHECK (payment_status <> 'paid' OR paid_at IS NOT NULL)
);`, `
CREATE TABLE IF NOT EXISTS order_status_history (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  from_status TEXT,
  to_status TEXT NOT NULL,
  actor_id TEXT NOT NULL,
  actor_kind TEXT NOT NULL,
  source TEXT NOT NULL,
  override INTEGER NOT NULL DEFAULT 0,
  reason TEXT,
  metadata TEXT,
  created_at DATETIME,
  FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE RESTRICT
);`, `
CREATE TABLE IF NOT EXISTS payment_transactions (
  id TEXT PRIMARY KEY,
  provider_reference TEXT NOT NULL UNIQUE,
  order_id TEXT,
  order_reference TEXT,
  amount TEXT NOT NULL,
  currency TEXT NOT NULL,
  status TEXT NOT NULL,
  channel TEXT NOT NULL,
  paid_at DATETIME,
  provider_metadata TEXT,
  reconciled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE RESTRICT
);`, `
CREATE TABLE IF NOT EXISTS order_locks (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  holder_id TEXT NOT NULL,
  acquired_at DATETIME NOT NULL,
  expires_at DATETIME NOT NULL,
  released_at DATETIME,
  release_reason TEXT,
  FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE RESTRICT
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS order_locks_active_order_key ON order_locks (order_id) WHERE released_at IS NULL;`, `
CREATE TABLE IF NOT EXISTS communication_events (
  id TEXT PRIMARY KEY,
  dedupe_key TEXT NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  recipient TEXT NOT NULL,
  template_key TEXT NOT NULL,
  template_variables TEXT,
  status TEXT NOT NULL DEFAULT 'queued',
  retry_count INTEGER NOT NULL DEFAULT 0,
  error_detail TEXT,
  source TEXT NOT NULL,
  priority INTEGER NOT NULL DEFAULT 0,
  order_id TEXT,
  claim_token TEXT,
  claimed_at DATETIME,
  sent_at DATETIME,
  delivered_at DATETIME,
  archived_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE SET NULL
);`,
}

// Open returns a private in-memory database with every table created and
// foreign keys enforced as in the migrations. The pool is pinned to one
// connection so concurrent callers serialize like row locks.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared&_foreign_keys=1", name, uuid.NewString()[:8])
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, conn.Exec("PRAGMA foreign_keys = ON").Error)
	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

// Clock is a settable time source for services that take a now func.
type Clock struct {
	Current time.Time
}

func NewClock() *Clock {
	return &Clock{Current: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time { return c.Current }

func (c *Clock) Advance(d time.Duration) { c.Current = c.Current.Add(d) }

// OrderOption customises SeedOrder.
type OrderOption func(*models.Order)

func WithStatus(status enums.OrderStatus) OrderOption {
	return func(o *models.Order) { o.Status = status }
}

func WithFulfillment(ft enums.FulfillmentType) OrderOption {
	return func(o *models.Order) { o.FulfillmentType = ft }
}

func WithCourier(courierID string) OrderOption {
	return func(o *models.Order) { o.AssignedCourierID = &courierID }
}

func WithTotal(total string) OrderOption {
	return func(o *models.Order) { o.Total = decimal.RequireFromString(total) }
}

// SeedOrder inserts a pending, unpaid delivery order.
func SeedOrder(t *testing.T, conn *gorm.DB, opts ...OrderOption) *models.Order {
	t.Helper()
	now := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	order := &models.Order{
		ID:              uuid.New(),
		OrderNumber:     "FO-" + strings.ToUpper(uuid.NewString()[:8]),
		FulfillmentType: enums.FulfillmentTypeDelivery,
		Status:          enums.OrderStatusPending,
		PaymentStatus:   enums.OrderPaymentStatusPending,
		CustomerContact: "customer@example.com",
		Total:           decimal.RequireFromString("42.50"),
		Currency:        "USD",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, opt := range opts {
		opt(order)
	}
	require.NoError(t, conn.Create(order).Error)
	return order
}
