package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/foodops-backend/pkg/enums"
)

// Order is the aggregate guarded by the status machine. Status, payment status
// and courier assignment are only written through internal/orders and
// internal/payments.
type Order struct {
	ID                  uuid.UUID                `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderNumber         string                   `gorm:"column:order_number;not null;uniqueIndex" json:"order_number"`
	FulfillmentType     enums.FulfillmentType    `gorm:"column:fulfillment_type;type:text;not null" json:"fulfillment_type"`
	Status              enums.OrderStatus        `gorm:"column:status;type:text;not null;default:'pending'" json:"status"`
	PaymentStatus       enums.OrderPaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'" json:"payment_status"`
	AssignedCourierID   *string                  `gorm:"column:assigned_courier_id" json:"assigned_courier_id"`
	CustomerContact     string                   `gorm:"column:customer_contact;not null" json:"customer_contact"`
	Total               decimal.Decimal          `gorm:"column:total;type:numeric(12,2);not null" json:"total"`
	Currency            string                   `gorm:"column:currency;type:text;not null;default:'USD'" json:"currency"`
	PaymentReference    *string                  `gorm:"column:payment_reference" json:"payment_reference"`
	NeedsReconciliation bool                     `gorm:"column:needs_reconciliation;not null;default:false" json:"needs_reconciliation"`
	ReconciliationNote  *string                  `gorm:"column:reconciliation_note" json:"reconciliation_note"`
	PaidAt              *time.Time               `gorm:"column:paid_at" json:"paid_at"`
	ConfirmedAt         *time.Time               `gorm:"column:confirmed_at" json:"confirmed_at"`
	DeliveredAt         *time.Time               `gorm:"column:delivered_at" json:"delivered_at"`
	CompletedAt         *time.Time               `gorm:"column:completed_at" json:"completed_at"`
	CancelledAt         *time.Time               `gorm:"column:cancelled_at" json:"cancelled_at"`
	ArchivedAt          *time.Time               `gorm:"column:archived_at" json:"archived_at"`
	CreatedAt           time.Time                `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
	UpdatedAt           time.Time                `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }
