package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/angelmondragon/foodops-backend/pkg/enums"
)

// PaymentTransaction is one provider payment attempt, unique per provider
// reference. OrderID stays nil until OrderReference resolves to an order.
type PaymentTransaction struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ProviderReference string                  `gorm:"column:provider_reference;not null;uniqueIndex" json:"provider_reference"`
	OrderID           *uuid.UUID              `gorm:"column:order_id;type:uuid" json:"order_id"`
	OrderReference    *string                 `gorm:"column:order_reference" json:"order_reference"`
	Amount            decimal.Decimal         `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	Currency          string                  `gorm:"column:currency;type:text;not null" json:"currency"`
	Status            enums.TransactionStatus `gorm:"column:status;type:text;not null" json:"status"`
	Channel           string                  `gorm:"column:channel;not null" json:"channel"`
	PaidAt            *time.Time              `gorm:"column:paid_at" json:"paid_at"`
	ProviderMetadata  datatypes.JSON          `gorm:"column:provider_metadata;type:jsonb" json:"provider_metadata"`
	ReconciledAt      *time.Time              `gorm:"column:reconciled_at" json:"reconciled_at"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at"`
}

func (PaymentTransaction) TableName() string { return "payment_transactions" }
