package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/foodops-backend/pkg/enums"
)

// OrderStatusHistory is the append-only audit trail of order mutations.
type OrderStatusHistory struct {
	ID         uuid.UUID          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID    uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index:idx_order_status_history_order" json:"order_id"`
	Kind       enums.HistoryKind  `gorm:"column:kind;type:text;not null" json:"kind"`
	FromStatus *enums.OrderStatus `gorm:"column:from_status;type:text" json:"from_status"`
	ToStatus   enums.OrderStatus  `gorm:"column:to_status;type:text;not null" json:"to_status"`
	ActorID    string             `gorm:"column:actor_id;not null" json:"actor_id"`
	ActorKind  enums.ActorKind    `gorm:"column:actor_kind;type:text;not null" json:"actor_kind"`
	Source     string             `gorm:"column:source;not null" json:"source"`
	Override   bool               `gorm:"column:override;not null;default:false" json:"override"`
	Reason     *string            `gorm:"column:reason" json:"reason"`
	Metadata   datatypes.JSON     `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CreatedAt  time.Time          `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
}

func (OrderStatusHistory) TableName() string { return "order_status_history" }
