package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/foodops-backend/pkg/enums"
)

// CommunicationEvent is a queued outbound notification, unique per dedupe key.
type CommunicationEvent struct {
	ID                uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	DedupeKey         string                    `gorm:"column:dedupe_key;not null;uniqueIndex" json:"dedupe_key"`
	EventType         string                    `gorm:"column:event_type;not null" json:"event_type"`
	Recipient         string                    `gorm:"column:recipient;not null" json:"recipient"`
	TemplateKey       string                    `gorm:"column:template_key;not null" json:"template_key"`
	TemplateVariables datatypes.JSON            `gorm:"column:template_variables;type:jsonb" json:"template_variables"`
	Status            enums.CommunicationStatus `gorm:"column:status;type:text;not null" json:"status"`
	RetryCount        int                       `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	ErrorDetail       *string                   `gorm:"column:error_detail" json:"error_detail"`
	Source            string                    `gorm:"column:source;not null" json:"source"`
	Priority          int                       `gorm:"column:priority;not null;default:0" json:"priority"`
	OrderID           *uuid.UUID                `gorm:"column:order_id;type:uuid" json:"order_id"`
	ClaimToken        *string                   `gorm:"column:claim_token" json:"-"`
	ClaimedAt         *time.Time                `gorm:"column:claimed_at" json:"claimed_at"`
	SentAt            *time.Time                `gorm:"column:sent_at" json:"sent_at"`
	DeliveredAt       *time.Time                `gorm:"column:delivered_at" json:"delivered_at"`
	ArchivedAt        *time.Time                `gorm:"column:archived_at" json:"archived_at"`
	CreatedAt         time.Time                 `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
	UpdatedAt         time.Time                 `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at"`
}

func (CommunicationEvent) TableName() string { return "communication_events" }
