package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderLock is an advisory edit lease on an order. Rows are retained after
// release for audit.
type OrderLock struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID       uuid.UUID  `gorm:"column:order_id;type:uuid;not null" json:"order_id"`
	HolderID      string     `gorm:"column:holder_id;not null" json:"holder_id"`
	AcquiredAt    time.Time  `gorm:"column:acquired_at;not null" json:"acquired_at"`
	ExpiresAt     time.Time  `gorm:"column:expires_at;not null" json:"expires_at"`
	ReleasedAt    *time.Time `gorm:"column:released_at" json:"released_at"`
	ReleaseReason *string    `gorm:"column:release_reason" json:"release_reason"`
}

func (OrderLock) TableName() string { return "order_locks" }

// Remaining returns how long the lock stays valid after now.
func (l OrderLock) Remaining(now time.Time) time.Duration {
	if l.ReleasedAt != nil || !l.ExpiresAt.After(now) {
		return 0
	}
	return l.ExpiresAt.Sub(now)
}
