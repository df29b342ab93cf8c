package locks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/foodops-backend/pkg/db/models"
)

const (
	ReasonReleased = "released"
	ReasonExpired  = "expired"
)

// Repository persists order locks. Every mutation is a single conditional
// statement; callers judge the outcome by rows affected.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ExpireActive(ctx context.Context, orderID uuid.UUID, now time.Time) (int64, error)
	Insert(ctx context.Context, lock *models.OrderLock) (bool, error)
	FindActive(ctx context.Context, orderID uuid.UUID) (*models.OrderLock, error)
	FindLatestByHolder(ctx context.Context, orderID uuid.UUID, holderID string) (*models.OrderLock, error)
	Extend(ctx context.Context, orderID uuid.UUID, holderID string, now, expiresAt time.Time) (int64, error)
	Release(ctx context.Context, orderID uuid.UUID, holderID string, now time.Time) (int64, error)
	SweepExpired(ctx context.Context, now time.Time, limit int) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ExpireActive(ctx context.Context, orderID uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderLock{}).
		Where("order_id = ? AND released_at IS NULL AND expires_at <= ?", orderID, now).
		Updates(map[string]any{"released_at": now, "release_reason": ReasonExpired})
	return res.RowsAffected, res.Error
}

// Insert writes lock unless an unreleased lock for the order already exists.
func (r *repository) Insert(ctx context.Context, lock *models.OrderLock) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:     []clause.Column{{Name: "order_id"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "released_at IS NULL"}}},
			DoNothing:   true,
		}).
		Create(lock)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindActive(ctx context.Context, orderID uuid.UUID) (*models.OrderLock, error) {
	var lock models.OrderLock
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND released_at IS NULL", orderID).
		First(&lock).Error
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

func (r *repository) FindLatestByHolder(ctx context.Context, orderID uuid.UUID, holderID string) (*models.OrderLock, error) {
	var lock models.OrderLock
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND holder_id = ?", orderID, holderID).
		Order("acquired_at DESC").
		First(&lock).Error
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

func (r *repository) Extend(ctx context.Context, orderID uuid.UUID, holderID string, now, expiresAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderLock{}).
		Where("order_id = ? AND holder_id = ? AND released_at IS NULL AND expires_at > ?", orderID, holderID, now).
		Update("expires_at", expiresAt)
	return res.RowsAffected, res.Error
}

func (r *repository) Release(ctx context.Context, orderID uuid.UUID, holderID string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderLock{}).
		Where("order_id = ? AND holder_id = ? AND released_at IS NULL", orderID, holderID).
		Updates(map[string]any{"released_at": now, "release_reason": ReasonReleased})
	return res.RowsAffected, res.Error
}

func (r *repository) SweepExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	batch := r.db.Model(&models.OrderLock{}).
		Select("id").
		Where("released_at IS NULL AND expires_at <= ?", now).
		Order("expires_at ASC").
		Limit(limit)
	res := r.db.WithContext(ctx).
		Model(&models.OrderLock{}).
		Where("id IN (?) AND released_at IS NULL", batch).
		Updates(map[string]any{"released_at": now, "release_reason": ReasonExpired})
	return res.RowsAffected, res.Error
}
