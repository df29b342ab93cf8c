package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/foodops-backend/pkg/db/models"
	"github.com/angelmondragon/foodops-backend/pkg/enums"
)

// Repository persists orders and their audit history. Status and payment
// status writes are conditional on the current value and report rows touched.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByNumber(ctx context.Context, number string) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from enums.OrderStatus, updates map[string]any) (int64, error)
	AssignCourier(ctx context.Context, id uuid.UUID, courierID string, now time.Time) (int64, error)
	MarkPaid(ctx context.Context, id uuid.UUID, reference string, paidAt, now time.Time) (int64, error)
	MarkPaymentFailed(ctx context.Context, id uuid.UUID, reference string, now time.Time) (int64, error)
	MarkPaymentRefunded(ctx context.Context, id uuid.UUID, now time.Time) (int64, error)
	FlagReconciliation(ctx context.Context, id uuid.UUID, note string, now time.Time) error
	ClearReconciliation(ctx context.Context, id uuid.UUID, now time.Time) error
	AppendHistory(ctx context.Context, entry *models.OrderStatusHistory) error
	ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds a repository to the provided GORM connection.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("order_number = ?", number).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from enums.OrderStatus, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) AssignCourier(ctx context.Context, id uuid.UUID, courierID string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"assigned_courier_id": courierID,
			"updated_at":          now,
		})
	return res.RowsAffected, res.Error
}

// MarkPaid sets payment_status paid together with paid_at. Orders already
// paid or refunded are left alone.
func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, reference string, paidAt, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status IN ?", id, []enums.OrderPaymentStatus{
			enums.OrderPaymentStatusPending,
			enums.OrderPaymentStatusFailed,
		}).
		Updates(map[string]any{
			"payment_status":    enums.OrderPaymentStatusPaid,
			"paid_at":           paidAt,
			"payment_reference": reference,
			"updated_at":        now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) MarkPaymentFailed(ctx context.Context, id uuid.UUID, reference string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", id, enums.OrderPaymentStatusPending).
		Updates(map[string]any{
			"payment_status":    enums.OrderPaymentStatusFailed,
			"payment_reference": reference,
			"updated_at":        now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) MarkPaymentRefunded(ctx context.Context, id uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", id, enums.OrderPaymentStatusPaid).
		Updates(map[string]any{
			"payment_status": enums.OrderPaymentStatusRefunded,
			"updated_at":     now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) FlagReconciliation(ctx context.Context, id uuid.UUID, note string, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"needs_reconciliation": true,
			"reconciliation_note":  note,
			"updated_at":           now,
		}).Error
}

func (r *repository) ClearReconciliation(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND needs_reconciliation = ?", id, true).
		Updates(map[string]any{
			"needs_reconciliation": false,
			"reconciliation_note":  nil,
			"updated_at":           now,
		}).Error
}

func (r *repository) AppendHistory(ctx context.Context, entry *models.OrderStatusHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	var entries []models.OrderStatusHistory
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}
