package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/foodops-backend/pkg/db/models"
	"github.com/angelmondragon/foodops-backend/pkg/enums"
)

// Repository persists payment transactions keyed by provider reference.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, txn *models.PaymentTransaction) (int64, error)
	FindByReference(ctx context.Context, reference string) (*models.PaymentTransaction, error)
	LinkOrder(ctx context.Context, id, orderID uuid.UUID, now time.Time) (int64, error)
	MarkReconciled(ctx context.Context, id uuid.UUID, now time.Time) error
	ListUnconverged(ctx context.Context, limit int) ([]models.PaymentTransaction, error)
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

// Upsert inserts txn or merges it into the row with the same provider
// reference. Settled rows are never moved back; success may only become
// refunded and failed never returns to pending. Zero rows means the stored
// row was left as is.
func (r *repository) Upsert(ctx context.Context, txn *models.PaymentTransaction) (int64, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider_reference"}},
			DoUpdates: clause.Assignments(map[string]any{
				"status":            gorm.Expr("excluded.status"),
				"amount":            gorm.Expr("excluded.amount"),
				"currency":          gorm.Expr("excluded.currency"),
				"channel":           gorm.Expr("excluded.channel"),
				"provider_metadata": gorm.Expr("excluded.provider_metadata"),
				"order_id":          gorm.Expr("COALESCE(payment_transactions.order_id, excluded.order_id)"),
				"order_reference":   gorm.Expr("COALESCE(excluded.order_reference, payment_transactions.order_reference)"),
				"paid_at":           gorm.Expr("COALESCE(excluded.paid_at, payment_transactions.paid_at)"),
				"updated_at":        gorm.Expr("excluded.updated_at"),
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{
					SQL: "payment_transactions.status = ? OR (payment_transactions.status = ? AND excluded.status <> ?) OR (payment_transactions.status = ? AND excluded.status = ?)",
					Vars: []any{
						enums.TransactionStatusPending,
						enums.TransactionStatusFailed,
						enums.TransactionStatusPending,
						enums.TransactionStatusSuccess,
						enums.TransactionStatusRefunded,
					},
				},
			}},
		}).
		Create(txn)
	return res.RowsAffected, res.Error
}

func (r *repository) FindByReference(ctx context.Context, reference string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	if err := r.db.WithContext(ctx).Where("provider_reference = ?", reference).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) LinkOrder(ctx context.Context, id, orderID uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ? AND order_id IS NULL", id).
		Updates(map[string]any{"order_id": orderID, "updated_at": now})
	return res.RowsAffected, res.Error
}

func (r *repository) MarkReconciled(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ?", id).
		Update("reconciled_at", now).Error
}

// ListUnconverged returns successful transactions whose order is unknown,
// not yet marked paid, or paid but still pending. Linked rows come first.
func (r *repository) ListUnconverged(ctx context.Context, limit int) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Table("payment_transactions AS t").
		Select("t.*").
		Joins("LEFT JOIN orders o ON o.id = t.order_id").
		Where("t.status = ?", enums.TransactionStatusSuccess).
		Where("(t.order_id IS NULL OR o.payment_status NOT IN (?, ?) OR (o.status = ? AND o.payment_status = ?))",
			enums.OrderPaymentStatusPaid,
			enums.OrderPaymentStatusRefunded,
			enums.OrderStatusPending,
			enums.OrderPaymentStatusPaid,
		).
		Order("t.order_id IS NULL").
		Order("t.created_at ASC").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}
