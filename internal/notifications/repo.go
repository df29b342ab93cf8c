package notifications

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/foodops-backend/pkg/db/models"
	"github.com/angelmondragon/foodops-backend/pkg/enums"
)

const maxErrorDetailLen = 1024

var terminalStatuses = []enums.CommunicationStatus{
	enums.CommunicationStatusSent,
	enums.CommunicationStatusDelivered,
	enums.CommunicationStatusBounced,
	enums.CommunicationStatusFailed,
}

// Repository persists communication events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, event *models.CommunicationEvent, maxRetries int) (int64, error)
	FindByDedupeKey(ctx context.Context, key string) (*models.CommunicationEvent, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.CommunicationEvent, error)
	ClaimBatch(ctx context.Context, limit int, token string, now time.Time) ([]models.CommunicationEvent, error)
	MarkSent(ctx context.Context, id uuid.UUID, token string, now time.Time) (int64, error)
	MarkFailed(ctx context.Context, id uuid.UUID, token, detail string, requeue bool, maxRetries int, now time.Time) (int64, error)
	ReportDelivery(ctx context.Context, id uuid.UUID, status enums.CommunicationStatus, detail *string, now time.Time) (int64, error)
	ReclaimStuck(ctx context.Context, cutoff, now time.Time, limit int) (int64, error)
	ArchiveTerminal(ctx context.Context, cutoff, now time.Time, limit int) (int64, error)
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

// Upsert inserts event, or re-queues the existing row for the same dedupe key
// when it failed with retries left. Any other existing row is left untouched
// and zero rows are reported.
func (r *repository) Upsert(ctx context.Context, event *models.CommunicationEvent, maxRetries int) (int64, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "dedupe_key"}},
			DoUpdates: clause.Assignments(map[string]any{
				"status":             enums.CommunicationStatusQueued,
				"error_detail":       nil,
				"claim_token":        nil,
				"claimed_at":         nil,
				"template_variables": gorm.Expr("excluded.template_variables"),
				"updated_at":         gorm.Expr("excluded.updated_at"),
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{
					SQL:  "communication_events.status = ? AND communication_events.retry_count < ?",
					Vars: []any{enums.CommunicationStatusFailed, maxRetries},
				},
			}},
		}).
		Create(event)
	return res.RowsAffected, res.Error
}

func (r *repository) FindByDedupeKey(ctx context.Context, key string) (*models.CommunicationEvent, error) {
	var event models.CommunicationEvent
	if err := r.db.WithContext(ctx).Where("dedupe_key = ?", key).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CommunicationEvent, error) {
	var event models.CommunicationEvent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// ClaimBatch moves up to limit queued events to processing under token.
// Postgres skips rows claimed by concurrent dispatchers.
func (r *repository) ClaimBatch(ctx context.Context, limit int, token string, now time.Time) ([]models.CommunicationEvent, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.CommunicationEvent{}).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ? AND archived_at IS NULL", enums.CommunicationStatusQueued).
		Order("priority DESC").
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Model(&models.CommunicationEvent{}).
		Where("id IN ? AND status = ?", ids, enums.CommunicationStatusQueued).
		Updates(map[string]any{
			"status":      enums.CommunicationStatusProcessing,
			"claim_token": token,
			"claimed_at":  now,
			"updated_at":  now,
		}).Error
	if err != nil {
		return nil, err
	}

	var claimed []models.CommunicationEvent
	err = r.db.WithContext(ctx).
		Where("claim_token = ? AND status = ?", token, enums.CommunicationStatusProcessing).
		Order("priority DESC").
		Order("created_at ASC").
		Find(&claimed).Error
	return claimed, err
}

func (r *repository) MarkSent(ctx context.Context, id uuid.UUID, token string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CommunicationEvent{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, enums.CommunicationStatusProcessing, token).
		Updates(map[string]any{
			"status":       enums.CommunicationStatusSent,
			"sent_at":      now,
			"error_detail": nil,
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}

// MarkFailed records a dispatch failure. With requeue set and retries left the
// event returns to queued; otherwise it rests in failed.
func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, token, detail string, requeue bool, maxRetries int, now time.Time) (int64, error) {
	next := gorm.Expr("?", enums.CommunicationStatusFailed)
	if requeue {
		next = gorm.Expr("CASE WHEN retry_count + 1 < ? THEN ? ELSE ? END",
			maxRetries, enums.CommunicationStatusQueued, enums.CommunicationStatusFailed)
	}
	res := r.db.WithContext(ctx).
		Model(&models.CommunicationEvent{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, enums.CommunicationStatusProcessing, token).
		Updates(map[string]any{
			"status":       next,
			"retry_count":  gorm.Expr("retry_count + 1"),
			"error_detail": truncateDetail(detail),
			"claim_token":  nil,
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ReportDelivery(ctx context.Context, id uuid.UUID, status enums.CommunicationStatus, detail *string, now time.Time) (int64, error) {
	updates := map[string]any{
		"status":     status,
		"updated_at": now,
	}
	if status == enums.CommunicationStatusDelivered {
		updates["delivered_at"] = now
	}
	if detail != nil {
		updates["error_detail"] = truncateDetail(*detail)
	}
	res := r.db.WithContext(ctx).
		Model(&models.CommunicationEvent{}).
		Where("id = ? AND status IN ?", id, []enums.CommunicationStatus{
			enums.CommunicationStatusProcessing,
			enums.CommunicationStatusSent,
		}).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) ReclaimStuck(ctx context.Context, cutoff, now time.Time, limit int) (int64, error) {
	batch := r.db.Model(&models.CommunicationEvent{}).
		Select("id").
		Where("status = ? AND claimed_at <= ?", enums.CommunicationStatusProcessing, cutoff).
		Order("claimed_at ASC").
		Limit(limit)
	res := r.db.WithContext(ctx).
		Model(&models.CommunicationEvent{}).
		Where("id IN (?) AND status = ?", batch, enums.CommunicationStatusProcessing).
		Updates(map[string]any{
			"status":      enums.CommunicationStatusQueued,
			"claim_token": nil,
			"claimed_at":  nil,
			"updated_at":  now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ArchiveTerminal(ctx context.Context, cutoff, now time.Time, limit int) (int64, error) {
	batch := r.db.Model(&models.CommunicationEvent{}).
		Select("id").
		Where("archived_at IS NULL AND status IN ? AND updated_at <= ?", terminalStatuses, cutoff).
		Order("updated_at ASC").
		Limit(limit)
	res := r.db.WithContext(ctx).
		Model(&models.CommunicationEvent{}).
		Where("id IN (?) AND archived_at IS NULL", batch).
		Update("archived_at", now)
	return res.RowsAffected, res.Error
}

// truncateDetail caps detail at maxErrorDetailLen bytes without splitting a
// rune; the column only accepts valid UTF-8.
func truncateDetail(detail string) string {
	detail = strings.ToValidUTF8(detail, "\uFFFD")
	if len(detail) <= maxErrorDetailLen {
		return detail
	}
	cut := maxErrorDetailLen
	for cut > 0 && !utf8.RuneStart(detail[cut]) {
		cut--
	}
	return detail[:cut]
}
