package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/foodops-backend/pkg/db/models"
	"github.com/angelmondragon/foodops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
	"github.com/angelmondragon/foodops-backend/pkg/metrics"
)

const (
	DefaultMaxRetries = 5
	defaultSource     = "system"
	defaultSweepLimit = 500
)

// Result reasons reported when an enqueue does not produce a queued event.
const (
	ReasonDuplicate      = "duplicate"
	ReasonRetryExhausted = "retry_exhausted"
	ReasonInvalid        = "invalid_request"
	ReasonStorage        = "storage_error"
)

var ErrEventNotFound = errors.New("communication event not found")

// Request describes one outbound notification.
type Request struct {
	EventType   string
	Recipient   string
	TemplateKey string
	Variables   map[string]any
	OrderID     *uuid.UUID
	// DedupeKey overrides the derived key when set.
	DedupeKey string
	// Nonce replaces the time bucket in the derived key, so distinct
	// occurrences inside one bucket are both delivered.
	Nonce    string
	Source   string
	Priority int
}

// Result reports what an enqueue did. Enqueue never fails its caller; a
// storage problem surfaces as Success=false with NonBlocking set.
type Result struct {
	EventID     uuid.UUID `json:"event_id"`
	DedupeKey   string    `json:"dedupe_key"`
	Success     bool      `json:"success"`
	NonBlocking bool      `json:"non_blocking"`
	Skipped     bool      `json:"skipped"`
	Reason      string    `json:"reason,omitempty"`
	Outcome     string    `json:"outcome"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Repo         Repository
	Tx           txRunner
	Logger       *logger.Logger
	Metrics      *metrics.DomainMetrics
	DedupeBucket time.Duration
	MaxRetries   int
	Now          func() time.Time
}

// Service is the deduplicating notification queue.
type Service struct {
	repo       Repository
	tx         txRunner
	logg       *logger.Logger
	metrics    *metrics.DomainMetrics
	bucket     time.Duration
	maxRetries int
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("notification repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	bucket := params.DedupeBucket
	if bucket <= 0 {
		bucket = DefaultDedupeBucket
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:       params.Repo,
		tx:         params.Tx,
		logg:       params.Logger,
		metrics:    params.Metrics,
		bucket:     bucket,
		maxRetries: maxRetries,
		now:        now,
	}, nil
}

func (s *Service) MaxRetries() int { return s.maxRetries }

// Enqueue records req in its own transaction.
func (s *Service) Enqueue(ctx context.Context, req Request) Result {
	var res Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		res, err = s.enqueue(ctx, s.repo.WithTx(tx), req)
		return err
	})
	return s.finish(ctx, req, res, err)
}

// EnqueueTx records req inside the caller's transaction under a savepoint, so
// a failed enqueue rolls back alone and the caller's work still commits.
func (s *Service) EnqueueTx(ctx context.Context, tx *gorm.DB, req Request) Result {
	if tx == nil {
		return s.Enqueue(ctx, req)
	}
	var res Result
	err := tx.Transaction(func(sp *gorm.DB) error {
		var err error
		res, err = s.enqueue(ctx, s.repo.WithTx(sp), req)
		return err
	})
	return s.finish(ctx, req, res, err)
}

func (s *Service) enqueue(ctx context.Context, repo Repository, req Request) (Result, error) {
	if err := validateRequest(req); err != nil {
		return Result{Reason: ReasonInvalid}, err
	}

	now := s.now()
	event, err := s.buildEvent(req, now)
	if err != nil {
		return Result{Reason: ReasonInvalid}, err
	}

	n, err := repo.Upsert(ctx, event, s.maxRetries)
	if err != nil {
		return Result{DedupeKey: event.DedupeKey, Reason: ReasonStorage}, err
	}
	stored, err := repo.FindByDedupeKey(ctx, event.DedupeKey)
	if err != nil {
		return Result{DedupeKey: event.DedupeKey, Reason: ReasonStorage}, err
	}

	res := Result{EventID: stored.ID, DedupeKey: stored.DedupeKey, Success: true}
	switch {
	case n > 0 && stored.ID == event.ID:
		res.Outcome = metrics.OutcomeCreated
	case n > 0:
		res.Outcome = metrics.OutcomeRequeued
	default:
		res.Outcome = metrics.OutcomeSkipped
		res.Skipped = true
		res.Reason = ReasonDuplicate
		if stored.Status == enums.CommunicationStatusFailed {
			res.Reason = ReasonRetryExhausted
		}
	}
	return res, nil
}

func (s *Service) finish(ctx context.Context, req Request, res Result, err error) Result {
	if err == nil {
		s.metrics.NotificationEnqueue(res.Outcome)
		if res.Skipped {
			ctx = s.logg.WithFields(ctx, map[string]any{
				"event_type": req.EventType,
				"dedupe_key": res.DedupeKey,
				"reason":     res.Reason,
			})
			s.logg.Debug(ctx, "notification deduplicated")
		}
		return res
	}

	s.metrics.NotificationEnqueue(metrics.OutcomeError)
	fields := map[string]any{"event_type": req.EventType, "template_key": req.TemplateKey}
	if req.OrderID != nil {
		fields["order_id"] = req.OrderID.String()
	}
	s.logg.Error(s.logg.WithFields(ctx, fields), "notification enqueue failed", err)
	res.Success = false
	res.NonBlocking = true
	res.Outcome = metrics.OutcomeError
	if res.Reason == "" {
		res.Reason = ReasonStorage
	}
	return res
}

func (s *Service) buildEvent(req Request, now time.Time) (*models.CommunicationEvent, error) {
	var vars datatypes.JSON
	if len(req.Variables) > 0 {
		raw, err := json.Marshal(req.Variables)
		if err != nil {
			return nil, fmt.Errorf("encode template variables: %w", err)
		}
		vars = datatypes.JSON(raw)
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = defaultSource
	}
	return &models.CommunicationEvent{
		ID:                uuid.New(),
		DedupeKey:         DedupeKey(req, now, s.bucket),
		EventType:         strings.TrimSpace(req.EventType),
		Recipient:         strings.TrimSpace(req.Recipient),
		TemplateKey:       strings.TrimSpace(req.TemplateKey),
		TemplateVariables: vars,
		Status:            enums.CommunicationStatusQueued,
		Source:            source,
		Priority:          req.Priority,
		OrderID:           req.OrderID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func validateRequest(req Request) error {
	switch {
	case strings.TrimSpace(req.EventType) == "":
		return fmt.Errorf("event type is required")
	case strings.TrimSpace(req.Recipient) == "":
		return fmt.Errorf("recipient is required")
	case strings.TrimSpace(req.TemplateKey) == "":
		return fmt.Errorf("template key is required")
	}
	return nil
}

// Get returns a single event.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.CommunicationEvent, error) {
	event, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrEventNotFound, "notification not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load notification")
	}
	return event, nil
}

// ClaimBatch hands up to limit queued events to a dispatcher. The returned
// token must accompany MarkSent and MarkFailed.
func (s *Service) ClaimBatch(ctx context.Context, limit int) ([]models.CommunicationEvent, string, error) {
	if limit <= 0 {
		limit = 50
	}
	token := uuid.NewString()
	var claimed []models.CommunicationEvent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		claimed, err = s.repo.WithTx(tx).ClaimBatch(ctx, limit, token, s.now())
		return err
	})
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim notifications")
	}
	return claimed, token, nil
}

// MarkSent records a successful hand-off to the delivery provider.
func (s *Service) MarkSent(ctx context.Context, id uuid.UUID, token string) error {
	n, err := s.repo.MarkSent(ctx, id, token, s.now())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification sent")
	}
	if n == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "notification claim lost")
	}
	return nil
}

// MarkFailed records a dispatch failure. Retryable failures go back to the
// queue until the retry budget is spent.
func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID, token string, cause error, retryable bool) error {
	detail := "unknown error"
	if cause != nil {
		detail = cause.Error()
	}
	n, err := s.repo.MarkFailed(ctx, id, token, detail, retryable, s.maxRetries, s.now())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification failed")
	}
	if n == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "notification claim lost")
	}
	return nil
}

// ReportDelivery applies a provider delivery receipt. Receipts for events
// already in a final state are ignored.
func (s *Service) ReportDelivery(ctx context.Context, id uuid.UUID, status enums.CommunicationStatus, detail *string) error {
	if status != enums.CommunicationStatusDelivered && status != enums.CommunicationStatusBounced {
		return pkgerrors.New(pkgerrors.CodeValidation, "delivery status must be delivered or bounced")
	}
	n, err := s.repo.ReportDelivery(ctx, id, status, detail, s.now())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record delivery receipt")
	}
	if n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return nil
}

// ReclaimStuck requeues events left in processing longer than timeout.
func (s *Service) ReclaimStuck(ctx context.Context, timeout time.Duration) (int64, error) {
	now := s.now()
	n, err := s.repo.ReclaimStuck(ctx, now.Add(-timeout), now, defaultSweepLimit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reclaim notifications")
	}
	return n, nil
}

// ArchiveTerminal hides finished events older than retention.
func (s *Service) ArchiveTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	now := s.now()
	n, err := s.repo.ArchiveTerminal(ctx, now.Add(-retention), now, defaultSweepLimit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "archive notifications")
	}
	return n, nil
}
