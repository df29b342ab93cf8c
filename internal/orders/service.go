package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/foodops-backend/internal/notifications"
	"github.com/angelmondragon/foodops-backend/pkg/db"
	"github.com/angelmondragon/foodops-backend/pkg/db/models"
	"github.com/angelmondragon/foodops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
)

const (
	EventOrderStatusChanged = "order_status_changed"
	defaultSource           = "orders"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type lockGuard interface {
	Hold(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, holderID string) (func() error, error)
}

type notifier interface {
	EnqueueTx(ctx context.Context, tx *gorm.DB, req notifications.Request) notifications.Result
}

// Service exposes order reads and audited mutations.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListHistory(ctx context.Context, id uuid.UUID) ([]models.OrderStatusHistory, error)
	ChangeStatus(ctx context.Context, input ChangeStatusInput) (*ChangeStatusResult, error)
	AssignCourier(ctx context.Context, input AssignCourierInput) (*models.Order, error)
}

type CreateOrderInput struct {
	OrderNumber     string
	FulfillmentType enums.FulfillmentType
	CustomerContact string
	Total           decimal.Decimal
	Currency        string
	Actor           Actor
}

type ChangeStatusInput struct {
	OrderID  uuid.UUID
	Status   enums.OrderStatus
	Actor    Actor
	Source   string
	Reason   *string
	Override bool
}

// ChangeStatusResult carries the updated order, its audit entry and the
// outcome of the best-effort customer notification.
type ChangeStatusResult struct {
	Order        *models.Order
	Entry        *models.OrderStatusHistory
	Changed      bool
	Notification notifications.Result
}

type AssignCourierInput struct {
	OrderID   uuid.UUID
	CourierID string
	Actor     Actor
}

type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Machine  Transitioner
	Locks    lockGuard
	Notifier notifier
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	repo     Repository
	tx       txRunner
	machine  Transitioner
	locks    lockGuard
	notifier notifier
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Machine == nil {
		return nil, fmt.Errorf("state machine required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock guard required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		machine:  params.Machine,
		locks:    params.Locks,
		notifier: params.Notifier,
		logg:     params.Logger,
		now:      now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if strings.TrimSpace(input.OrderNumber) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	if !input.FulfillmentType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid fulfillment type")
	}
	if strings.TrimSpace(input.CustomerContact) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer contact required")
	}
	if input.Total.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "total must not be negative")
	}
	if err := input.Actor.validate(); err != nil {
		return nil, toAPIError(err)
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "USD"
	}

	now := s.now()
	order := &models.Order{
		ID:              uuid.New(),
		OrderNumber:     strings.TrimSpace(input.OrderNumber),
		FulfillmentType: input.FulfillmentType,
		Status:          enums.OrderStatusPending,
		PaymentStatus:   enums.OrderPaymentStatusPending,
		CustomerContact: strings.TrimSpace(input.CustomerContact),
		Total:           input.Total.Round(2),
		Currency:        currency,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, order); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order number already exists")
			}
			return err
		}
		entry, err := newHistoryEntry(order.ID, enums.HistoryKindStatusChange, nil, enums.OrderStatusPending,
			TransitionRequest{Actor: input.Actor, Source: "checkout"}, now)
		if err != nil {
			return err
		}
		return repo.AppendHistory(ctx, entry)
	})
	if err != nil {
		return nil, toAPIError(err)
	}
	return order, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, toAPIError(ErrOrderNotFound)
	}
	if err != nil {
		return nil, toAPIError(err)
	}
	return order, nil
}

func (s *service) ListHistory(ctx context.Context, id uuid.UUID) ([]models.OrderStatusHistory, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		return nil, toAPIError(err)
	}
	return entries, nil
}

// ChangeStatus applies a requested transition. Admin actors must hold, or be
// able to take, the order edit lock; system and payment actors bypass it.
func (s *service) ChangeStatus(ctx context.Context, input ChangeStatusInput) (*ChangeStatusResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if err := input.Actor.validate(); err != nil {
		return nil, toAPIError(err)
	}
	source := strings.TrimSpace(input.Source)
	if source == "" {
		source = defaultSource
	}

	var result ChangeStatusResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.lockOrder(ctx, s.repo.WithTx(tx), input.OrderID); err != nil {
			return err
		}
		release, err := s.guard(ctx, tx, input.OrderID, input.Actor)
		if err != nil {
			return err
		}

		applied, err := s.machine.Apply(ctx, tx, TransitionRequest{
			OrderID:  input.OrderID,
			To:       input.Status,
			Actor:    input.Actor,
			Source:   source,
			Reason:   input.Reason,
			Override: input.Override,
		})
		if err != nil {
			return err
		}

		result.Order = applied.Order
		result.Entry = applied.Entry
		result.Changed = applied.Changed
		if applied.Changed {
			result.Notification = s.notifier.EnqueueTx(ctx, tx, statusNotification(applied))
		}
		return release()
	})
	if err != nil {
		s.logRejection(ctx, input, err)
		return nil, toAPIError(err)
	}
	return &result, nil
}

// AssignCourier sets or replaces the courier on a delivery order.
func (s *service) AssignCourier(ctx context.Context, input AssignCourierInput) (*models.Order, error) {
	courierID := strings.TrimSpace(input.CourierID)
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if courierID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "courier id required")
	}
	if err := input.Actor.validate(); err != nil {
		return nil, toAPIError(err)
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		order, err = s.lockOrder(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		release, err := s.guard(ctx, tx, input.OrderID, input.Actor)
		if err != nil {
			return err
		}
		if order.FulfillmentType != enums.FulfillmentTypeDelivery {
			return ErrCourierNotApplicable
		}
		if courierFrozen(order.Status) {
			return ErrCourierFrozen
		}
		if order.AssignedCourierID != nil && *order.AssignedCourierID == courierID {
			return release()
		}

		now := s.now()
		previous := order.AssignedCourierID
		if _, err := repo.AssignCourier(ctx, order.ID, courierID, now); err != nil {
			return err
		}
		order.AssignedCourierID = &courierID
		order.UpdatedAt = now

		metadata := map[string]any{"courier_id": courierID}
		if previous != nil {
			metadata["previous_courier_id"] = *previous
		}
		status := order.Status
		entry, err := newHistoryEntry(order.ID, enums.HistoryKindCourierAssigned, &status, status,
			TransitionRequest{Actor: input.Actor, Source: defaultSource, Metadata: metadata}, now)
		if err != nil {
			return err
		}
		if err := repo.AppendHistory(ctx, entry); err != nil {
			return err
		}
		return release()
	})
	if err != nil {
		return nil, toAPIError(err)
	}
	return order, nil
}

// lockOrder row-locks the order so a missing order fails before any edit lock
// row is written for it.
func (s *service) lockOrder(ctx context.Context, repo Repository, id uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByIDForUpdate(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	return order, err
}

func (s *service) guard(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor Actor) (func() error, error) {
	if !actor.Kind.RequiresLock() {
		return func() error { return nil }, nil
	}
	return s.locks.Hold(ctx, tx, orderID, actor.ID)
}

func courierFrozen(status enums.OrderStatus) bool {
	switch status {
	case enums.OrderStatusDelivered, enums.OrderStatusCompleted, enums.OrderStatusCancelled, enums.OrderStatusRefunded:
		return true
	}
	return false
}

func statusNotification(applied *TransitionResult) notifications.Request {
	order := applied.Order
	orderID := order.ID
	return notifications.Request{
		EventType:   EventOrderStatusChanged,
		Recipient:   order.CustomerContact,
		TemplateKey: "order_status_" + string(order.Status),
		Variables: map[string]any{
			"order_number": order.OrderNumber,
			"from_status":  applied.From,
			"to_status":    order.Status,
		},
		OrderID: &orderID,
		Nonce:   applied.Entry.ID.String(),
		Source:  defaultSource,
	}
}

// logRejection keeps caller-correctable failures out of the error log.
func (s *service) logRejection(ctx context.Context, input ChangeStatusInput, err error) {
	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())
	ctx = s.logg.WithFields(ctx, map[string]any{
		"actor_id":  input.Actor.ID,
		"to_status": input.Status,
		"reason":    err.Error(),
	})
	typed := pkgerrors.As(err)
	if IsRejection(err) || (typed != nil && typed.Code() != pkgerrors.CodeDependency) {
		s.logg.Info(ctx, "order status change rejected")
		return
	}
	s.logg.Error(ctx, "order status change failed", err)
}
