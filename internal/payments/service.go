package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/foodops-backend/internal/notifications"
	"github.com/angelmondragon/foodops-backend/internal/orders"
	"github.com/angelmondragon/foodops-backend/pkg/db/models"
	"github.com/angelmondragon/foodops-backend/pkg/enums"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
	"github.com/angelmondragon/foodops-backend/pkg/metrics"
)

const (
	EventPaymentConfirmed = "payment_confirmed"
	EventPaymentFailed    = "payment_failed"

	SourceWebhook   = "webhook"
	SourceVerify    = "verify"
	SourceReconcile = "reconcile"

	defaultActorID  = "payment-provider"
	defaultChannel  = "online"
	defaultCurrency = "USD"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type transitioner interface {
	Apply(ctx context.Context, tx *gorm.DB, req orders.TransitionRequest) (*orders.TransitionResult, error)
	FlagReconciliation(ctx context.Context, tx *gorm.DB, order *models.Order, actor orders.Actor, source, note string) error
}

type notifier interface {
	EnqueueTx(ctx context.Context, tx *gorm.DB, req notifications.Request) notifications.Result
}

// RecordInput is one observation of a provider payment attempt. The order is
// identified by OrderID, or by OrderReference holding an order id or number.
type RecordInput struct {
	ProviderReference string
	OrderID           *uuid.UUID
	OrderReference    string
	Amount            decimal.Decimal
	Currency          string
	Status            enums.TransactionStatus
	Channel           string
	PaidAt            *time.Time
	Payload           json.RawMessage
	Source            string
	ActorID           string
}

// RecordResult reports the merged transaction and what convergence did.
// OrderNotFound, AmountMismatch and TransitionRejected are soft outcomes.
type RecordResult struct {
	Transaction        *models.PaymentTransaction `json:"transaction"`
	Order              *models.Order              `json:"order,omitempty"`
	Applied            bool                       `json:"applied"`
	OrderPaid          bool                       `json:"order_paid"`
	OrderNotFound      bool                       `json:"order_not_found"`
	AmountMismatch     bool                       `json:"amount_mismatch"`
	TransitionRejected bool                       `json:"transition_rejected"`
	Notification       *notifications.Result      `json:"notification,omitempty"`
}

type ServiceParams struct {
	Repo       Repository
	OrdersRepo orders.Repository
	Machine    transitioner
	Notifier   notifier
	Tx         txRunner
	Logger     *logger.Logger
	Metrics    *metrics.DomainMetrics
	Now        func() time.Time
}

// Service converges provider payment observations into orders exactly once.
type Service struct {
	repo     Repository
	orders   orders.Repository
	machine  transitioner
	notifier notifier
	tx       txRunner
	logg     *logger.Logger
	metrics  *metrics.DomainMetrics
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.OrdersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Machine == nil {
		return nil, fmt.Errorf("state machine required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:     params.Repo,
		orders:   params.OrdersRepo,
		machine:  params.Machine,
		notifier: params.Notifier,
		tx:       params.Tx,
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      now,
	}, nil
}

// RecordPaymentAttempt upserts the transaction and, in the same database
// transaction, converges the linked order.
func (s *Service) RecordPaymentAttempt(ctx context.Context, input RecordInput) (*RecordResult, error) {
	input.ProviderReference = strings.TrimSpace(input.ProviderReference)
	if input.ProviderReference == "" {
		return nil, toAPIError(ErrMissingReference)
	}
	if !input.Status.IsValid() {
		return nil, toAPIError(fmt.Errorf("%w: %q", ErrInvalidStatus, input.Status))
	}
	if input.Amount.IsNegative() {
		return nil, toAPIError(ErrInvalidAmount)
	}

	ctx = s.logg.WithField(ctx, "provider_reference", input.ProviderReference)
	var result *RecordResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.record(ctx, tx, input)
		return err
	})
	if err != nil {
		s.metrics.PaymentAttempt(input.Status.String(), metrics.OutcomeError)
		s.logg.Error(ctx, "record payment attempt failed", err)
		return nil, toAPIError(err)
	}
	s.metrics.PaymentAttempt(input.Status.String(), outcomeOf(result))
	return result, nil
}

func (s *Service) record(ctx context.Context, tx *gorm.DB, input RecordInput) (*RecordResult, error) {
	repo := s.repo.WithTx(tx)
	ordersRepo := s.orders.WithTx(tx)

	order, err := s.resolveOrder(ctx, ordersRepo, input)
	if err != nil {
		return nil, err
	}

	now := s.now()
	txn := s.buildTransaction(input, order, now)
	n, err := repo.Upsert(ctx, txn)
	if err != nil {
		return nil, err
	}
	stored, err := repo.FindByReference(ctx, input.ProviderReference)
	if err != nil {
		return nil, err
	}
	if stored.OrderID == nil && order != nil {
		if _, err := repo.LinkOrder(ctx, stored.ID, order.ID, now); err != nil {
			return nil, err
		}
		stored.OrderID = &order.ID
	}

	result := &RecordResult{Transaction: stored, Applied: n > 0}
	if stored.OrderID == nil {
		result.OrderNotFound = true
		s.logg.Warn(s.logg.WithField(ctx, "order_reference", input.OrderReference), "payment references unknown order")
		return result, nil
	}
	if order == nil || order.ID != *stored.OrderID {
		order, err = ordersRepo.FindByIDForUpdate(ctx, *stored.OrderID)
		if err != nil {
			return nil, err
		}
	}

	if err := s.converge(ctx, tx, stored, order, sourceOf(input), actorOf(input), result); err != nil {
		return nil, err
	}
	return result, nil
}

// converge applies the transaction status to its order. State machine
// refusals flag the order instead of failing.
func (s *Service) converge(ctx context.Context, tx *gorm.DB, txn *models.PaymentTransaction, order *models.Order, source string, actor orders.Actor, result *RecordResult) error {
	ordersRepo := s.orders.WithTx(tx)
	now := s.now()
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	result.Order = order

	switch txn.Status {
	case enums.TransactionStatusSuccess:
		if !txn.Amount.Equal(order.Total) {
			result.AmountMismatch = true
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"amount":      txn.Amount.String(),
				"order_total": order.Total.String(),
			}), "payment amount does not match order total")
		}

		paidAt := now
		if txn.PaidAt != nil {
			paidAt = txn.PaidAt.UTC()
		}
		n, err := ordersRepo.MarkPaid(ctx, order.ID, txn.ProviderReference, paidAt, now)
		if err != nil {
			return err
		}
		if n > 0 {
			result.OrderPaid = true
			order.PaymentStatus = enums.OrderPaymentStatusPaid
			order.PaidAt = &paidAt
			order.PaymentReference = &txn.ProviderReference
		}
		if order.PaymentStatus != enums.OrderPaymentStatusPaid {
			return nil
		}

		if !pastPending(order.Status) {
			if err := s.transition(ctx, tx, order, enums.OrderStatusConfirmed, source, actor, result); err != nil {
				return err
			}
		}
		if !result.TransitionRejected {
			if err := s.markConverged(ctx, tx, txn, order, now); err != nil {
				return err
			}
		}
		if result.OrderPaid {
			res := s.notifier.EnqueueTx(ctx, tx, paymentNotification(EventPaymentConfirmed, txn, order))
			result.Notification = &res
		}

	case enums.TransactionStatusFailed:
		n, err := ordersRepo.MarkPaymentFailed(ctx, order.ID, txn.ProviderReference, now)
		if err != nil {
			return err
		}
		if n > 0 {
			order.PaymentStatus = enums.OrderPaymentStatusFailed
			res := s.notifier.EnqueueTx(ctx, tx, paymentNotification(EventPaymentFailed, txn, order))
			result.Notification = &res
		}

	case enums.TransactionStatusRefunded:
		n, err := ordersRepo.MarkPaymentRefunded(ctx, order.ID, now)
		if err != nil {
			return err
		}
		if n > 0 {
			order.PaymentStatus = enums.OrderPaymentStatusRefunded
		}
		if order.PaymentStatus == enums.OrderPaymentStatusRefunded && order.Status != enums.OrderStatusRefunded {
			if err := s.transition(ctx, tx, order, enums.OrderStatusRefunded, source, actor, result); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) transition(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, source string, actor orders.Actor, result *RecordResult) error {
	applied, err := s.machine.Apply(ctx, tx, orders.TransitionRequest{
		OrderID: order.ID,
		To:      to,
		Actor:   actor,
		Source:  source,
	})
	if err == nil {
		*order = *applied.Order
		return nil
	}
	if !orders.IsRejection(err) {
		return err
	}

	result.TransitionRejected = true
	note := fmt.Sprintf("payment %s: %s", result.Transaction.ProviderReference, err.Error())
	return s.machine.FlagReconciliation(ctx, tx, order, actor, source, note)
}

func (s *Service) markConverged(ctx context.Context, tx *gorm.DB, txn *models.PaymentTransaction, order *models.Order, now time.Time) error {
	if txn.ReconciledAt == nil {
		if err := s.repo.WithTx(tx).MarkReconciled(ctx, txn.ID, now); err != nil {
			return err
		}
		txn.ReconciledAt = &now
	}
	if !order.NeedsReconciliation {
		return nil
	}
	if err := s.orders.WithTx(tx).ClearReconciliation(ctx, order.ID, now); err != nil {
		return err
	}
	order.NeedsReconciliation = false
	order.ReconciliationNote = nil
	return nil
}

func (s *Service) resolveOrder(ctx context.Context, repo orders.Repository, input RecordInput) (*models.Order, error) {
	var (
		order *models.Order
		err   error
	)
	ref := strings.TrimSpace(input.OrderReference)
	switch {
	case input.OrderID != nil:
		order, err = repo.FindByIDForUpdate(ctx, *input.OrderID)
	case ref == "":
		return nil, nil
	default:
		if id, parseErr := uuid.Parse(ref); parseErr == nil {
			order, err = repo.FindByIDForUpdate(ctx, id)
		} else {
			order, err = repo.FindByNumber(ctx, ref)
		}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return order, err
}

func (s *Service) buildTransaction(input RecordInput, order *models.Order, now time.Time) *models.PaymentTransaction {
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" && order != nil {
		currency = order.Currency
	}
	if currency == "" {
		currency = defaultCurrency
	}
	channel := strings.TrimSpace(input.Channel)
	if channel == "" {
		channel = defaultChannel
	}

	txn := &models.PaymentTransaction{
		ID:                uuid.New(),
		ProviderReference: input.ProviderReference,
		Amount:            input.Amount.Round(2),
		Currency:          currency,
		Status:            input.Status,
		Channel:           channel,
		ProviderMetadata:  providerMetadata(input.Payload),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if order != nil {
		txn.OrderID = &order.ID
	}
	switch {
	case strings.TrimSpace(input.OrderReference) != "":
		ref := strings.TrimSpace(input.OrderReference)
		txn.OrderReference = &ref
	case input.OrderID != nil:
		ref := input.OrderID.String()
		txn.OrderReference = &ref
	}
	if input.PaidAt != nil {
		paidAt := input.PaidAt.UTC()
		txn.PaidAt = &paidAt
	}
	return txn
}

func providerMetadata(payload json.RawMessage) datatypes.JSON {
	if len(payload) == 0 {
		return nil
	}
	if json.Valid(payload) {
		return datatypes.JSON(payload)
	}
	wrapped, err := json.Marshal(map[string]string{"raw": string(payload)})
	if err != nil {
		return nil
	}
	return datatypes.JSON(wrapped)
}

func pastPending(status enums.OrderStatus) bool {
	switch status {
	case enums.OrderStatusConfirmed,
		enums.OrderStatusPreparing,
		enums.OrderStatusReady,
		enums.OrderStatusOutForDelivery,
		enums.OrderStatusDelivered,
		enums.OrderStatusCompleted:
		return true
	}
	return false
}

func sourceOf(input RecordInput) string {
	if source := strings.TrimSpace(input.Source); source != "" {
		return source
	}
	return SourceWebhook
}

func actorOf(input RecordInput) orders.Actor {
	id := strings.TrimSpace(input.ActorID)
	if id == "" {
		id = defaultActorID
	}
	return orders.Actor{ID: id, Kind: enums.ActorKindPayment}
}

func outcomeOf(result *RecordResult) string {
	switch {
	case result.TransitionRejected || result.OrderNotFound:
		return metrics.OutcomeFlagged
	case result.Applied || result.OrderPaid:
		return metrics.OutcomeApplied
	}
	return metrics.OutcomeNoop
}

func paymentNotification(event string, txn *models.PaymentTransaction, order *models.Order) notifications.Request {
	orderID := order.ID
	return notifications.Request{
		EventType:   event,
		Recipient:   order.CustomerContact,
		TemplateKey: event,
		Variables: map[string]any{
			"order_number": order.OrderNumber,
			"amount":       txn.Amount.StringFixed(2),
			"currency":     txn.Currency,
		},
		OrderID:  &orderID,
		Nonce:    txn.ProviderReference,
		Source:   "payments",
		Priority: 5,
	}
}
