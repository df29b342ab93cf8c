package orders

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
	"github.com/angelmondragon/foodops-backend/pkg/logger"
	"github.com/angelmondragon/foodops-backend/pkg/metrics"
)

var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:        {enums.OrderStatusConfirmed, enums.OrderStatusCancelled, enums.OrderStatusRefunded, enums.OrderStatusFailed},
	enums.OrderStatusConfirmed:      {enums.OrderStatusPreparing, enums.OrderStatusReady, enums.OrderStatusCancelled, enums.OrderStatusRefunded},
	enums.OrderStatusPreparing:      {enums.OrderStatusReady, enums.OrderStatusCancelled},
	enums.OrderStatusReady:          {enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered, enums.OrderStatusCancelled},
	enums.OrderStatusOutForDelivery: {enums.OrderStatusDelivered, enums.OrderStatusCompleted, enums.OrderStatusCancelled},
	enums.OrderStatusDelivered:      {enums.OrderStatusCompleted, enums.OrderStatusRefunded},
	enums.OrderStatusCompleted:      {enums.OrderStatusRefunded},
	enums.OrderStatusFailed:         {enums.OrderStatusPending, enums.OrderStatusCancelled},
}

// CanTransition reports whether from -> to appears in the transition table.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// AllowedTransitions lists the statuses reachable from status.
func AllowedTransitions(status enums.OrderStatus) []enums.OrderStatus {
	allowed := transitions[status]
	out := make([]enums.OrderStatus, len(allowed))
	copy(out, allowed)
	return out
}

func requiresCourier(order *models.Order, to enums.OrderStatus) bool {
	if order.FulfillmentType != enums.FulfillmentTypeDelivery {
		return false
	}
	switch to {
	case enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered, enums.OrderStatusCompleted:
		return true
	}
	return false
}

func hasCourier(order *models.Order) bool {
	return order.AssignedCourierID != nil && strings.TrimSpace(*order.AssignedCourierID) != ""
}

// Validate checks a status change of order to to without touching storage.
// An unchanged status is always valid.
func Validate(order *models.Order, to enums.OrderStatus) error {
	if !to.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	if order.Status == to {
		return nil
	}
	if !CanTransition(order.Status, to) {
		return &TransitionError{From: order.Status, To: to}
	}
	if requiresCourier(order, to) && !hasCourier(order) {
		return ErrMissingCourierAssignment
	}
	return nil
}

// Actor identifies who requested a mutation.
type Actor struct {
	ID   string
	Kind enums.ActorKind
}

func (a Actor) validate() error {
	if strings.TrimSpace(a.ID) == "" || !a.Kind.IsValid() {
		return ErrInvalidActor
	}
	return nil
}

// TransitionRequest asks the state machine to move an order to To.
type TransitionRequest struct {
	OrderID  uuid.UUID
	To       enums.OrderStatus
	Actor    Actor
	Source   string
	Reason   *string
	Override bool
	Metadata map[string]any
}

// TransitionResult is the outcome of Apply. Changed is false when the order
// already had the requested status; Entry is nil in that case.
type TransitionResult struct {
	Order   *models.Order
	From    enums.OrderStatus
	Entry   *models.OrderStatusHistory
	Changed bool
}

// Transitioner is the single write path for order status.
type Transitioner interface {
	Apply(ctx context.Context, tx *gorm.DB, req TransitionRequest) (*TransitionResult, error)
}

type StateMachineParams struct {
	Repo    Repository
	Logger  *logger.Logger
	Metrics *metrics.DomainMetrics
	Now     func() time.Time
}

// StateMachine validates and applies order status transitions inside the
// caller's transaction.
type StateMachine struct {
	repo    Repository
	logg    *logger.Logger
	metrics *metrics.DomainMetrics
	now     func() time.Time
}

func NewStateMachine(params StateMachineParams) (*StateMachine, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &StateMachine{repo: params.Repo, logg: params.Logger, metrics: params.Metrics, now: now}, nil
}

// Apply locks the order row, validates the transition, writes the new status
// guarded on the old one and appends the audit entry. Errors are returned
// unwrapped so callers can tell rejections from storage failures.
func (m *StateMachine) Apply(ctx context.Context, tx *gorm.DB, req TransitionRequest) (*TransitionResult, error) {
	if tx == nil {
		return nil, fmt.Errorf("state machine requires a transaction")
	}
	if err := req.Actor.validate(); err != nil {
		return nil, err
	}
	if req.Override && (req.Reason == nil || strings.TrimSpace(*req.Reason) == "") {
		return nil, ErrOverrideReasonRequired
	}

	repo := m.repo.WithTx(tx)
	order, err := repo.FindByIDForUpdate(ctx, req.OrderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	from := order.Status
	if err := Validate(order, req.To); err != nil {
		m.metrics.OrderTransition(from.String(), req.To.String(), metrics.OutcomeRejected)
		return nil, err
	}
	if from == req.To {
		m.metrics.OrderTransition(from.String(), req.To.String(), metrics.OutcomeNoop)
		return &TransitionResult{Order: order, From: from}, nil
	}

	now := m.now()
	updates := statusUpdates(req.To, now)
	n, err := repo.UpdateStatus(ctx, order.ID, from, updates)
	if err != nil {
		m.metrics.OrderTransition(from.String(), req.To.String(), metrics.OutcomeError)
		return nil, err
	}
	if n == 0 {
		m.metrics.OrderTransition(from.String(), req.To.String(), metrics.OutcomeRejected)
		return nil, ErrConcurrentUpdate
	}
	applyStatus(order, req.To, now)

	entry, err := newHistoryEntry(order.ID, enums.HistoryKindStatusChange, &from, req.To, req, now)
	if err != nil {
		return nil, err
	}
	if err := repo.AppendHistory(ctx, entry); err != nil {
		m.metrics.OrderTransition(from.String(), req.To.String(), metrics.OutcomeError)
		return nil, err
	}

	m.metrics.OrderTransition(from.String(), req.To.String(), metrics.OutcomeApplied)
	if req.Override {
		logCtx := m.logg.WithOrderID(ctx, order.ID.String())
		logCtx = m.logg.WithFields(logCtx, map[string]any{
			"actor_id":    req.Actor.ID,
			"from_status": from,
			"to_status":   req.To,
			"reason":      *req.Reason,
		})
		m.logg.Warn(logCtx, "order status override applied")
	}
	return &TransitionResult{Order: order, From: from, Entry: entry, Changed: true}, nil
}

func statusUpdates(to enums.OrderStatus, now time.Time) map[string]any {
	updates := map[string]any{"status": to, "updated_at": now}
	if column := statusTimestampColumn(to); column != "" {
		updates[column] = now
	}
	return updates
}

func statusTimestampColumn(status enums.OrderStatus) string {
	switch status {
	case enums.OrderStatusConfirmed:
		return "confirmed_at"
	case enums.OrderStatusDelivered:
		return "delivered_at"
	case enums.OrderStatusCompleted:
		return "completed_at"
	case enums.OrderStatusCancelled:
		return "cancelled_at"
	}
	return ""
}

func applyStatus(order *models.Order, to enums.OrderStatus, now time.Time) {
	order.Status = to
	order.UpdatedAt = now
	stamp := now
	switch to {
	case enums.OrderStatusConfirmed:
		order.ConfirmedAt = &stamp
	case enums.OrderStatusDelivered:
		order.DeliveredAt = &stamp
	case enums.OrderStatusCompleted:
		order.CompletedAt = &stamp
	case enums.OrderStatusCancelled:
		order.CancelledAt = &stamp
	}
}

func newHistoryEntry(orderID uuid.UUID, kind enums.HistoryKind, from *enums.OrderStatus, to enums.OrderStatus, req TransitionRequest, now time.Time) (*models.OrderStatusHistory, error) {
	var meta datatypes.JSON
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode history metadata: %w", err)
		}
		meta = datatypes.JSON(raw)
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = string(req.Actor.Kind)
	}
	return &models.OrderStatusHistory{
		ID:         uuid.New(),
		OrderID:    orderID,
		Kind:       kind,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    req.Actor.ID,
		ActorKind:  req.Actor.Kind,
		Source:     source,
		Override:   req.Override,
		Reason:     req.Reason,
		Metadata:   meta,
		CreatedAt:  now,
	}, nil
}

// FlagReconciliation marks order for manual reconciliation and records the
// reason in its history without changing status.
func (m *StateMachine) FlagReconciliation(ctx context.Context, tx *gorm.DB, order *models.Order, actor Actor, source, note string) error {
	if tx == nil {
		return fmt.Errorf("state machine requires a transaction")
	}
	if err := actor.validate(); err != nil {
		return err
	}
	repo := m.repo.WithTx(tx)
	now := m.now()
	if err := repo.FlagReconciliation(ctx, order.ID, note, now); err != nil {
		return err
	}
	status := order.Status
	entry, err := newHistoryEntry(order.ID, enums.HistoryKindReconcileFlagged, &status, status, TransitionRequest{
		Actor:  actor,
		Source: source,
		Reason: &note,
	}, now)
	if err != nil {
		return err
	}
	if err := repo.AppendHistory(ctx, entry); err != nil {
		return err
	}
	order.NeedsReconciliation = true
	order.ReconciliationNote = &note
	order.UpdatedAt = now

	logCtx := m.logg.WithOrderID(ctx, order.ID.String())
	logCtx = m.logg.WithFields(logCtx, map[string]any{"status": status, "note": note})
	m.logg.Warn(logCtx, "order flagged for reconciliation")
	return nil
}
