package paymentwebhook

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/foodops-backend/internal/payments"
	"github.com/angelmondragon/foodops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
)

// Event is the provider-agnostic payment notification body.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	Reference   string          `json:"reference"`
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	Channel     string          `json:"channel"`
	PaidAt      *time.Time      `json:"paid_at"`
}

// IdempotencyID is the key used to drop redelivered events.
func (e *Event) IdempotencyID() string {
	if id := strings.TrimSpace(e.ID); id != "" {
		return id
	}
	return strings.TrimSpace(e.Data.Reference) + ":" + strings.ToLower(strings.TrimSpace(e.Data.Status))
}

type paymentRecorder interface {
	RecordPaymentAttempt(ctx context.Context, input payments.RecordInput) (*payments.RecordResult, error)
}

type Service struct {
	recorder paymentRecorder
}

func NewService(recorder paymentRecorder) (*Service, error) {
	if recorder == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment recorder required")
	}
	return &Service{recorder: recorder}, nil
}

// HandleEvent records the payment attempt carried by event. raw is kept as
// provider metadata.
func (s *Service) HandleEvent(ctx context.Context, event *Event, raw []byte) (*payments.RecordResult, error) {
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment event required")
	}
	status, ok := MapProviderStatus(event.Data.Status)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment status").
			WithDetails(map[string]any{"status": event.Data.Status})
	}

	input := payments.RecordInput{
		ProviderReference: event.Data.Reference,
		OrderReference:    strings.TrimSpace(event.Data.OrderNumber),
		Amount:            event.Data.Amount,
		Currency:          event.Data.Currency,
		Status:            status,
		Channel:           event.Data.Channel,
		PaidAt:            event.Data.PaidAt,
		Payload:           json.RawMessage(raw),
		Source:            payments.SourceWebhook,
	}
	if id, err := uuid.Parse(strings.TrimSpace(event.Data.OrderID)); err == nil {
		input.OrderID = &id
	}
	return s.recorder.RecordPaymentAttempt(ctx, input)
}

// MapProviderStatus normalises provider status vocabularies.
func MapProviderStatus(raw string) (enums.TransactionStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "succeeded", "paid", "captured", "completed":
		return enums.TransactionStatusSuccess, true
	case "failed", "declined", "canceled", "cancelled", "abandoned":
		return enums.TransactionStatusFailed, true
	case "refunded", "reversed":
		return enums.TransactionStatusRefunded, true
	case "pending", "processing", "requires_action", "ongoing":
		return enums.TransactionStatusPending, true
	}
	return "", false
}
