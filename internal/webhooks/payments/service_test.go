package paymentwebhook

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/foodops-backend/internal/payments"
	"github.com/angelmondragon/foodops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
)

type recorderStub struct {
	inputs []payments.RecordInput
}

func (r *recorderStub) RecordPaymentAttempt(ctx context.Context, input payments.RecordInput) (*payments.RecordResult, error) {
	r.inputs = append(r.inputs, input)
	return &payments.RecordResult{}, nil
}

func TestHandleEvent_MapsPayload(t *testing.T) {
	recorder := &recorderStub{}
	svc, err := NewService(recorder)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	orderID := uuid.New()
	event := &Event{
		ID:   "evt_1",
		Type: "charge.updated",
		Data: EventData{
			Reference: "r1",
			OrderID:   orderID.String(),
			Amount:    decimal.RequireFromString("12.30"),
			Currency:  "usd",
			Status:    "Succeeded",
		},
	}
	raw := []byte(`{"id":"evt_1"}`)

	if _, err := svc.HandleEvent(context.Background(), event, raw); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(recorder.inputs) != 1 {
		t.Fatalf("expected one recorded attempt, got %d", len(recorder.inputs))
	}
	got := recorder.inputs[0]
	if got.Status != enums.TransactionStatusSuccess {
		t.Fatalf("expected success status, got %s", got.Status)
	}
	if got.OrderID == nil || *got.OrderID != orderID {
		t.Fatalf("expected order id %s, got %v", orderID, got.OrderID)
	}
	if got.Source != payments.SourceWebhook {
		t.Fatalf("expected webhook source, got %q", got.Source)
	}
	if string(got.Payload) != string(raw) {
		t.Fatalf("raw payload not preserved: %s", got.Payload)
	}
}

func TestHandleEvent_UnsupportedStatus(t *testing.T) {
	svc, _ := NewService(&recorderStub{})
	_, err := svc.HandleEvent(context.Background(), &Event{Data: EventData{Reference: "r1", Status: "mystery"}}, nil)
	if err == nil {
		t.Fatal("expected error for unsupported status")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEventIdempotencyID(t *testing.T) {
	withID := &Event{ID: " evt_9 "}
	if got := withID.IdempotencyID(); got != "evt_9" {
		t.Fatalf("expected event id, got %q", got)
	}
	withoutID := &Event{Data: EventData{Reference: "r1", Status: "PAID"}}
	if got := withoutID.IdempotencyID(); got != "r1:paid" {
		t.Fatalf("expected reference fallback, got %q", got)
	}
}

func TestMapProviderStatus(t *testing.T) {
	cases := map[string]enums.TransactionStatus{
		"paid":       enums.TransactionStatusSuccess,
		"DECLINED":   enums.TransactionStatusFailed,
		"refunded":   enums.TransactionStatusRefunded,
		"processing": enums.TransactionStatusPending,
	}
	for raw, want := range cases {
		got, ok := MapProviderStatus(raw)
		if !ok || got != want {
			t.Fatalf("MapProviderStatus(%q) = %s, %v; want %s", raw, got, ok, want)
		}
	}
	if _, ok := MapProviderStatus("weird"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
}
