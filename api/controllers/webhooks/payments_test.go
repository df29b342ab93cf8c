package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/foodops-backend/internal/payments"
	paymentwebhook "github.com/angelmondragon/foodops-backend/internal/webhooks/payments"
	"github.com/angelmondragon/foodops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
	"github.com/angelmondragon/foodops-backend/pkg/security"
)

const testSecret = "whsec_test"

func TestPaymentWebhook_SuccessAndIdempotent(t *testing.T) {
	payload := buildEvent(t, "evt_1")
	service := &fakePaymentWebhookService{}
	guard := newGuard(t)
	handler := PaymentWebhook(service, testSecret, guard, nil)

	rec := serveSigned(handler, payload, security.Sign(payload, testSecret, time.Now()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected service called once, got %d", service.calls)
	}
	if service.lastEvent == nil || service.lastEvent.Data.Reference != "ref-evt_1" {
		t.Fatalf("unexpected event passed to service: %+v", service.lastEvent)
	}

	// Replay the same event
	rec2 := serveSigned(handler, payload, security.Sign(payload, testSecret, time.Now()))
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d (%s)", rec2.Code, rec2.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected duplicate not processed, call count %d", service.calls)
	}
}

func TestPaymentWebhook_InvalidSignature(t *testing.T) {
	payload := buildEvent(t, "evt_2")
	service := &fakePaymentWebhookService{}
	handler := PaymentWebhook(service, testSecret, newGuard(t), nil)

	rec := serveSigned(handler, payload, security.Sign(payload, "other-secret", time.Now()))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked on bad signature")
	}
}

func TestPaymentWebhook_MissingSignature(t *testing.T) {
	payload := buildEvent(t, "evt_3")
	handler := PaymentWebhook(&fakePaymentWebhookService{}, testSecret, newGuard(t), nil)

	rec := serveSigned(handler, payload, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPaymentWebhook_FailureAllowsRetry(t *testing.T) {
	payload := buildEvent(t, "evt_4")
	service := &fakePaymentWebhookService{err: pkgerrors.New(pkgerrors.CodeDependency, "db down")}
	handler := PaymentWebhook(service, testSecret, newGuard(t), nil)

	rec := serveSigned(handler, payload, security.Sign(payload, testSecret, time.Now()))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	service.err = nil
	rec = serveSigned(handler, payload, security.Sign(payload, testSecret, time.Now()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected retry to succeed, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 2 {
		t.Fatalf("expected two service calls, got %d", service.calls)
	}
}

func TestPaymentWebhook_RequiresSecret(t *testing.T) {
	handler := PaymentWebhook(&fakePaymentWebhookService{}, "", newGuard(t), nil)
	rec := serveSigned(handler, []byte(`{}`), "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestDeliveryWebhook(t *testing.T) {
	reporter := &fakeDeliveryReporter{}
	handler := DeliveryWebhook(reporter, testSecret, nil)
	eventID := uuid.New()
	payload, _ := json.Marshal(map[string]any{"event_id": eventID.String(), "status": "delivered"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/notifications", bytes.NewReader(payload))
	req.Header.Set(DeliverySignatureHeader, security.Sign(payload, testSecret, time.Now()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if reporter.id != eventID || reporter.status != enums.CommunicationStatusDelivered {
		t.Fatalf("unexpected receipt %s %s", reporter.id, reporter.status)
	}
}

func TestDeliveryWebhook_RejectsUnknownStatus(t *testing.T) {
	reporter := &fakeDeliveryReporter{}
	handler := DeliveryWebhook(reporter, testSecret, nil)
	payload, _ := json.Marshal(map[string]any{"event_id": uuid.NewString(), "status": "opened"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/notifications", bytes.NewReader(payload))
	req.Header.Set(DeliverySignatureHeader, security.Sign(payload, testSecret, time.Now()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if reporter.calls != 0 {
		t.Fatalf("reporter should not be called")
	}
}

func serveSigned(handler http.Handler, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set(paymentwebhook.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func buildEvent(t *testing.T, id string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":   id,
		"type": "charge.completed",
		"data": map[string]any{
			"reference":    "ref-" + id,
			"order_number": "FO-1001",
			"amount":       "25.00",
			"currency":     "USD",
			"status":       "success",
		},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload
}

func newGuard(t *testing.T) *paymentwebhook.IdempotencyGuard {
	t.Helper()
	guard, err := paymentwebhook.NewIdempotencyGuard(newInMemoryStore(), time.Minute, "payment-webhook")
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

type fakePaymentWebhookService struct {
	calls     int
	lastEvent *paymentwebhook.Event
	err       error
}

func (f *fakePaymentWebhookService) HandleEvent(ctx context.Context, event *paymentwebhook.Event, raw []byte) (*payments.RecordResult, error) {
	f.calls++
	f.lastEvent = event
	if f.err != nil {
		return nil, f.err
	}
	return &payments.RecordResult{Applied: true}, nil
}

type fakeDeliveryReporter struct {
	calls  int
	id     uuid.UUID
	status enums.CommunicationStatus
}

func (f *fakeDeliveryReporter) ReportDelivery(ctx context.Context, id uuid.UUID, status enums.CommunicationStatus, detail *string) error {
	f.calls++
	f.id = id
	f.status = status
	return nil
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: map[string]string{}}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = "1"
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return "foodops:idempotency:" + scope + ":" + id
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
