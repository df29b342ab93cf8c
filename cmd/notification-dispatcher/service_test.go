package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/datatypes"

	"github.com/angelmondragon/foodops-backend/pkg/config"
	"github.com/angelmondragon/foodops-backend/pkg/db/models"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	queue := &fakeQueue{
		events: []models.CommunicationEvent{
			newEvent("order_status_changed"),
			newEvent("payment_confirmed"),
		},
	}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
			fakePublishResult{},
		},
	}
	service := newTestService(t, queue, pub)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(queue.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if queue.failed[0].id != queue.events[0].ID || !queue.failed[0].retryable {
		t.Fatalf("expected first event to fail retryably, got %+v", queue.failed[0])
	}
	if got := len(queue.sent); got != 1 || queue.sent[0] != queue.events[1].ID {
		t.Fatalf("expected second event marked sent, got %v", queue.sent)
	}
	if queue.tokens[0] != "claim-1" {
		t.Fatalf("expected claim token to be passed through, got %v", queue.tokens)
	}
}

func TestServiceProcessBatchMarksPermanentFailures(t *testing.T) {
	queue := &fakeQueue{events: []models.CommunicationEvent{newEvent("payment_failed")}}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: status.Error(codes.InvalidArgument, "bad attribute")},
		},
	}
	service := newTestService(t, queue, pub)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(queue.failed) != 1 || queue.failed[0].retryable {
		t.Fatalf("expected non-retryable failure, got %+v", queue.failed)
	}
}

func TestServiceProcessBatchNilResultIsPermanent(t *testing.T) {
	queue := &fakeQueue{events: []models.CommunicationEvent{newEvent("order_status_changed")}}
	service := newTestService(t, queue, &fakePublisher{})

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(queue.failed) != 1 || queue.failed[0].retryable {
		t.Fatalf("expected non-retryable failure, got %+v", queue.failed)
	}
}

func TestServiceProcessBatchEmptyQueue(t *testing.T) {
	service := newTestService(t, &fakeQueue{}, &fakePublisher{})
	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if processed {
		t.Fatalf("expected empty queue to report nothing processed")
	}
}

func TestServiceProcessBatchPropagatesClaimError(t *testing.T) {
	service := newTestService(t, &fakeQueue{claimErr: errors.New("db down")}, &fakePublisher{})
	if _, err := service.processBatch(context.Background()); err == nil {
		t.Fatal("expected claim error")
	}
}

func TestPublishCarriesDeliveryPayload(t *testing.T) {
	event := newEvent("order_status_changed")
	orderID := uuid.New()
	event.OrderID = &orderID
	event.RetryCount = 2
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	service := newTestService(t, &fakeQueue{}, pub)

	if err := service.publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.messages))
	}
	msg := pub.messages[0]
	if msg.Attributes["dedupe_key"] != event.DedupeKey {
		t.Fatalf("unexpected dedupe attribute %q", msg.Attributes["dedupe_key"])
	}
	var payload deliveryPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Attempt != 3 {
		t.Fatalf("expected attempt 3, got %d", payload.Attempt)
	}
	if payload.OrderID == nil || *payload.OrderID != orderID {
		t.Fatalf("expected order id %s, got %v", orderID, payload.OrderID)
	}
	if payload.Recipient != event.Recipient {
		t.Fatalf("unexpected recipient %q", payload.Recipient)
	}
}

func TestNextBackoffCaps(t *testing.T) {
	if got := nextBackoff(0, time.Second, maxBackoff); got != 2*time.Second {
		t.Fatalf("expected 2s, got %s", got)
	}
	if got := nextBackoff(8*time.Second, time.Second, maxBackoff); got != maxBackoff {
		t.Fatalf("expected cap %s, got %s", maxBackoff, got)
	}
	if got := withJitter(time.Second); got < time.Second || got >= time.Second+jitterWindow {
		t.Fatalf("jitter out of range: %s", got)
	}
}

func newEvent(eventType string) models.CommunicationEvent {
	return models.CommunicationEvent{
		ID:                uuid.New(),
		DedupeKey:         uuid.NewString(),
		EventType:         eventType,
		Recipient:         "customer@example.com",
		TemplateKey:       eventType,
		TemplateVariables: datatypes.JSON(`{"order_number":"FO-1"}`),
		CreatedAt:         time.Now(),
	}
}

func newTestService(t *testing.T, queue notificationQueue, pub publisher) *Service {
	t.Helper()
	cfg := &config.Config{
		Notifications: config.NotificationsConfig{BatchSize: 2, PollIntervalMS: 100},
	}
	logg := logger.New(logger.Options{
		ServiceName: "notification-dispatcher-test",
		Output:      io.Discard,
	})
	service, err := NewService(ServiceParams{
		Config:    cfg,
		Logger:    logg,
		DB:        fakePinger{},
		PubSub:    fakePinger{},
		Queue:     queue,
		Publisher: pub,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

type failedCall struct {
	id        uuid.UUID
	retryable bool
}

type fakeQueue struct {
	events   []models.CommunicationEvent
	claimErr error
	sent     []uuid.UUID
	failed   []failedCall
	tokens   []string
}

func (f *fakeQueue) ClaimBatch(context.Context, int) ([]models.CommunicationEvent, string, error) {
	if f.claimErr != nil {
		return nil, "", f.claimErr
	}
	return f.events, "claim-1", nil
}

func (f *fakeQueue) MarkSent(_ context.Context, id uuid.UUID, token string) error {
	f.sent = append(f.sent, id)
	f.tokens = append(f.tokens, token)
	return nil
}

func (f *fakeQueue) MarkFailed(_ context.Context, id uuid.UUID, token string, _ error, retryable bool) error {
	f.failed = append(f.failed, failedCall{id: id, retryable: retryable})
	f.tokens = append(f.tokens, token)
	return nil
}

type fakePinger struct{}

func (fakePinger) Ping(context.Context) error { return nil }

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}
