package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/foodops-backend/pkg/config"
	"github.com/angelmondragon/foodops-backend/pkg/db/models"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type pinger interface {
	Ping(context.Context) error
}

type notificationQueue interface {
	ClaimBatch(ctx context.Context, limit int) ([]models.CommunicationEvent, string, error)
	MarkSent(ctx context.Context, id uuid.UUID, token string) error
	MarkFailed(ctx context.Context, id uuid.UUID, token string, cause error, retryable bool) error
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// permanentError marks a delivery failure that retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

type ServiceParams struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        pinger
	PubSub    pinger
	Queue     notificationQueue
	Publisher publisher
}

// Service drains the notification queue into the delivery topic.
type Service struct {
	logg         *logger.Logger
	db           pinger
	pubsub       pinger
	queue        notificationQueue
	publisher    publisher
	batchSize    int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.Queue == nil {
		return nil, errors.New("notification queue is required")
	}
	if params.Publisher == nil {
		return nil, errors.New("notification publisher is required")
	}

	batch := params.Config.Notifications.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := params.Config.Notifications.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}

	return &Service{
		logg:         params.Logger,
		db:           params.DB,
		pubsub:       params.PubSub,
		queue:        params.Queue,
		publisher:    params.Publisher,
		batchSize:    batch,
		pollInterval: time.Duration(pollMs) * time.Millisecond,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	return pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping)
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	interval := s.pollInterval
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "notification dispatcher context canceled")
			return ctx.Err()
		default:
		}

		processed, err := s.processBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "notification dispatch batch error", err)
			backoff = nextBackoff(backoff, interval, maxBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval

		if processed {
			continue
		}

		if err := s.sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

// processBatch claims one batch and settles every claimed event. Settlement
// failures are logged; the reclaim sweep returns abandoned claims to the queue.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	events, token, err := s.queue.ClaimBatch(ctx, s.batchSize)
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		return false, nil
	}

	for _, event := range events {
		fields := eventFields(event, s.batchSize)
		logCtx := s.logg.WithFields(ctx, fields)

		if err := s.publish(ctx, event); err != nil {
			retryable := !isPermanent(err)
			logCtx = s.logg.WithFields(logCtx, map[string]any{
				"error":     err.Error(),
				"retryable": retryable,
			})
			s.logg.Warn(logCtx, "notification publish failed")
			if markErr := s.queue.MarkFailed(ctx, event.ID, token, err, retryable); markErr != nil {
				s.logg.Error(logCtx, "failed to record notification failure", markErr)
			}
			continue
		}

		if markErr := s.queue.MarkSent(ctx, event.ID, token); markErr != nil {
			s.logg.Error(logCtx, "failed to mark notification sent", markErr)
			continue
		}
		s.logg.Info(logCtx, "notification handed to delivery")
	}
	return true, nil
}

type deliveryPayload struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	Recipient   string          `json:"recipient"`
	TemplateKey string          `json:"template_key"`
	Variables   json.RawMessage `json:"variables,omitempty"`
	OrderID     *uuid.UUID      `json:"order_id,omitempty"`
	Attempt     int             `json:"attempt"`
}

func (s *Service) publish(ctx context.Context, event models.CommunicationEvent) error {
	data, err := json.Marshal(deliveryPayload{
		EventID:     event.ID.String(),
		EventType:   event.EventType,
		Recipient:   event.Recipient,
		TemplateKey: event.TemplateKey,
		Variables:   json.RawMessage(event.TemplateVariables),
		OrderID:     event.OrderID,
		Attempt:     event.RetryCount + 1,
	})
	if err != nil {
		return permanentError{err: fmt.Errorf("encode payload: %w", err)}
	}

	msg := &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_id":     event.ID.String(),
			"event_type":   event.EventType,
			"template_key": event.TemplateKey,
			"dedupe_key":   event.DedupeKey,
			"created_at":   event.CreatedAt.Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := s.publisher.Publish(publishCtx, msg)
	if result == nil {
		return permanentError{err: errors.New("publisher returned nil result")}
	}
	if _, err := result.Get(publishCtx); err != nil {
		return err
	}
	return nil
}

func isPermanent(err error) bool {
	var perm permanentError
	if errors.As(err, &perm) {
		return true
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.FailedPrecondition:
		return true
	}
	return false
}

func eventFields(event models.CommunicationEvent, batchSize int) map[string]any {
	fields := map[string]any{
		"notification_id": event.ID.String(),
		"event_type":      event.EventType,
		"template_key":    event.TemplateKey,
		"retry_count":     event.RetryCount,
		"batch_size":      batchSize,
	}
	if event.OrderID != nil {
		fields["order_id"] = event.OrderID.String()
	}
	return fields
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
