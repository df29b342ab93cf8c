package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/foodops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
)

type deliveryReporter interface {
	ReportDelivery(ctx context.Context, id uuid.UUID, status enums.CommunicationStatus, detail *string) error
}

// Receipt is the delivery transport's report on a sent notification.
type Receipt struct {
	EventID string  `json:"event_id"`
	Status  string  `json:"status"`
	Detail  *string `json:"detail,omitempty"`
}

// ReceiptConsumer applies delivery receipts pulled from Pub/Sub.
type ReceiptConsumer struct {
	reporter     deliveryReporter
	subscription *pubsub.Subscriber
	logg         *logger.Logger
}

func NewReceiptConsumer(reporter deliveryReporter, subscription *pubsub.Subscriber, logg *logger.Logger) (*ReceiptConsumer, error) {
	if reporter == nil {
		return nil, fmt.Errorf("delivery reporter required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("receipt subscription required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &ReceiptConsumer{reporter: reporter, subscription: subscription, logg: logg}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *ReceiptConsumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg.ID, msg.Data).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

// process acks malformed receipts, since redelivery cannot fix them, and nacks
// storage failures so Pub/Sub retries.
func (c *ReceiptConsumer) process(ctx context.Context, messageID string, data []byte) processResult {
	logCtx := c.logg.WithField(ctx, "message_id", messageID)

	var receipt Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		c.logg.Error(logCtx, "failed to decode delivery receipt", err)
		return processResult{ack: true}
	}
	id, err := uuid.Parse(strings.TrimSpace(receipt.EventID))
	if err != nil {
		c.logg.Error(logCtx, "invalid receipt event id", err)
		return processResult{ack: true}
	}
	status, err := enums.ParseCommunicationStatus(receipt.Status)
	if err != nil {
		c.logg.Error(logCtx, "invalid receipt status", err)
		return processResult{ack: true}
	}

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"event_id": id.String(),
		"status":   string(status),
	})

	if err := c.reporter.ReportDelivery(ctx, id, status, receipt.Detail); err != nil {
		if !pkgerrors.IsRetryable(err) {
			c.logg.Warn(logCtx, "delivery receipt rejected")
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "failed to record delivery receipt", err)
		return processResult{nack: true}
	}

	c.logg.Info(logCtx, "delivery receipt recorded")
	return processResult{ack: true}
}
