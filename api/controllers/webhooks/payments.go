package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/angelmondragon/foodops-backend/api/responses"
	"github.com/angelmondragon/foodops-backend/internal/payments"
	paymentwebhook "github.com/angelmondragon/foodops-backend/internal/webhooks/payments"
	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
	"github.com/angelmondragon/foodops-backend/pkg/security"
)

const maxWebhookBody = 1 << 20

type PaymentWebhookService interface {
	HandleEvent(ctx context.Context, event *paymentwebhook.Event, raw []byte) (*payments.RecordResult, error)
}

// WebhookGuard drops redelivered provider events.
type WebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// PaymentWebhook handles signed provider payment notifications. A redelivered
// event id is acknowledged without being recorded again.
func PaymentWebhook(svc PaymentWebhookService, secret string, guard WebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if secret == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook secret not configured"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := readSigned(r, secret, paymentwebhook.SignatureHeader)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var event paymentwebhook.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload"))
			return
		}
		eventID := event.IdempotencyID()

		alreadyProcessed, err := guard.CheckAndMark(ctx, eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, map[string]any{"event_id": eventID, "duplicate": true})
			return
		}

		result, err := svc.HandleEvent(ctx, &event, payload)
		if err != nil {
			_ = guard.Delete(ctx, eventID)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("payment event %s processed", eventID))
		}
		responses.WriteSuccess(w, result)
	}
}

func readSigned(r *http.Request, secret, header string) ([]byte, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body")
	}
	if err := security.VerifySignature(payload, secret, r.Header.Get(header), time.Now(), security.DefaultTolerance); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "verify signature")
	}
	return payload, nil
}
