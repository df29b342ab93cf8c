package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/foodops-backend/api/responses"
	"github.com/angelmondragon/foodops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
)

// DeliverySignatureHeader carries the delivery provider's signature.
const DeliverySignatureHeader = "X-Delivery-Signature"

type DeliveryReporter interface {
	ReportDelivery(ctx context.Context, id uuid.UUID, status enums.CommunicationStatus, detail *string) error
}

type deliveryReceipt struct {
	EventID string  `json:"event_id"`
	Status  string  `json:"status"`
	Detail  *string `json:"detail"`
}

// DeliveryWebhook records delivered or bounced receipts for sent notifications.
func DeliveryWebhook(svc DeliveryReporter, secret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification service unavailable"))
			return
		}
		if secret == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook secret not configured"))
			return
		}

		payload, err := readSigned(r, secret, DeliverySignatureHeader)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var receipt deliveryReceipt
		if err := json.Unmarshal(payload, &receipt); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid receipt payload"))
			return
		}
		id, err := uuid.Parse(strings.TrimSpace(receipt.EventID))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event id"))
			return
		}
		status, err := enums.ParseCommunicationStatus(receipt.Status)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery status"))
			return
		}

		if err := svc.ReportDelivery(ctx, id, status, receipt.Detail); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"event_id": id, "status": status})
	}
}
