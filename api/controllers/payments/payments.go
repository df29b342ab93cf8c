package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/foodops-backend/api/middleware"
	"github.com/angelmondragon/foodops-backend/api/responses"
	"github.com/angelmondragon/foodops-backend/api/validators"
	internalpayments "github.com/angelmondragon/foodops-backend/internal/payments"
	paymentwebhook "github.com/angelmondragon/foodops-backend/internal/webhooks/payments"
	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
)

const maxReconcileBatch = 1000

type Recorder interface {
	RecordPaymentAttempt(ctx context.Context, input internalpayments.RecordInput) (*internalpayments.RecordResult, error)
}

type Reconciler interface {
	ReconcilePayments(ctx context.Context, batchSize int) (internalpayments.ReconcileReport, error)
}

type verifyRequest struct {
	Reference   string          `json:"reference" validate:"required,max=128"`
	OrderID     string          `json:"order_id" validate:"omitempty,uuid"`
	OrderNumber string          `json:"order_number" validate:"required_without=OrderID"`
	Amount      decimal.Decimal `json:"amount" validate:"money"`
	Currency    string          `json:"currency" validate:"required,currency"`
	Status      string          `json:"status" validate:"required"`
	Channel     string          `json:"channel" validate:"omitempty,max=64"`
	PaidAt      *time.Time      `json:"paid_at"`
}

// Verify records a client-side payment confirmation. It converges on the
// same transaction the provider webhook writes, so either may arrive first.
func Verify(svc Recorder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		actorID := middleware.ActorIDFromContext(r.Context())
		if actorID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor context missing"))
			return
		}

		var req verifyRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, ok := paymentwebhook.MapProviderStatus(req.Status)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment status").
				WithDetails(map[string]any{"status": req.Status}))
			return
		}

		raw, err := json.Marshal(req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode verification payload"))
			return
		}

		input := internalpayments.RecordInput{
			ProviderReference: strings.TrimSpace(req.Reference),
			OrderReference:    strings.TrimSpace(req.OrderNumber),
			Amount:            req.Amount,
			Currency:          strings.ToUpper(strings.TrimSpace(req.Currency)),
			Status:            status,
			Channel:           strings.TrimSpace(req.Channel),
			PaidAt:            req.PaidAt,
			Payload:           raw,
			Source:            internalpayments.SourceVerify,
			ActorID:           actorID,
		}
		if req.OrderID != "" {
			id, err := uuid.Parse(req.OrderID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
				return
			}
			input.OrderID = &id
		}

		result, err := svc.RecordPaymentAttempt(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Reconcile runs one reconciliation sweep on demand.
func Reconcile(svc Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		batch, err := validators.ParseQueryInt(r, "batch", internalpayments.DefaultReconcileBatchSize, 1, maxReconcileBatch)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		report, err := svc.ReconcilePayments(r.Context(), batch)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}
