package orders

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/foodops-backend/api/middleware"
	"github.com/angelmondragon/foodops-backend/api/responses"
	"github.com/angelmondragon/foodops-backend/api/validators"
	internalorders "github.com/angelmondragon/foodops-backend/internal/orders"
	"github.com/angelmondragon/foodops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
)

const (
	maxReasonLength  = 500
	maxCourierLength = 128
	maxContactLength = 320
)

type createOrderRequest struct {
	OrderNumber     string          `json:"order_number" validate:"required,max=64"`
	FulfillmentType string          `json:"fulfillment_type" validate:"required,oneof=delivery pickup"`
	CustomerContact string          `json:"customer_contact" validate:"required"`
	Total           decimal.Decimal `json:"total" validate:"money"`
	Currency        string          `json:"currency" validate:"omitempty,currency"`
}

type changeStatusRequest struct {
	Status   string  `json:"status" validate:"required"`
	Reason   *string `json:"reason"`
	Source   string  `json:"source" validate:"omitempty,max=64"`
	Override bool    `json:"override"`
}

type assignCourierRequest struct {
	CourierID string `json:"courier_id" validate:"required"`
}

type changeStatusResponse struct {
	Order        any  `json:"order"`
	Entry        any  `json:"history_entry,omitempty"`
	Changed      bool `json:"changed"`
	Notification any  `json:"notification"`
}

// Create registers a new pending order.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		fulfillment, err := enums.ParseFulfillmentType(req.FulfillmentType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid fulfillment type"))
			return
		}

		order, err := svc.Create(r.Context(), internalorders.CreateOrderInput{
			OrderNumber:     validators.SanitizeString(req.OrderNumber, 64),
			FulfillmentType: fulfillment,
			CustomerContact: validators.SanitizeString(req.CustomerContact, maxContactLength),
			Total:           req.Total,
			Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
			Actor:           actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// Detail returns the current order row.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		orderID, err := ParseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// History returns the audit trail of an order, oldest first.
func History(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		orderID, err := ParseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, err := svc.ListHistory(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"order_id": orderID, "history": entries})
	}
}

// ChangeStatus moves an order through the status machine on behalf of the
// authenticated actor.
func ChangeStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		orderID, err := ParseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req changeStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseOrderStatus(req.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order status"))
			return
		}
		if req.Reason != nil {
			reason := validators.SanitizeString(*req.Reason, maxReasonLength)
			req.Reason = &reason
		}

		result, err := svc.ChangeStatus(r.Context(), internalorders.ChangeStatusInput{
			OrderID:  orderID,
			Status:   status,
			Actor:    actor,
			Source:   strings.TrimSpace(req.Source),
			Reason:   req.Reason,
			Override: req.Override,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := changeStatusResponse{
			Order:        result.Order,
			Changed:      result.Changed,
			Notification: result.Notification,
		}
		if result.Entry != nil {
			resp.Entry = result.Entry
		}
		responses.WriteSuccess(w, resp)
	}
}

// AssignCourier sets the delivery courier of an order.
func AssignCourier(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		orderID, err := ParseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req assignCourierRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.AssignCourier(r.Context(), internalorders.AssignCourierInput{
			OrderID:   orderID,
			CourierID: validators.SanitizeString(req.CourierID, maxCourierLength),
			Actor:     actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// ParseOrderID reads the orderId route parameter.
func ParseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return id, nil
}

func actorFromRequest(r *http.Request) (internalorders.Actor, error) {
	actorID := middleware.ActorIDFromContext(r.Context())
	kind := middleware.ActorKindFromContext(r.Context())
	if actorID == "" || !kind.IsValid() {
		return internalorders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor context missing")
	}
	return internalorders.Actor{ID: actorID, Kind: kind}, nil
}
