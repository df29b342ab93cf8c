package locks

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/foodops-backend/api/controllers/orders"
	"github.com/angelmondragon/foodops-backend/api/middleware"
	"github.com/angelmondragon/foodops-backend/api/responses"
	"github.com/angelmondragon/foodops-backend/api/validators"
	"github.com/angelmondragon/foodops-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
)

// Manager is the subset of the lock manager the HTTP surface drives.
type Manager interface {
	Acquire(ctx context.Context, orderID uuid.UUID, holderID string, ttl time.Duration) (*models.OrderLock, error)
	Renew(ctx context.Context, orderID uuid.UUID, holderID string, ttl time.Duration) (*models.OrderLock, error)
	Release(ctx context.Context, orderID uuid.UUID, holderID string) error
	GetActive(ctx context.Context, orderID uuid.UUID) (*models.OrderLock, error)
}

type leaseRequest struct {
	TTLSeconds int `json:"ttl_seconds" validate:"omitempty,min=1,max=86400"`
}

type lockResponse struct {
	Lock             *models.OrderLock `json:"lock"`
	RemainingSeconds int64             `json:"remaining_seconds"`
}

// Acquire takes the edit lock on an order for the calling actor.
func Acquire(mgr Manager, logg *logger.Logger) http.HandlerFunc {
	return lease(mgr, logg, func(ctx context.Context, orderID uuid.UUID, holderID string, ttl time.Duration) (*models.OrderLock, error) {
		return mgr.Acquire(ctx, orderID, holderID, ttl)
	})
}

// Renew extends the caller's lock on an order.
func Renew(mgr Manager, logg *logger.Logger) http.HandlerFunc {
	return lease(mgr, logg, func(ctx context.Context, orderID uuid.UUID, holderID string, ttl time.Duration) (*models.OrderLock, error) {
		return mgr.Renew(ctx, orderID, holderID, ttl)
	})
}

func lease(mgr Manager, logg *logger.Logger, op func(ctx context.Context, orderID uuid.UUID, holderID string, ttl time.Duration) (*models.OrderLock, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if mgr == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lock manager unavailable"))
			return
		}
		orderID, holderID, err := parseTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req leaseRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		lock, err := op(r.Context(), orderID, holderID, time.Duration(req.TTLSeconds)*time.Second)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newLockResponse(lock))
	}
}

// Release gives up the caller's lock on an order.
func Release(mgr Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if mgr == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lock manager unavailable"))
			return
		}
		orderID, holderID, err := parseTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := mgr.Release(r.Context(), orderID, holderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"order_id": orderID, "released": true})
	}
}

// Detail reports the active lock on an order, or null when it is free.
func Detail(mgr Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if mgr == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lock manager unavailable"))
			return
		}
		orderID, err := orders.ParseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lock, err := mgr.GetActive(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if lock == nil {
			responses.WriteSuccess(w, map[string]any{"order_id": orderID, "lock": nil})
			return
		}
		responses.WriteSuccess(w, newLockResponse(lock))
	}
}

func parseTarget(r *http.Request) (uuid.UUID, string, error) {
	orderID, err := orders.ParseOrderID(r)
	if err != nil {
		return uuid.Nil, "", err
	}
	holderID := middleware.ActorIDFromContext(r.Context())
	if holderID == "" {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "actor context missing")
	}
	return orderID, holderID, nil
}

func newLockResponse(lock *models.OrderLock) lockResponse {
	remaining := lock.Remaining(time.Now().UTC())
	return lockResponse{Lock: lock, RemainingSeconds: int64((remaining + time.Second - 1) / time.Second)}
}
