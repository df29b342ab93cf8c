package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/foodops-backend/api/responses"
	"github.com/angelmondragon/foodops-backend/api/validators"
	"github.com/angelmondragon/foodops-backend/internal/notifications"
	"github.com/angelmondragon/foodops-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
)

const notificationSourceAPI = "internal_api"

type NotificationQueue interface {
	Enqueue(ctx context.Context, req notifications.Request) notifications.Result
	Get(ctx context.Context, id uuid.UUID) (*models.CommunicationEvent, error)
}

type enqueueNotificationRequest struct {
	EventType   string         `json:"event_type" validate:"required,max=64"`
	Recipient   string         `json:"recipient" validate:"required,max=320"`
	TemplateKey string         `json:"template_key" validate:"required,max=128"`
	Variables   map[string]any `json:"variables"`
	OrderID     *uuid.UUID     `json:"order_id"`
	DedupeKey   string         `json:"dedupe_key" validate:"omitempty,max=128"`
	Nonce       string         `json:"nonce" validate:"omitempty,max=128"`
	Priority    int            `json:"priority" validate:"min=0,max=10"`
}

// EnqueueNotification queues an outbound notification. Duplicates inside the
// dedupe window are reported as skipped, not rejected.
func EnqueueNotification(queue NotificationQueue, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if queue == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification queue unavailable"))
			return
		}

		var req enqueueNotificationRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		res := queue.Enqueue(r.Context(), notifications.Request{
			EventType:   strings.TrimSpace(req.EventType),
			Recipient:   strings.TrimSpace(req.Recipient),
			TemplateKey: strings.TrimSpace(req.TemplateKey),
			Variables:   req.Variables,
			OrderID:     req.OrderID,
			DedupeKey:   strings.TrimSpace(req.DedupeKey),
			Nonce:       strings.TrimSpace(req.Nonce),
			Source:      notificationSourceAPI,
			Priority:    req.Priority,
		})
		if res.Reason == notifications.ReasonInvalid {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid notification request"))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, res)
	}
}

// GetNotification returns one queued or delivered notification.
func GetNotification(queue NotificationQueue, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if queue == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification queue unavailable"))
			return
		}
		id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "notificationId")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid notification id"))
			return
		}
		event, err := queue.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, event)
	}
}
