package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/foodops-backend/internal/notifications"
	"github.com/angelmondragon/foodops-backend/pkg/config"
	"github.com/angelmondragon/foodops-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}

	ok := HealthReady(cfg, nil, map[string]Pinger{"db": pingFunc(func(context.Context) error { return nil })})
	resp := httptest.NewRecorder()
	ok.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if resp.Header().Get("X-FoodOps-Env") != "dev" {
		t.Fatalf("missing env header")
	}

	down := HealthReady(cfg, nil, map[string]Pinger{"redis": pingFunc(func(context.Context) error { return errors.New("refused") })})
	resp = httptest.NewRecorder()
	down.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

type fakeQueue struct {
	req   notifications.Request
	res   notifications.Result
	event *models.CommunicationEvent
}

func (f *fakeQueue) Enqueue(ctx context.Context, req notifications.Request) notifications.Result {
	f.req = req
	return f.res
}

func (f *fakeQueue) Get(ctx context.Context, id uuid.UUID) (*models.CommunicationEvent, error) {
	if f.event == nil || f.event.ID != id {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return f.event, nil
}

func TestEnqueueNotification(t *testing.T) {
	queue := &fakeQueue{res: notifications.Result{EventID: uuid.New(), Success: true, Outcome: "created"}}
	body := `{"event_type":"order_ready","recipient":"+2348000000000","template_key":"order.ready","variables":{"order_number":"FO-1"}}`
	resp := httptest.NewRecorder()
	EnqueueNotification(queue, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/internal/v1/notifications", strings.NewReader(body)))

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d (%s)", resp.Code, resp.Body.String())
	}
	if queue.req.Source != notificationSourceAPI || queue.req.TemplateKey != "order.ready" {
		t.Fatalf("unexpected request %+v", queue.req)
	}
	if queue.req.Variables["order_number"] != "FO-1" {
		t.Fatalf("variables not forwarded: %+v", queue.req.Variables)
	}
}

func TestEnqueueNotificationDuplicateIsAccepted(t *testing.T) {
	queue := &fakeQueue{res: notifications.Result{Skipped: true, Success: true, Reason: notifications.ReasonDuplicate, Outcome: "skipped"}}
	body := `{"event_type":"order_ready","recipient":"a@b.co","template_key":"order.ready"}`
	resp := httptest.NewRecorder()
	EnqueueNotification(queue, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/internal/v1/notifications", strings.NewReader(body)))

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"skipped":true`) {
		t.Fatalf("expected skipped flag, got %s", resp.Body.String())
	}
}

func TestEnqueueNotificationValidation(t *testing.T) {
	resp := httptest.NewRecorder()
	EnqueueNotification(&fakeQueue{}, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/internal/v1/notifications", strings.NewReader(`{"event_type":"x"}`)))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestGetNotification(t *testing.T) {
	event := &models.CommunicationEvent{ID: uuid.New(), EventType: "order_ready"}
	queue := &fakeQueue{event: event}

	req := httptest.NewRequest(http.MethodGet, "/notifications/"+event.ID.String(), nil)
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("notificationId", event.ID.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	resp := httptest.NewRecorder()
	GetNotification(queue, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), event.ID.String()) {
		t.Fatalf("expected event in body, got %s", resp.Body.String())
	}
}
