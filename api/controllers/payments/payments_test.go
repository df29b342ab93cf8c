package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/angelmondragon/foodops-backend/api/middleware"
	internalpayments "github.com/angelmondragon/foodops-backend/internal/payments"
	"github.com/angelmondragon/foodops-backend/pkg/enums"
)

type fakeRecorder struct {
	calls int
	input internalpayments.RecordInput
}

func (f *fakeRecorder) RecordPaymentAttempt(ctx context.Context, input internalpayments.RecordInput) (*internalpayments.RecordResult, error) {
	f.calls++
	f.input = input
	return &internalpayments.RecordResult{Applied: true, OrderPaid: true}, nil
}

type fakeReconciler struct {
	batch int
}

func (f *fakeReconciler) ReconcilePayments(ctx context.Context, batchSize int) (internalpayments.ReconcileReport, error) {
	f.batch = batchSize
	return internalpayments.ReconcileReport{Scanned: 3, Converged: 2, Flagged: 1}, nil
}

func TestVerifyRecordsAttempt(t *testing.T) {
	rec := &fakeRecorder{}
	body := `{"reference":"ref-1","order_number":"FO-9","amount":"40.00","currency":"ngn","status":"succeeded","channel":"card"}`
	req := verifyRequestWithActor(body, "client-app")
	resp := httptest.NewRecorder()
	Verify(rec, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", resp.Code, resp.Body.String())
	}
	if rec.input.Status != enums.TransactionStatusSuccess {
		t.Fatalf("expected mapped success status, got %s", rec.input.Status)
	}
	if rec.input.Source != internalpayments.SourceVerify || rec.input.ActorID != "client-app" {
		t.Fatalf("unexpected source/actor %q %q", rec.input.Source, rec.input.ActorID)
	}
	if rec.input.Currency != "NGN" || rec.input.OrderReference != "FO-9" {
		t.Fatalf("unexpected input %+v", rec.input)
	}
	if len(rec.input.Payload) == 0 {
		t.Fatal("expected payload to be kept")
	}
}

func TestVerifyRejectsUnknownStatus(t *testing.T) {
	rec := &fakeRecorder{}
	body := `{"reference":"ref-1","order_number":"FO-9","amount":"40.00","currency":"USD","status":"maybe"}`
	resp := httptest.NewRecorder()
	Verify(rec, nil).ServeHTTP(resp, verifyRequestWithActor(body, "client-app"))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if rec.calls != 0 {
		t.Fatal("recorder should not be called")
	}
}

func TestVerifyRequiresOrderIdentifier(t *testing.T) {
	rec := &fakeRecorder{}
	body := `{"reference":"ref-1","amount":"40.00","currency":"USD","status":"success"}`
	resp := httptest.NewRecorder()
	Verify(rec, nil).ServeHTTP(resp, verifyRequestWithActor(body, "client-app"))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestReconcileBatchParam(t *testing.T) {
	rc := &fakeReconciler{}
	req := httptest.NewRequest(http.MethodPost, "/payments/reconcile?batch=25", nil)
	resp := httptest.NewRecorder()
	Reconcile(rc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if rc.batch != 25 {
		t.Fatalf("expected batch 25, got %d", rc.batch)
	}
	if !strings.Contains(resp.Body.String(), `"flagged":1`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}

	resp = httptest.NewRecorder()
	Reconcile(rc, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/payments/reconcile?batch=0", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out of range batch, got %d", resp.Code)
	}
}

func verifyRequestWithActor(body, actorID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/verify", strings.NewReader(body))
	return req.WithContext(middleware.WithActor(req.Context(), actorID, enums.ActorKindPayment))
}
