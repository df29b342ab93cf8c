package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "order status transition not allowed", detailsOK: true},
		{code: CodeLocked, status: http.StatusLocked, publicMsg: "order is being edited by another operator", retryable: true, detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesSentinel(t *testing.T) {
	sentinel := stdErrors.New("order is locked")
	wrapped := Wrap(CodeLocked, sentinel, "order locked").WithDetails(map[string]any{"holder_id": "staff-1"})

	if !stdErrors.Is(wrapped, sentinel) {
		t.Fatalf("Wrap did not preserve sentinel")
	}
	if wrapped.Code() != CodeLocked {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
	if wrapped.Details() == nil {
		t.Fatalf("details should be preserved")
	}
	if Wrap(CodeConflict, nil, "plain").Unwrap() != nil {
		t.Fatalf("nil cause should produce a bare error")
	}
}

func TestCodeOf(t *testing.T) {
	typed := New(CodeNotFound, "order not found")
	if got := CodeOf(fmt.Errorf("loading: %w", typed)); got != CodeNotFound {
		t.Fatalf("expected NOT_FOUND through wrapping, got %s", got)
	}
	if got := CodeOf(stdErrors.New("plain")); got != CodeInternal {
		t.Fatalf("expected INTERNAL_ERROR for untyped error, got %s", got)
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestDumpDecodesPgError(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "payment_transactions_provider_reference_key",
		TableName:      "payment_transactions",
		Message:        "duplicate key value violates unique constraint",
	}
	err := Wrap(CodeDependency, pgErr, "insert payment transaction")

	d := Dump(err)
	if d.Code != CodeDependency {
		t.Fatalf("expected dependency code, got %s", d.Code)
	}
	if d.PGCode != "23505" || d.PGConstraint != pgErr.ConstraintName {
		t.Fatalf("pg fields not decoded: %+v", d)
	}
	if len(d.Chain) != 2 {
		t.Fatalf("expected two entries in chain, got %d", len(d.Chain))
	}
	if d.PGTransient {
		t.Fatalf("unique violation is not transient")
	}
}

func TestDumpFlagsLockContention(t *testing.T) {
	for _, code := range []string{"40001", "40P01", "55P03"} {
		d := Dump(Wrap(CodeDependency, &pq.Error{Code: pq.ErrorCode(code), Table: "orders"}, "lock order row"))
		if !d.PGTransient || d.PGTable != "orders" {
			t.Fatalf("expected %s to be transient: %+v", code, d)
		}
	}
}

func TestIsRetryableAndHasCode(t *testing.T) {
	locked := Wrap(CodeLocked, stdErrors.New("held"), "order locked")
	if !IsRetryable(locked) || !HasCode(locked, CodeLocked) {
		t.Fatalf("expected locked error to be retryable and coded")
	}
	conflict := New(CodeStateConflict, "bad transition")
	if IsRetryable(conflict) || HasCode(conflict, CodeLocked) {
		t.Fatalf("state conflict must not be retryable")
	}
	if !IsRetryable(stdErrors.New("plain")) {
		t.Fatalf("untyped errors are treated as internal")
	}
	if IsRetryable(nil) {
		t.Fatalf("nil is not retryable")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("acquire: %w", Wrap(CodeLocked, stdErrors.New("held by staff-2"), "order locked"))
	if !stdErrors.Is(err, New(CodeLocked, "")) {
		t.Fatal("expected code match through the chain")
	}
	if stdErrors.Is(err, New(CodeConflict, "")) {
		t.Fatal("different codes must not match")
	}
	if got := err.Error(); got != "acquire: RESOURCE_LOCKED: order locked: held by staff-2" {
		t.Fatalf("unexpected message %q", got)
	}
}
