package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
)

type chargeBody struct {
	Amount   decimal.Decimal `json:"amount" validate:"money"`
	Currency string          `json:"currency" validate:"required,currency"`
}

func decode(t *testing.T, body string) error {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var dest chargeBody
	return DecodeJSONBody(req, &dest)
}

func TestDecodeJSONBodyAcceptsMoney(t *testing.T) {
	if err := decode(t, `{"amount":"19.90","currency":"usd"}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodeJSONBodyRejectsBadMoney(t *testing.T) {
	cases := []string{
		`{"amount":"-1.00","currency":"USD"}`,
		`{"amount":"1.005","currency":"USD"}`,
		`{"amount":"1.00","currency":"US1"}`,
		`{"amount":"1.00","currency":"USD","extra":true}`,
		``,
	}
	for _, body := range cases {
		err := decode(t, body)
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() != pkgerrors.CodeValidation {
			t.Fatalf("expected validation error for %q, got %v", body, err)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  courier\x00-7 ", 0); got != "courier-7" {
		t.Fatalf("unexpected sanitized value %q", got)
	}
	if got := SanitizeString("héllo wörld", 5); got != "héllo" {
		t.Fatalf("expected rune-safe truncation, got %q", got)
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?batch=50", nil)
	if got, err := ParseQueryInt(req, "batch", 10, 1, 100); err != nil || got != 50 {
		t.Fatalf("expected 50, got %d (%v)", got, err)
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	if got, _ := ParseQueryInt(req, "batch", 10, 1, 100); got != 10 {
		t.Fatalf("expected default 10, got %d", got)
	}
	req = httptest.NewRequest(http.MethodGet, "/?batch=1000", nil)
	if _, err := ParseQueryInt(req, "batch", 10, 1, 100); err == nil {
		t.Fatal("expected out of range error")
	}
}
