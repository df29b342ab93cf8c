package enums

import "fmt"

// OrderPaymentStatus is the order-level view of payment convergence.
type OrderPaymentStatus string

const (
	OrderPaymentStatusPending  OrderPaymentStatus = "pending"
	OrderPaymentStatusPaid     OrderPaymentStatus = "paid"
	OrderPaymentStatusFailed   OrderPaymentStatus = "failed"
	OrderPaymentStatusRefunded OrderPaymentStatus = "refunded"
)

var validOrderPaymentStatuss = []OrderPaymentStatus{
	OrderPaymentStatusPending,
	OrderPaymentStatusPaid,
	OrderPaymentStatusFailed,
	OrderPaymentStatusRefunded,
}

// String implements fmt.Stringer.
func (v OrderPaymentStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known OrderPaymentStatus.
func (v OrderPaymentStatus) IsValid() bool {
	for _, candidate := range validOrderPaymentStatuss {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseOrderPaymentStatus converts raw input into a OrderPaymentStatus.
func ParseOrderPaymentStatus(value string) (OrderPaymentStatus, error) {
	for _, candidate := range validOrderPaymentStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order payment status %q", value)
}
