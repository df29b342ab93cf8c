package enums

import "fmt"

// OrderStatus is the lifecycle position of an order; see internal/orders for
// the legal transitions.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusPreparing      OrderStatus = "preparing"
	OrderStatusReady          OrderStatus = "ready"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusRefunded       OrderStatus = "refunded"
	OrderStatusFailed         OrderStatus = "failed"
)

var validOrderStatuss = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusReady,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusCompleted,
	OrderStatusCancelled,
	OrderStatusRefunded,
	OrderStatusFailed,
}

// String implements fmt.Stringer.
func (v OrderStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known OrderStatus.
func (v OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuss {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into a OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
