package enums

import "fmt"

// TransactionStatus mirrors the provider's view of a single payment attempt.
type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusSuccess  TransactionStatus = "success"
	TransactionStatusFailed   TransactionStatus = "failed"
	TransactionStatusRefunded TransactionStatus = "refunded"
)

var validTransactionStatuss = []TransactionStatus{
	TransactionStatusPending,
	TransactionStatusSuccess,
	TransactionStatusFailed,
	TransactionStatusRefunded,
}

// String implements fmt.Stringer.
func (v TransactionStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known TransactionStatus.
func (v TransactionStatus) IsValid() bool {
	for _, candidate := range validTransactionStatuss {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseTransactionStatus converts raw input into a TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	for _, candidate := range validTransactionStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction status %q", value)
}

// Settled reports whether the provider has finalised the money movement. Settled
// rows are never overwritten by pending or failed observations.
func (v TransactionStatus) Settled() bool {
	return v == TransactionStatusSuccess || v == TransactionStatusRefunded
}
