package enums

import "fmt"

// HistoryKind distinguishes entries in the order audit log.
type HistoryKind string

const (
	HistoryKindStatusChange     HistoryKind = "status_change"
	HistoryKindCourierAssigned  HistoryKind = "courier_assigned"
	HistoryKindReconcileFlagged HistoryKind = "reconcile_flagged"
)

var validHistoryKinds = []HistoryKind{
	HistoryKindStatusChange,
	HistoryKindCourierAssigned,
	HistoryKindReconcileFlagged,
}

// String implements fmt.Stringer.
func (v HistoryKind) String() string {
	return string(v)
}

// IsValid reports whether the value is a known HistoryKind.
func (v HistoryKind) IsValid() bool {
	for _, candidate := range validHistoryKinds {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseHistoryKind converts raw input into a HistoryKind.
func ParseHistoryKind(value string) (HistoryKind, error) {
	for _, candidate := range validHistoryKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid history kind %q", value)
}
