package enums

import "fmt"

// CommunicationStatus tracks an outbound notification through dispatch.
type CommunicationStatus string

const (
	CommunicationStatusQueued     CommunicationStatus = "queued"
	CommunicationStatusProcessing CommunicationStatus = "processing"
	CommunicationStatusSent       CommunicationStatus = "sent"
	CommunicationStatusFailed     CommunicationStatus = "failed"
	CommunicationStatusDelivered  CommunicationStatus = "delivered"
	CommunicationStatusBounced    CommunicationStatus = "bounced"
)

var validCommunicationStatuss = []CommunicationStatus{
	CommunicationStatusQueued,
	CommunicationStatusProcessing,
	CommunicationStatusSent,
	CommunicationStatusFailed,
	CommunicationStatusDelivered,
	CommunicationStatusBounced,
}

// String implements fmt.Stringer.
func (v CommunicationStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known CommunicationStatus.
func (v CommunicationStatus) IsValid() bool {
	for _, candidate := range validCommunicationStatuss {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseCommunicationStatus converts raw input into a CommunicationStatus.
func ParseCommunicationStatus(value string) (CommunicationStatus, error) {
	for _, candidate := range validCommunicationStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid communication status %q", value)
}

// IsTerminal reports whether dispatch has finished with the event.
func (v CommunicationStatus) IsTerminal() bool {
	switch v {
	case CommunicationStatusSent, CommunicationStatusDelivered, CommunicationStatusBounced, CommunicationStatusFailed:
		return true
	}
	return false
}
