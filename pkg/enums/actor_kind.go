package enums

import "fmt"

// ActorKind classifies who initiated an order mutation.
type ActorKind string

const (
	ActorKindAdmin   ActorKind = "admin"
	ActorKindSystem  ActorKind = "system"
	ActorKindPayment ActorKind = "payment"
)

var validActorKinds = []ActorKind{
	ActorKindAdmin,
	ActorKindSystem,
	ActorKindPayment,
}

// String implements fmt.Stringer.
func (v ActorKind) String() string {
	return string(v)
}

// IsValid reports whether the value is a known ActorKind.
func (v ActorKind) IsValid() bool {
	for _, candidate := range validActorKinds {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseActorKind converts raw input into a ActorKind.
func ParseActorKind(value string) (ActorKind, error) {
	for _, candidate := range validActorKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor kind %q", value)
}

// RequiresLock reports whether mutations by this actor must hold the order edit lock.
func (v ActorKind) RequiresLock() bool {
	return v == ActorKindAdmin
}
