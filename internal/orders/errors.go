package orders

import (
	"errors"
	"fmt"

	"github.com/angelmondragon/foodops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
)

var (
	ErrInvalidTransition        = errors.New("invalid order status transition")
	ErrMissingCourierAssignment = errors.New("delivery order requires an assigned courier")
	ErrOrderNotFound            = errors.New("order not found")
	ErrUnknownStatus            = errors.New("unknown order status")
	ErrConcurrentUpdate         = errors.New("order status changed concurrently")
	ErrOverrideReasonRequired   = errors.New("override requires a reason")
	ErrInvalidActor             = errors.New("actor id and kind are required")
	ErrCourierNotApplicable     = errors.New("courier assignment requires a delivery order")
	ErrCourierFrozen            = errors.New("courier cannot change in the current status")
)

// TransitionError carries the rejected status pair. It matches
// ErrInvalidTransition with errors.Is.
type TransitionError struct {
	From enums.OrderStatus
	To   enums.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// IsRejection reports whether err is a state machine refusal rather than a
// storage failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrMissingCourierAssignment) ||
		errors.Is(err, ErrConcurrentUpdate)
}

func toAPIError(err error) error {
	var transition *TransitionError
	switch {
	case err == nil:
		return nil
	case pkgerrors.As(err) != nil:
		return err
	case errors.As(err, &transition):
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, transition.Error()).WithDetails(map[string]any{
			"from":    transition.From,
			"to":      transition.To,
			"allowed": AllowedTransitions(transition.From),
		})
	case errors.Is(err, ErrMissingCourierAssignment):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, ErrMissingCourierAssignment.Error())
	case errors.Is(err, ErrOrderNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, ErrOrderNotFound.Error())
	case errors.Is(err, ErrConcurrentUpdate), errors.Is(err, ErrCourierFrozen):
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, err.Error())
	case errors.Is(err, ErrUnknownStatus),
		errors.Is(err, ErrOverrideReasonRequired),
		errors.Is(err, ErrInvalidActor),
		errors.Is(err, ErrCourierNotApplicable):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "order storage")
	}
}
