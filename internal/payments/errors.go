package payments

import (
	"errors"

	"github.com/angelmondragon/foodops-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
)

var (
	ErrMissingReference = errors.New("provider reference is required")
	ErrInvalidStatus    = errors.New("invalid payment status")
	ErrInvalidAmount    = errors.New("amount must not be negative")
)

func toAPIError(err error) error {
	switch {
	case err == nil:
		return nil
	case pkgerrors.As(err) != nil:
		return err
	case errors.Is(err, ErrMissingReference), errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidAmount):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	case errors.Is(err, orders.ErrInvalidActor):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment ledger")
	}
}
