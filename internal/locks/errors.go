package locks

import (
	"errors"
	"fmt"
	"math"
	"time"

	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
)

var (
	ErrAlreadyLocked = errors.New("order is locked by another holder")
	ErrNotHolder     = errors.New("caller does not hold the order lock")
	ErrExpired       = errors.New("order lock has expired")
	ErrInvalidHolder = errors.New("holder id is required")
	ErrOrderNotFound = errors.New("order not found")
)

// ConflictError reports who currently holds a contended lock. It matches
// ErrAlreadyLocked with errors.Is.
type ConflictError struct {
	HolderID  string
	ExpiresAt time.Time
	Remaining time.Duration
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order locked by %s, retry in %ds", e.HolderID, remainingSeconds(e.Remaining))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrAlreadyLocked
}

func remainingSeconds(d time.Duration) int64 {
	return int64(math.Ceil(d.Seconds()))
}

// toAPIError maps lock sentinels onto typed errors carrying HTTP metadata.
func toAPIError(err error) error {
	var conflict *ConflictError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &conflict):
		return pkgerrors.Wrap(pkgerrors.CodeLocked, err, conflict.Error()).WithDetails(map[string]any{
			"holder_id":         conflict.HolderID,
			"remaining_seconds": remainingSeconds(conflict.Remaining),
			"expires_at":        conflict.ExpiresAt,
		})
	case errors.Is(err, ErrNotHolder):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, ErrNotHolder.Error())
	case errors.Is(err, ErrExpired):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, ErrExpired.Error())
	case errors.Is(err, ErrOrderNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, ErrOrderNotFound.Error())
	case errors.Is(err, ErrInvalidHolder):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, ErrInvalidHolder.Error())
	case pkgerrors.As(err) != nil:
		return err
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "order lock storage")
	}
}
