package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
)

// IsUniqueViolation reports whether err is a unique constraint violation. When
// constraintName is set, only violations of that constraint match. Drivers that
// do not surface a pgconn.PgError fall back to message inspection.
func IsUniqueViolation(err error, constraintName string) bool {
	return isConstraintViolation(err, sqlStateUniqueViolation, constraintName,
		"duplicate key value", "UNIQUE constraint failed")
}

// IsForeignKeyViolation reports whether err is a foreign key violation, such as
// a lock or history row pointing at an order that does not exist.
func IsForeignKeyViolation(err error, constraintName string) bool {
	return isConstraintViolation(err, sqlStateForeignKeyViolation, constraintName,
		"violates foreign key constraint", "FOREIGN KEY constraint failed")
}

func isConstraintViolation(err error, sqlState, constraintName string, messages ...string) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != sqlState {
			return false
		}
		return constraintName == "" || pgErr.ConstraintName == constraintName
	}

	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	for _, m := range messages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
