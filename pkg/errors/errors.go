package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code classifies a failure for API envelopes, logs and queue acknowledgement.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeLocked        Code = "RESOURCE_LOCKED"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
)

// Metadata describes how a code surfaces to callers.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

func permanent(status int, msg string, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: msg, DetailsAllowed: details}
}

func transient(status int, msg string, details bool) Metadata {
	return Metadata{HTTPStatus: status, Retryable: true, PublicMessage: msg, DetailsAllowed: details}
}

// Lock contention and infrastructure faults are worth retrying; everything
// else needs a different request.
var metadataByCode = map[Code]Metadata{
	CodeValidation:    permanent(http.StatusBadRequest, "validation failed", true),
	CodeUnauthorized:  permanent(http.StatusUnauthorized, "authentication required", false),
	CodeForbidden:     permanent(http.StatusForbidden, "access denied", false),
	CodeNotFound:      permanent(http.StatusNotFound, "resource not found", false),
	CodeConflict:      permanent(http.StatusConflict, "conflict detected", false),
	CodeStateConflict: permanent(http.StatusUnprocessableEntity, "order status transition not allowed", true),
	CodeIdempotency:   permanent(http.StatusConflict, "idempotency key reused", true),
	CodeRateLimit:     permanent(http.StatusTooManyRequests, "rate limit exceeded", false),
	CodeLocked:        transient(http.StatusLocked, "order is being edited by another operator", true),
	CodeInternal:      transient(http.StatusInternalServerError, "internal server error", false),
	CodeDependency:    transient(http.StatusServiceUnavailable, "dependency unavailable", true),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is the typed error carried from services to transports.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code and message to err. A nil err yields a plain New.
func Wrap(code Code, err error, message string) *Error {
	e := New(code, message)
	e.cause = err
	return e
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause == nil:
		return string(e.code) + ": " + e.message
	default:
		return string(e.code) + ": " + e.message + ": " + e.cause.Error()
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches another *Error by code, so errors.Is(err, New(CodeLocked, ""))
// finds lock contention anywhere in the chain.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// IsRetryable reports whether the same call may succeed later. Untyped errors
// are treated as transient infrastructure failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return MetadataFor(CodeOf(err)).Retryable
}

// HasCode reports whether the first typed error in the chain carries code.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// CodeOf reports the code of the first typed error in the chain, or CodeInternal.
func CodeOf(err error) Code {
	return As(err).Code()
}

// As returns the first *Error in the chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
