package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the domain error type. Code is a stable machine-readable
// identifier, Status the HTTP status the handler layer responds with,
// and Err an optional wrapped cause that never leaves the server.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches two domain errors by Code, so a Clone with an overridden
// message still compares equal to its predefined original.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e != nil && t != nil && e.Code == t.Code
}

// New builds a domain error.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap builds a domain error around an underlying cause.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Generic errors shared across the API surface.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// Account and authentication errors.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrPlanRequired       = New("PLAN_REQUIRED", http.StatusPaymentRequired, "an active subscription is required")
)

// Classroom and submission errors.
var (
	ErrInvalidJoinCode   = New("INVALID_JOIN_CODE", http.StatusNotFound, "no class matches this join code")
	ErrUnsupportedFormat = New("UNSUPPORTED_FORMAT", http.StatusUnsupportedMediaType, "file format is not supported")
	ErrFileTooLarge      = New("FILE_TOO_LARGE", http.StatusRequestEntityTooLarge, "file exceeds the size limit")
)

// ErrCacheMiss signals a cache lookup found nothing. It is a plain
// sentinel rather than an *Error because it never reaches a client.
var ErrCacheMiss = errors.New("cache miss")

// FromError normalises any error into an *Error. Unknown errors become
// an internal error with the cause attached for logging.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone copies a predefined error, optionally overriding its message.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
