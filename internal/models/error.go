package models

import (
	"errors"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Device provisioning errors
	ErrInvalidRegistrationKey = errors.New("registration key is invalid or expired")
	ErrDuplicateDeviceName    = errors.New("device name already registered for tenant")
)

// ErrorKind is the machine-readable classification of a gate rejection.
type ErrorKind string

const (
	ErrorKindRateLimitExceeded   ErrorKind = "rate_limit_exceeded"
	ErrorKindIPBlocked           ErrorKind = "ip_blocked"
	ErrorKindBotDetected         ErrorKind = "bot_detected"
	ErrorKindDuplicateDeviceName ErrorKind = "duplicate_device_name"
	ErrorKindValidationFailed    ErrorKind = "validation_failed"
	ErrorKindRegistrationFailed  ErrorKind = "registration_failed"
	ErrorKindInternalError       ErrorKind = "internal_error"
)

// Retryable reports whether a caller may retry the same request later.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindRateLimitExceeded, ErrorKindIPBlocked, ErrorKindRegistrationFailed:
		return true
	default:
		return false
	}
}

// GateError is the structured rejection returned by the registration gate.
// Cause is kept for logging only and never serialized to the caller.
type GateError struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *GateError) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *GateError) Unwrap() error {
	return e.Cause
}

// RetryAfterSeconds rounds the retry hint up to whole seconds.
func (e *GateError) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	secs := int(e.RetryAfter / time.Second)
	if e.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// NewGateError builds a GateError with a human-readable message.
func NewGateError(kind ErrorKind, message string, retryAfter time.Duration, cause error) *GateError {
	return &GateError{Kind: kind, Message: message, RetryAfter: retryAfter, Cause: cause}
}
