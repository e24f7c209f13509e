package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a core error for its propagation policy.
type ErrorKind string

const (
	KindValidation      ErrorKind = "VALIDATION_ERROR"
	KindBrokerTransient ErrorKind = "BROKER_TRANSIENT"
	KindBrokerRejection ErrorKind = "BROKER_REJECTION"
	KindIdempotency     ErrorKind = "IDEMPOTENCY_CONFLICT"
	KindStateViolation  ErrorKind = "STATE_VIOLATION"
	KindSessionExpired  ErrorKind = "SESSION_EXPIRED"
	KindConfigInvalid   ErrorKind = "CONFIG_INVALID"
	KindIngressReject   ErrorKind = "INGRESS_REJECT"
)

// CoreError is a tagged error carrying its kind for routing decisions.
type CoreError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Err }

// NewError builds a CoreError.
func NewError(kind ErrorKind, code, message string) *CoreError {
	return &CoreError{Kind: kind, Code: code, Message: message}
}

// WrapError builds a CoreError around an underlying cause.
func WrapError(kind ErrorKind, code, message string, err error) *CoreError {
	return &CoreError{Kind: kind, Code: code, Message: message, Err: err}
}

// KindOf extracts the error kind, or "" for untagged errors.
func KindOf(err error) ErrorKind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsTransient reports whether the error should be retried with backoff.
func IsTransient(err error) bool {
	k := KindOf(err)
	return k == KindBrokerTransient || k == KindSessionExpired
}

// Sentinels for common conditions.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyConsumed = errors.New("delivery already consumed")
	ErrStateViolation  = errors.New("illegal state transition")
)
