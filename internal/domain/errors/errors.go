package errors

import (
	"errors"
	"fmt"
)

var (
	// Payment errors
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrInvalidState            = errors.New("invalid state for operation")
	ErrUnsupportedMethod       = errors.New("payment method not supported")
	ErrNoGatewayAvailable      = errors.New("no gateway available")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// Refund errors
	ErrRefundNotFound         = errors.New("refund not found")
	ErrInsufficientRefundable = errors.New("amount exceeds refundable balance")

	// Gateway errors
	ErrGatewayNotFound      = errors.New("gateway not found")
	ErrNotSupported         = errors.New("operation not supported by gateway")
	ErrInvalidConfiguration = errors.New("gateway is not configured")
	ErrGatewayTransient     = errors.New("gateway transient failure")
	ErrGatewayPermanent     = errors.New("gateway permanent failure")
	ErrGatewayDeclined      = errors.New("declined by gateway")
	ErrGatewayRateLimited   = errors.New("gateway rate limit exceeded")
	ErrCircuitOpen          = errors.New("gateway circuit open")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrLockAcquisitionFailed  = errors.New("failed to acquire lock")
	ErrLockNotHeld            = errors.New("lock not held")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")

	ErrInternal = errors.New("internal error")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrValidationFailed) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// InvalidState builds a DomainError for an operation attempted in the wrong status.
func InvalidState(op, status string) *DomainError {
	return NewDomainError(
		"invalid_state",
		fmt.Sprintf("cannot %s in status %s", op, status),
		ErrInvalidState,
	)
}
