package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Detail)
}

// Validation builds a field-level validation error.
func Validation(field, detail string) error {
	return &ValidationError{Field: field, Detail: detail}
}

// NotFoundError reports an absent or inactive referenced entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ConflictError reports a business-rule conflict: duplicate booking,
// insufficient stock, exceeded quota, refund over captured amount.
// Message is safe to show to the caller as-is.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func Conflict(format string, args ...interface{}) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError reports a status change not reachable from the
// current status. Never coerced.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: %s -> %s", e.Entity, e.From, e.To)
}

func InvalidTransition(entity, from, to string) error {
	return &InvalidTransitionError{Entity: entity, From: from, To: to}
}

// SignatureError reports a payment or webhook signature mismatch. Callers
// log these as potential security events and apply no side effects.
type SignatureError struct {
	Subject string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%s signature verification failed", e.Subject)
}

func Signature(subject string) error {
	return &SignatureError{Subject: subject}
}

// GatewayError carries a structured error from the payment provider.
// Transient errors (network, 5xx) are safe to retry; client errors carry
// the provider's code and description verbatim.
type GatewayError struct {
	StatusCode  int
	Code        string
	Description string
	Transient   bool
}

func (e *GatewayError) Error() string {
	if e.Transient {
		return fmt.Sprintf("gateway transient error (status %d): %s", e.StatusCode, e.Description)
	}
	return fmt.Sprintf("gateway error %s (status %d): %s", e.Code, e.StatusCode, e.Description)
}

// Forbidden reports a role not permitted to perform the operation.
type ForbiddenError struct {
	Role   string
	Action string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("role %s may not %s", e.Role, e.Action)
}

func Forbidden(role, action string) error {
	return &ForbiddenError{Role: role, Action: action}
}

// Classification helpers used at the HTTP boundary.

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsInvalidTransition(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}

func IsSignature(err error) bool {
	var e *SignatureError
	return errors.As(err, &e)
}

func IsForbidden(err error) bool {
	var e *ForbiddenError
	return errors.As(err, &e)
}

// AsGateway extracts a GatewayError if present.
func AsGateway(err error) (*GatewayError, bool) {
	var e *GatewayError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
