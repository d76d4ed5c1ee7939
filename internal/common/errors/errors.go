// Package errors provides the standardized error taxonomy shared by the
// orchestration core.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeStateConflict      ErrorCode = "STATE_CONFLICT"
	ErrCodeExternalTimeout    ErrorCode = "EXTERNAL_TIMEOUT"
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeIsolationViolation ErrorCode = "ISOLATION_VIOLATION"

	ErrCodeExternalService   ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeDatabase          ErrorCode = "DATABASE_ERROR"
	ErrCodeNoSlotsAvailable  ErrorCode = "NO_SLOTS_AVAILABLE"
	ErrCodeDeliveryFailed    ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeChannelUnresolved ErrorCode = "CHANNEL_UNRESOLVED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is lets errors.Is match two StandardErrors by code.
func (e *StandardError) Is(target error) bool {
	var se *StandardError
	if stderrors.As(target, &se) {
		return se.Code == e.Code
	}
	return false
}

// CodeOf extracts the error code, or empty for foreign errors.
func CodeOf(err error) ErrorCode {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsRetryable reports whether the failure is transient. Foreign errors are
// treated as non-retryable.
func IsRetryable(err error) bool {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Retryable
	}
	return false
}

func IsNotFound(err error) bool      { return CodeOf(err) == ErrCodeNotFound }
func IsStateConflict(err error) bool { return CodeOf(err) == ErrCodeStateConflict }
func IsTimeout(err error) bool       { return CodeOf(err) == ErrCodeExternalTimeout }
func IsValidation(err error) bool    { return CodeOf(err) == ErrCodeValidation }
func IsIsolation(err error) bool     { return CodeOf(err) == ErrCodeIsolationViolation }

// NewNotFoundError marks an absent tenant/lead/property/appointment.
func NewNotFoundError(entity, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", entity),
		Details:   fmt.Sprintf("%s: %s", entity, id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStateConflictError marks an illegal state-machine transition. Never
// retried; surfaced to the caller immediately.
func NewStateConflictError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeStateConflict,
		Message:   "Illegal state transition",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewExternalTimeoutError marks an unresponsive external collaborator.
func NewExternalTimeoutError(service string) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternalTimeout,
		Message:   fmt.Sprintf("Service '%s' timeout", service),
		Details:   "call exceeded its deadline",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationError marks malformed preferences, slots, or payloads.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidation,
		Message:   "Validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewIsolationViolationError marks a cross-tenant access attempt. Always
// fatal to the request and logged as a security event, never silently
// corrected.
func NewIsolationViolationError(requestTenant, recordTenant string) *StandardError {
	return &StandardError{
		Code:    ErrCodeIsolationViolation,
		Message: "Cross-tenant access attempt",
		Details: fmt.Sprintf("request tenant %s touched a record of tenant %s", requestTenant, recordTenant),
		Metadata: map[string]interface{}{
			"requestTenant": requestTenant,
			"recordTenant":  recordTenant,
			"security":      true,
		},
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewExternalServiceError marks a non-timeout failure of an external call.
func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternalService,
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseError wraps a storage failure.
func NewDatabaseError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabase,
		Message:   "Database operation failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNoSlotsAvailableError is returned when the calendar cannot produce the
// two candidate slots an offer requires.
func NewNoSlotsAvailableError(tenantID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNoSlotsAvailable,
		Message:   "No bookable slots in the scheduling window",
		Details:   fmt.Sprintf("tenant: %s", tenantID),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDeliveryFailedError marks a notification that could not be sent.
func NewDeliveryFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDeliveryFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewChannelUnresolvedError is returned by the tenant registry when an
// inbound channel address maps to no tenant. The event is dropped, never
// routed to a default tenant.
func NewChannelUnresolvedError(address string) *StandardError {
	return &StandardError{
		Code:      ErrCodeChannelUnresolved,
		Message:   "Inbound channel address resolves to no tenant",
		Details:   fmt.Sprintf("address: %s", address),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}
