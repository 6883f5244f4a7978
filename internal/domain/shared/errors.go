// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrExpired          = errors.New("expired")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrOptimisticLock         = errors.New("optimistic lock failure")
	ErrSyncInProgress         = errors.New("sync cycle already in progress")

	// Sync cycle errors - these drive the per-cycle failure handling:
	// ErrNetwork is retryable, ErrTokenExpired forces a full resync,
	// ErrConflictDetected routes to the resolver, ErrPersistence aborts
	// the cycle without committing the token.
	ErrNetwork          = errors.New("network error")
	ErrTokenExpired     = errors.New("sync token expired")
	ErrConflictDetected = errors.New("conflict detected")
	ErrPersistence      = errors.New("persistence error")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "schedule", "sync", "calendar"
	Op      string // Operation that failed, e.g., "Create", "Pull"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Schedule domain errors
var (
	ErrEventNotFound      = NewDomainError("schedule", "Find", ErrNotFound, "scheduled event not found")
	ErrEventAlreadyExists = NewDomainError("schedule", "Create", ErrAlreadyExists, "scheduled event already exists")
	ErrSemesterNotFound   = NewDomainError("schedule", "Find", ErrNotFound, "semester not found")
	ErrInvalidRotation    = NewDomainError("schedule", "Validate", ErrInvalidInput, "invalid rotation configuration")
	ErrInvalidDayOfWeek   = NewDomainError("schedule", "Validate", ErrValueOutOfRange, "day of week must be 0-6")
	ErrInvalidTimeRange   = NewDomainError("schedule", "Validate", ErrInvalidInput, "end time must be after start time")
)

// Sync domain errors
var (
	ErrConflictNotFound      = NewDomainError("sync", "Find", ErrNotFound, "conflict not found")
	ErrConflictResolved      = NewDomainError("sync", "Resolve", ErrAlreadyProcessed, "conflict already resolved")
	ErrOperationNotFound     = NewDomainError("sync", "Find", ErrNotFound, "sync operation not found")
	ErrTokenNotFound         = NewDomainError("sync", "LoadToken", ErrNotFound, "sync token not found")
	ErrMergeDataRequired     = NewDomainError("sync", "Resolve", ErrInvalidInput, "merged data required for merge resolution")
	ErrChannelNotFound       = NewDomainError("sync", "Webhook", ErrNotFound, "notification channel not found")
	ErrChannelSecretMismatch = NewDomainError("sync", "Webhook", ErrInvalidInput, "notification channel secret mismatch")
)

// Calendar (remote API) domain errors
var (
	ErrRemotePayloadInvalid = NewDomainError("calendar", "Parse", ErrValidation, "malformed remote payload")
	ErrRemoteUnavailable    = NewDomainError("calendar", "Request", ErrServiceUnavailable, "remote calendar unavailable")
	ErrRemoteTokenInvalid   = NewDomainError("calendar", "Pull", ErrTokenExpired, "remote rejected the sync token")
)
