// Package errors provides the error taxonomy for the channel synchronization engine.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeValidationFailure  ErrorCode = "VALIDATION_FAILURE"
	ErrCodeCapacityExceeded   ErrorCode = "CAPACITY_EXCEEDED"
	ErrCodeConcurrencyFailure ErrorCode = "CONCURRENCY_FAILURE"
	ErrCodeStorageFailure     ErrorCode = "STORAGE_FAILURE"
	ErrCodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	ErrCodeSyncFailure        ErrorCode = "SYNC_FAILURE"
)

// Operation represents the type of synchronization operation
type Operation string

const (
	OpSyncProduct   Operation = "sync_product"
	OpSyncInventory Operation = "sync_inventory"
	OpSyncPricing   Operation = "sync_pricing"
	OpBulkSync      Operation = "bulk_sync"
	OpStore         Operation = "store"
	OpLoad          Operation = "load"
	OpResolve       Operation = "conflict_resolve"
	OpClose         Operation = "close"
)

// ErrVersionConflict signals that a guarded write supplied a stale expected
// version. The synchronization layer reloads and retries exactly once before
// escalating this to a SyncError.
var ErrVersionConflict = errors.New("channel product version conflict")

// SyncError is the only error type that crosses the public API boundary for
// unexpected failures. It wraps the original cause and carries structured
// context for logging and metrics.
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "store", "resolver")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage-related SyncError
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewConcurrencyError creates a SyncError for a conflict that survived the
// single automatic retry.
func NewConcurrencyError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeConcurrencyFailure,
		Op:        op,
		Component: "sync",
		Err:       cause,
		Retryable: false,
	}
}

// NewSyncError wraps any other failure crossing the public boundary.
func NewSyncError(op Operation, component string, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeSyncFailure,
		Op:        op,
		Component: component,
		Err:       cause,
		Retryable: false,
	}
}

// ValidationError reports caller-supplied data failing a structural or range
// check. It is local, never retried, and names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Reason)
}

// NewValidationError constructs a ValidationError for a named field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// CapacityError reports a reservation that would exceed effective stock.
type CapacityError struct {
	Requested int64
	Available int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("reservation of %d exceeds available capacity %d", e.Requested, e.Available)
}

// CircuitOpenError is raised immediately by the breaker when in the open
// state, without attempting the wrapped call. Distinct from SyncError so
// callers can apply a different backoff policy.
type CircuitOpenError struct {
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open, retry after %s", e.RetryAfter)
}

// IsRetryable checks if an error is a retryable SyncError
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsVersionConflict reports whether err is (or wraps) ErrVersionConflict.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsCircuitOpen reports whether err is (or wraps) a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var ce *CircuitOpenError
	return errors.As(err, &ce)
}
