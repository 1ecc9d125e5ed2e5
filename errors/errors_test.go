package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSyncErrorMessage(t *testing.T) {
	err := NewStorageError(OpSyncProduct, errors.New("connection refused"))
	want := "sync_product operation failed in store component [STORAGE_FAILURE]: connection refused"
	if err.Error() != want {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if !err.Retryable {
		t.Fatalf("storage errors should be retryable")
	}
}

func TestSyncErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewSyncError(OpSyncPricing, "resolver", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected unwrapping to reach cause")
	}
	if err.Retryable {
		t.Fatalf("sync errors are not retryable")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("plain errors are not retryable")
	}
	wrapped := fmt.Errorf("outer: %w", NewStorageError(OpStore, errors.New("disk")))
	if !IsRetryable(wrapped) {
		t.Fatalf("wrapped storage error should be retryable")
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("base_price", "must be non-negative")
	if err.Error() != `validation failed on "base_price": must be non-negative` {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if !IsValidation(fmt.Errorf("wrap: %w", err)) {
		t.Fatalf("expected IsValidation to match wrapped error")
	}
}

func TestIsVersionConflict(t *testing.T) {
	if !IsVersionConflict(fmt.Errorf("update: %w", ErrVersionConflict)) {
		t.Fatalf("expected wrapped sentinel to match")
	}
	if IsVersionConflict(errors.New("other")) {
		t.Fatalf("unrelated error must not match")
	}
}

func TestIsCircuitOpen(t *testing.T) {
	err := &CircuitOpenError{RetryAfter: 30 * time.Second}
	if !IsCircuitOpen(err) {
		t.Fatalf("expected circuit open detection")
	}
	if IsCircuitOpen(NewSyncError(OpSyncProduct, "sync", errors.New("x"))) {
		t.Fatalf("sync error must not match circuit open")
	}
}

func TestWrapStoragePassesConflictThrough(t *testing.T) {
	if err := WrapStorage(nil, OpStore); err != nil {
		t.Fatalf("nil must stay nil")
	}
	if err := WrapStorage(ErrVersionConflict, OpStore); !IsVersionConflict(err) {
		t.Fatalf("version conflict must pass through unwrapped")
	}
	var syncErr *SyncError
	if err := WrapStorage(errors.New("io"), OpStore); !errors.As(err, &syncErr) {
		t.Fatalf("other failures must be wrapped")
	}
}
