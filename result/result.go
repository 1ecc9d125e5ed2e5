// Package result provides a small tagged-union result type used for
// per-item outcomes in bulk operations.
package result

// Result carries either a value or a failure with a machine-readable code.
// The zero value is a failure with no code.
type Result[T any] struct {
	value   T
	code    string
	message string
	cause   error
	ok      bool
}

// Ok wraps a successful value.
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value, ok: true}
}

// Fail wraps a failure with a code, a human-readable message, and an
// optional cause.
func Fail[T any](code, message string, cause error) Result[T] {
	return Result[T]{code: code, message: message, cause: cause}
}

// IsOk reports whether the result holds a value.
func (r Result[T]) IsOk() bool { return r.ok }

// Value returns the held value. Only meaningful when IsOk is true.
func (r Result[T]) Value() T { return r.value }

// Code returns the failure code, empty on success.
func (r Result[T]) Code() string { return r.code }

// Message returns the failure message, empty on success.
func (r Result[T]) Message() string { return r.message }

// Cause returns the underlying error, nil on success.
func (r Result[T]) Cause() error { return r.cause }
