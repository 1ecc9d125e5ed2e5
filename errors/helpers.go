package errors

// WrapOpComponent provides a convenience helper to wrap errors with consistent
// Op and Component propagation. If err is nil, returns nil.
func WrapOpComponent(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	return &SyncError{Op: op, Component: component, Err: err}
}

// WrapStorage wraps a persistence-layer failure unless err is nil or already
// a version conflict, which the caller handles through the retry path.
func WrapStorage(err error, op Operation) error {
	if err == nil || IsVersionConflict(err) {
		return err
	}
	return NewStorageError(op, err)
}
