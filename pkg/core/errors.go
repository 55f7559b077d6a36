package core

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrStoreClosed is returned when trying to use a closed store
	ErrStoreClosed = errors.New("store is closed")

	// ErrNoExecutor is returned when a store is built without an executor
	ErrNoExecutor = errors.New("executor is required")

	// ErrInvalidChunkSize is returned when a chunk size is not positive
	ErrInvalidChunkSize = errors.New("chunk size must be positive")

	// ErrInvalidConcurrency is returned when a concurrency limit is not positive
	ErrInvalidConcurrency = errors.New("concurrency limit must be positive")

	// ErrInvalidCursor is returned when a pagination token cannot be decoded
	ErrInvalidCursor = errors.New("invalid pagination cursor")
)

// StoreError wraps errors with operation context
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("memgres: %v", e.Err)
	}
	return fmt.Sprintf("memgres: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps an error with operation context
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
