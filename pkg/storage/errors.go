package storage

import "errors"

var (
	// ErrNotFound is returned when no value exists under the given key.
	ErrNotFound = errors.New("not found")

	// ErrCancelled is returned when the request context ended before the
	// operation completed.
	ErrCancelled = errors.New("request has been cancelled")
)
