// Package storage contains the persistence collaborator interface and its
// implementations. The engine checkpoints tenant facts and discovered loops
// through this interface and restores them on startup; everything else is
// held in memory.
package storage

import (
	"context"
)

// Datastore is a keyed blob store. Implementations must be safe for
// concurrent use.
type Datastore interface {
	// SaveData writes value under key, replacing any previous value.
	SaveData(ctx context.Context, key string, value []byte) error

	// LoadData returns the value stored under key. If no value exists it
	// must return ErrNotFound, never a nil slice.
	LoadData(ctx context.Context, key string) ([]byte, error)

	// DeleteData removes the value stored under key. Deleting an absent
	// key is not an error.
	DeleteData(ctx context.Context, key string) error

	// ListKeys returns every stored key with the given prefix, sorted.
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// IsReady reports whether the datastore is ready to accept traffic.
	IsReady(ctx context.Context) (ReadinessStatus, error)

	// Close closes the datastore and cleans up any residual resources.
	Close()
}

// ReadinessStatus represents the readiness status of the datastore.
type ReadinessStatus struct {
	// Message is a human-friendly status message for the current status.
	Message string

	IsReady bool
}
