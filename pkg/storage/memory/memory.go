// Package memory provides an ephemeral memory-backed implementation of
// [storage.Datastore], used in tests and for single-process deployments
// that can tolerate losing checkpoints on restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/tradeloop/tradeloop/pkg/storage"
)

var tracer = otel.Tracer("tradeloop/pkg/storage/memory")

// Datastore keeps every value in a map. Instances may be safely shared by
// multiple goroutines.
type Datastore struct {
	// map: key => value. GUARDED_BY(mu).
	data map[string][]byte
	mu   sync.RWMutex
}

var _ storage.Datastore = (*Datastore)(nil)

func New() *Datastore {
	return &Datastore{
		data: make(map[string][]byte),
	}
}

// SaveData see [storage.Datastore].SaveData.
func (m *Datastore) SaveData(ctx context.Context, key string, value []byte) error {
	_, span := tracer.Start(ctx, "memory.SaveData")
	defer span.End()

	if ctx.Err() != nil {
		return storage.ErrCancelled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = stored
	return nil
}

// LoadData see [storage.Datastore].LoadData.
func (m *Datastore) LoadData(ctx context.Context, key string) ([]byte, error) {
	_, span := tracer.Start(ctx, "memory.LoadData")
	defer span.End()

	if ctx.Err() != nil {
		return nil, storage.ErrCancelled
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// DeleteData see [storage.Datastore].DeleteData.
func (m *Datastore) DeleteData(ctx context.Context, key string) error {
	_, span := tracer.Start(ctx, "memory.DeleteData")
	defer span.End()

	if ctx.Err() != nil {
		return storage.ErrCancelled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// ListKeys see [storage.Datastore].ListKeys.
func (m *Datastore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	_, span := tracer.Start(ctx, "memory.ListKeys")
	defer span.End()

	if ctx.Err() != nil {
		return nil, storage.ErrCancelled
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// IsReady see [storage.Datastore].IsReady.
func (m *Datastore) IsReady(_ context.Context) (storage.ReadinessStatus, error) {
	return storage.ReadinessStatus{IsReady: true}, nil
}

// Close does not do anything for the memory datastore.
func (m *Datastore) Close() {}
