package storage

import (
	"context"
	"sync"

	"github.com/soulkeep/encryption-engine/interfaces"
)

// MemoryBackend implements an in-process storage backend. Used by tests and
// by clients that keep records in the session only.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string][]byte)}
}

// Fetch retrieves a record, returning ErrRecordNotFound if absent.
func (b *MemoryBackend) Fetch(ctx context.Context, typ interfaces.RecordType, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.records[recordKey(typ, key)]
	if !ok {
		return nil, interfaces.ErrRecordNotFound
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Store persists a record, overwriting any previous value.
func (b *MemoryBackend) Store(ctx context.Context, typ interfaces.RecordType, key string, data []byte) error {
	stored := make([]byte, len(data))
	copy(stored, data)

	b.mu.Lock()
	b.records[recordKey(typ, key)] = stored
	b.mu.Unlock()
	return nil
}

// Delete removes a record. Absent records are ignored.
func (b *MemoryBackend) Delete(ctx context.Context, typ interfaces.RecordType, key string) error {
	b.mu.Lock()
	delete(b.records, recordKey(typ, key))
	b.mu.Unlock()
	return nil
}

// Available always reports true.
func (b *MemoryBackend) Available(ctx context.Context) bool { return true }

// Name returns a unique identifier for this storage backend.
func (b *MemoryBackend) Name() string { return "memory" }

// LocationURI returns the URI that identifies this storage backend.
func (b *MemoryBackend) LocationURI() string { return "mem://" }

func recordKey(typ interfaces.RecordType, key string) string {
	return typ.String() + "/" + key
}
