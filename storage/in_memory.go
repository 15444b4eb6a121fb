package storage

import (
	"context"
	"sync"
)

// InMemoryAdapter is a trivial in-process Adapter useful for tests,
// examples and single-process prototypes. It keeps all values in a map
// guarded by an RWMutex. Data is copied on set / get to avoid accidental
// external mutation of internal buffers.
//
// This implementation is intentionally minimal; it does not enforce
// retention limits, size quotas, or eviction. For durability across
// restarts, prefer the file or redis subpackage adapters.
type InMemoryAdapter struct {
	mu     sync.RWMutex
	items  map[string][]byte
	closed bool
}

// NewInMemoryAdapter returns an empty in-memory adapter.
func NewInMemoryAdapter() *InMemoryAdapter {
	return &InMemoryAdapter{items: make(map[string][]byte)}
}

// Get returns a copy of the stored value or ErrKeyNotFound.
func (a *InMemoryAdapter) Get(_ context.Context, key string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, ErrClosed
	}
	data, ok := a.items[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Set stores (or overwrites) the value for key. The input slice is copied
// before storage.
func (a *InMemoryAdapter) Set(_ context.Context, key string, value []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	a.items[key] = cp
	return nil
}

// Remove deletes the key if present. Missing keys are ignored.
func (a *InMemoryAdapter) Remove(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	delete(a.items, key)
	return nil
}

// Clear drops every stored key.
func (a *InMemoryAdapter) Clear(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.items = make(map[string][]byte)
	return nil
}

// Keys returns a snapshot of the stored keys, safe for caller mutation.
func (a *InMemoryAdapter) Keys(_ context.Context) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, ErrClosed
	}
	keys := make([]string, 0, len(a.items))
	for k := range a.items {
		keys = append(keys, k)
	}
	return keys, nil
}

// Len returns the number of stored keys.
func (a *InMemoryAdapter) Len(_ context.Context) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return 0, ErrClosed
	}
	return len(a.items), nil
}

// Close marks the adapter closed. Further operations return ErrClosed.
func (a *InMemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.items = nil
	return nil
}
