// Package file provides a durable single-file storage.Adapter.
//
// The whole keyspace is kept in memory and snapshotted to disk as CBOR on
// every mutation, using a write-to-temp-then-rename sequence so a crash
// mid-write can never leave a torn snapshot behind. This trades write
// throughput for simplicity; it suits local-first workloads whose state
// fits comfortably in memory.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/hupe1980/localmesh/storage"
)

// Adapter is a file-backed storage.Adapter. Safe for concurrent use.
type Adapter struct {
	mu     sync.RWMutex
	path   string
	mode   os.FileMode
	items  map[string][]byte
	closed bool
}

// Options configures the file adapter.
type Options struct {
	// FileMode is applied to the snapshot file. Defaults to 0o600.
	FileMode os.FileMode
}

// NewAdapter opens (or creates) the snapshot at path and loads any
// existing contents.
func NewAdapter(path string, optFns ...func(o *Options)) (*Adapter, error) {
	opts := Options{FileMode: 0o600}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	a := &Adapter{path: path, mode: opts.FileMode, items: make(map[string][]byte)}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// fresh store
	case err != nil:
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	case len(data) > 0:
		if err := cbor.Unmarshal(data, &a.items); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
		}
	}

	return a, nil
}

// Get returns a copy of the stored value or storage.ErrKeyNotFound.
func (a *Adapter) Get(_ context.Context, key string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, storage.ErrClosed
	}
	data, ok := a.items[key]
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Set stores the value and persists a new snapshot.
func (a *Adapter) Set(_ context.Context, key string, value []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return storage.ErrClosed
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	a.items[key] = cp
	return a.persistLocked()
}

// Remove deletes the key and persists a new snapshot. Missing keys are
// ignored without touching the disk.
func (a *Adapter) Remove(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return storage.ErrClosed
	}
	if _, ok := a.items[key]; !ok {
		return nil
	}
	delete(a.items, key)
	return a.persistLocked()
}

// Clear drops every key and persists the empty snapshot.
func (a *Adapter) Clear(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return storage.ErrClosed
	}
	a.items = make(map[string][]byte)
	return a.persistLocked()
}

// Keys returns a snapshot of the stored keys.
func (a *Adapter) Keys(_ context.Context) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, storage.ErrClosed
	}
	keys := make([]string, 0, len(a.items))
	for k := range a.items {
		keys = append(keys, k)
	}
	return keys, nil
}

// Len returns the number of stored keys.
func (a *Adapter) Len(_ context.Context) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return 0, storage.ErrClosed
	}
	return len(a.items), nil
}

// Close persists a final snapshot and marks the adapter closed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	err := a.persistLocked()
	a.closed = true
	a.items = nil
	return err
}

// persistLocked writes the snapshot atomically. Callers must hold the
// write lock.
func (a *Adapter) persistLocked() error {
	data, err := cbor.Marshal(a.items)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, a.mode); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
