package storage

import (
	"context"
	"fmt"
)

var (
	// ErrKeyNotFound is returned when the requested key does not exist in
	// the underlying adapter.
	ErrKeyNotFound = fmt.Errorf("storage: key not found")

	// ErrClosed is returned by operations on an adapter that has been
	// closed.
	ErrClosed = fmt.Errorf("storage: adapter closed")
)

// Adapter is a pluggable storage backend. Values are opaque byte slices;
// implementations must copy on both write and read so callers can never
// alias internal buffers. Set overwrites unconditionally (last write wins).
//
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Clear removes every key owned by this adapter. On shared backends
	// implementations must scope the wipe to their own namespace.
	Clear(ctx context.Context) error

	// Keys returns a snapshot of all stored keys in unspecified order.
	Keys(ctx context.Context) ([]string, error)

	// Len returns the number of stored keys.
	Len(ctx context.Context) (int, error)

	// Close releases any resources held by the adapter. Operations after
	// Close return ErrClosed.
	Close() error
}
