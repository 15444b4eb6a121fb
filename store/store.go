package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/localmesh/core"
	"github.com/hupe1980/localmesh/logging"
	"github.com/hupe1980/localmesh/storage"
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = fmt.Errorf("store: closed")

// Change describes one committed mutation. Deleted changes carry a nil
// Value.
type Change struct {
	Key       string    `json:"key"`
	Value     any       `json:"value,omitempty"`
	Version   uint64    `json:"version"`
	Deleted   bool      `json:"deleted,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Options configures a Store.
type Options struct {
	// Adapter enables write-through persistence. Nil keeps the store
	// purely in memory.
	Adapter storage.Adapter

	// Logger receives store diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger

	// SubscriptionBuffer is the default channel capacity for new
	// subscriptions. Defaults to 16.
	SubscriptionBuffer int
}

// Store is an observable key/value state container. All methods are safe
// for concurrent use. Writes serialize on one lock; the store targets
// local-first application state, not throughput-critical paths.
type Store struct {
	mu      sync.RWMutex
	records map[string]core.Record
	subs    map[int64]*Subscription
	nextSub int64
	adapter storage.Adapter
	logger  logging.Logger
	bufSize int
	closed  bool
}

// New creates an empty store.
func New(optFns ...func(o *Options)) *Store {
	opts := Options{Logger: logging.NoOpLogger{}, SubscriptionBuffer: 16}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.SubscriptionBuffer <= 0 {
		opts.SubscriptionBuffer = 16
	}

	return &Store{
		records: make(map[string]core.Record),
		subs:    make(map[int64]*Subscription),
		adapter: opts.Adapter,
		logger:  opts.Logger,
		bufSize: opts.SubscriptionBuffer,
	}
}

// WithAdapter wires a persistence adapter.
func WithAdapter(adapter storage.Adapter) func(o *Options) {
	return func(o *Options) { o.Adapter = adapter }
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = logger }
}

// Load hydrates the store from its adapter. Records already in memory are
// merged by last write wins, so Load is safe to call on a warm store.
// Without an adapter it is a no-op.
func (s *Store) Load(ctx context.Context) error {
	if s.adapter == nil {
		return nil
	}

	keys, err := s.adapter.Keys(ctx)
	if err != nil {
		return fmt.Errorf("load keys: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	for _, key := range keys {
		data, err := s.adapter.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("load %q: %w", key, err)
		}
		var rec core.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode %q: %w", key, err)
		}
		if existing, ok := s.records[key]; ok {
			rec = existing.Merge(rec)
		}
		s.records[key] = rec
	}

	s.logger.Debug("store hydrated", "keys", len(keys))
	return nil
}

// Get returns the current value for key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, false
	}
	return rec.Value, true
}

// GetRecord returns the full record for key, including version metadata.
func (s *Store) GetRecord(key string) (core.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec, ok
}

// Set stores value under key. With an adapter configured the write is
// persisted first; a persistence failure leaves the in-memory state
// untouched and is returned to the caller.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	var rec core.Record
	if existing, ok := s.records[key]; ok {
		rec = existing.Next(value)
	} else {
		rec = core.NewRecord(key, value)
	}

	if err := s.persistLocked(ctx, rec); err != nil {
		return err
	}

	s.records[key] = rec
	s.notifyLocked(Change{Key: key, Value: rec.Value, Version: rec.Version, UpdatedAt: rec.UpdatedAt})
	return nil
}

// Update applies fn to the current value (or nil if absent) and stores the
// result, all under one critical section. fn runs with the store lock held
// and must not call back into the store. It returns the stored value.
func (s *Store) Update(ctx context.Context, key string, fn func(current any, exists bool) any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	existing, ok := s.records[key]
	var next core.Record
	if ok {
		next = existing.Next(fn(existing.Value, true))
	} else {
		next = core.NewRecord(key, fn(nil, false))
	}

	if err := s.persistLocked(ctx, next); err != nil {
		return nil, err
	}

	s.records[key] = next
	s.notifyLocked(Change{Key: key, Value: next.Value, Version: next.Version, UpdatedAt: next.UpdatedAt})
	return next.Value, nil
}

// Delete removes key from the store and the adapter. Deleting a missing
// key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	rec, ok := s.records[key]
	if !ok {
		return nil
	}

	if s.adapter != nil {
		if err := s.adapter.Remove(ctx, key); err != nil {
			return fmt.Errorf("remove %q: %w", key, err)
		}
	}

	delete(s.records, key)
	s.notifyLocked(Change{Key: key, Version: rec.Version, Deleted: true, UpdatedAt: time.Now().UTC()})
	return nil
}

// Clear drops every key, notifying subscribers per key.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if s.adapter != nil {
		if err := s.adapter.Clear(ctx); err != nil {
			return fmt.Errorf("clear adapter: %w", err)
		}
	}

	now := time.Now().UTC()
	for key, rec := range s.records {
		s.notifyLocked(Change{Key: key, Version: rec.Version, Deleted: true, UpdatedAt: now})
	}
	s.records = make(map[string]core.Record)
	return nil
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of the current key/value view. Values are shared
// with the store; treat them as read-only.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[string]any, len(s.records))
	for k, rec := range s.records {
		snap[k] = rec.Value
	}
	return snap
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close closes every subscription and rejects further mutations. The
// adapter is not closed; the store does not own it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, sub := range s.subs {
		sub.shutdown()
		delete(s.subs, id)
	}
	return nil
}

func (s *Store) persistLocked(ctx context.Context, rec core.Record) error {
	if s.adapter == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %q: %w", rec.Key, err)
	}
	if err := s.adapter.Set(ctx, rec.Key, data); err != nil {
		return fmt.Errorf("persist %q: %w", rec.Key, err)
	}
	return nil
}

func (s *Store) notifyLocked(change Change) {
	for _, sub := range s.subs {
		sub.offer(change)
	}
}
