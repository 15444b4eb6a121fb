package store

import (
	"strings"
	"sync"
	"sync/atomic"
)

// SubscribeOptions configures a subscription.
type SubscribeOptions struct {
	// Prefix filters changes to keys starting with the given prefix.
	// Empty matches every key.
	Prefix string

	// Buffer overrides the store's default channel capacity.
	Buffer int
}

// WithPrefix filters the subscription to keys under prefix.
func WithPrefix(prefix string) func(o *SubscribeOptions) {
	return func(o *SubscribeOptions) { o.Prefix = prefix }
}

// WithBuffer sets the subscription channel capacity.
func WithBuffer(n int) func(o *SubscribeOptions) {
	return func(o *SubscribeOptions) { o.Buffer = n }
}

// Subscription delivers Change notifications for matching keys. When the
// channel buffer is full the change is dropped and counted instead of
// blocking the writer; the store itself always holds the latest state.
type Subscription struct {
	id      int64
	store   *Store
	prefix  string
	ch      chan Change
	dropped atomic.Uint64
	once    sync.Once
}

// Subscribe registers a new subscription on the store. The returned
// subscription must be closed when no longer needed.
func (s *Store) Subscribe(optFns ...func(o *SubscribeOptions)) (*Subscription, error) {
	opts := SubscribeOptions{Buffer: s.bufSize}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Buffer <= 0 {
		opts.Buffer = s.bufSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	s.nextSub++
	sub := &Subscription{
		id:     s.nextSub,
		store:  s,
		prefix: opts.Prefix,
		ch:     make(chan Change, opts.Buffer),
	}
	s.subs[sub.id] = sub
	return sub, nil
}

// Changes returns the notification channel. It is closed when the
// subscription or the store closes.
func (s *Subscription) Changes() <-chan Change {
	return s.ch
}

// Dropped reports how many changes were discarded because the channel
// buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.store.mu.Lock()
	delete(s.store.subs, s.id)
	s.store.mu.Unlock()
	s.shutdown()
}

// shutdown closes the channel. Callers must guarantee no concurrent
// offer, either by holding the store lock or by having removed the
// subscription from the map first.
func (s *Subscription) shutdown() {
	s.once.Do(func() { close(s.ch) })
}

// offer attempts a non-blocking delivery. Called with the store lock
// held, so the channel cannot close concurrently.
func (s *Subscription) offer(change Change) {
	if s.prefix != "" && !strings.HasPrefix(change.Key, s.prefix) {
		return
	}
	select {
	case s.ch <- change:
	default:
		s.dropped.Add(1)
	}
}
