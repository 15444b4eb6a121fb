// Package store implements the observable application state store: a
// concurrency-safe key/value map whose values carry versions and
// timestamps, with change notifications fanned out to subscribers over
// bounded channels.
//
// Conflicting writes resolve by last write wins; the per-key Version is a
// monotonic counter used only to break timestamp ties. An optional
// storage.Adapter turns the store into a write-through persistent state
// layer that can rehydrate itself on startup via Load.
//
// Subscribers receive Change notifications, not guaranteed delivery of
// every intermediate value: when a subscriber's buffer is full the
// notification is dropped and counted. The current state remains readable
// from the store itself.
package store
