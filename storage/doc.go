// Package storage defines the key/value contract the framework persists
// through, plus the default in-memory Adapter.
//
// The Adapter interface is deliberately small: opaque byte values under
// string keys with get/set/remove/clear/keys semantics and last write wins
// on conflicting sets. Durable backends live in subpackages (file, redis)
// so callers only link the engines they use. Callers should depend on the
// Adapter interface rather than concrete types so backends can be swapped
// in tests or production without touching calling code.
package storage
