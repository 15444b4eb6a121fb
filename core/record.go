package core

import (
	"time"
)

// Record is the unit of storage for the state layer: an opaque value plus
// the bookkeeping needed for last-write-wins reconciliation.
//
// Contract:
//   - Version increases monotonically per key (the store assigns it)
//   - UpdatedAt decides conflicts; on equal timestamps the higher Version wins
//   - Merge never mutates its inputs.
type Record struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	Version   uint64    `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewRecord creates a version-1 record stamped with the current time.
func NewRecord(key string, value any) Record {
	now := time.Now().UTC()
	return Record{Key: key, Value: value, Version: 1, CreatedAt: now, UpdatedAt: now}
}

// Next returns the successor record holding value, bumping Version and
// UpdatedAt while preserving CreatedAt.
func (r Record) Next(value any) Record {
	return Record{
		Key:       r.Key,
		Value:     value,
		Version:   r.Version + 1,
		CreatedAt: r.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}
}

// Merge resolves two records for the same key by last write wins and
// returns the survivor.
func (r Record) Merge(other Record) Record {
	if other.UpdatedAt.After(r.UpdatedAt) {
		return other
	}
	if other.UpdatedAt.Equal(r.UpdatedAt) && other.Version > r.Version {
		return other
	}
	return r
}
