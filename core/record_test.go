package core

import (
	"testing"
	"time"
)

func TestRecord_NextPreservesCreation(t *testing.T) {
	r := NewRecord("k", "v1")
	if r.Version != 1 {
		t.Fatalf("expected version 1, got %d", r.Version)
	}

	next := r.Next("v2")
	if next.Version != 2 {
		t.Fatalf("expected version 2, got %d", next.Version)
	}
	if !next.CreatedAt.Equal(r.CreatedAt) {
		t.Error("Next should preserve CreatedAt")
	}
	if next.UpdatedAt.Before(r.UpdatedAt) {
		t.Error("Next should not move UpdatedAt backwards")
	}
	if next.Value.(string) != "v2" {
		t.Errorf("unexpected value: %v", next.Value)
	}
}

func TestRecord_MergeLastWriteWins(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	older := Record{Key: "k", Value: "old", Version: 3, UpdatedAt: base}
	newer := Record{Key: "k", Value: "new", Version: 2, UpdatedAt: base.Add(time.Second)}

	if got := older.Merge(newer); got.Value != "new" {
		t.Errorf("newer timestamp should win, got %v", got.Value)
	}
	if got := newer.Merge(older); got.Value != "new" {
		t.Errorf("merge should be symmetric, got %v", got.Value)
	}
}

func TestRecord_MergeTiebreaksOnVersion(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := Record{Key: "k", Value: "a", Version: 1, UpdatedAt: ts}
	b := Record{Key: "k", Value: "b", Version: 2, UpdatedAt: ts}

	if got := a.Merge(b); got.Value != "b" {
		t.Errorf("higher version should win the tie, got %v", got.Value)
	}
	if got := b.Merge(a); got.Value != "b" {
		t.Errorf("tiebreak should be symmetric, got %v", got.Value)
	}
}
