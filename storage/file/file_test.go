package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/localmesh/storage"
)

// Interface compliance (compile-time assertion)
var _ storage.Adapter = (*Adapter)(nil)

func TestFileAdapter_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	a, err := NewAdapter(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := a.Set(ctx, "greeting", []byte("hello")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewAdapter(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	out, err := reopened.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("expected 'hello', got %q", string(out))
	}
}

func TestFileAdapter_RemoveAndClearPersist(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	a, err := NewAdapter(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = a.Set(ctx, "k1", []byte("1"))
	_ = a.Set(ctx, "k2", []byte("2"))

	if err := a.Remove(ctx, "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_ = a.Close()

	reopened, err := NewAdapter(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reopened.Get(ctx, "k1"); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Fatalf("removed key should stay gone after reopen, got %v", err)
	}

	if err := reopened.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n, _ := reopened.Len(ctx); n != 0 {
		t.Fatalf("expected empty store, got %d", n)
	}
	_ = reopened.Close()
}

func TestFileAdapter_MissingKey(t *testing.T) {
	a, err := NewAdapter(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if _, err := a.Get(context.Background(), "nope"); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestFileAdapter_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "state.db")

	a, err := NewAdapter(path)
	if err != nil {
		t.Fatalf("open with nested path: %v", err)
	}
	if err := a.Set(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = a.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot file should exist: %v", err)
	}
}

func TestFileAdapter_OperationsAfterClose(t *testing.T) {
	a, err := NewAdapter(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	_ = a.Close()

	if err := a.Set(context.Background(), "k", nil); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("double close should be a no-op, got %v", err)
	}
}

func TestFileAdapter_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")

	a, err := NewAdapter(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = a.Set(context.Background(), "k", []byte("v"))
	_ = a.Close()

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file should be renamed away, stat err: %v", err)
	}
}
