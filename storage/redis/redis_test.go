package redis

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/hupe1980/localmesh/storage"
)

// Interface compliance (compile-time assertion)
var _ storage.Adapter = (*Adapter)(nil)

// Integration tests run only when a server is reachable, e.g.
//
//	LOCALMESH_REDIS_URL=redis://localhost:6379/15 go test ./storage/redis/
func integrationAdapter(t *testing.T) *Adapter {
	t.Helper()
	url := os.Getenv("LOCALMESH_REDIS_URL")
	if url == "" {
		t.Skip("LOCALMESH_REDIS_URL not set")
	}
	a, err := NewAdapter(context.Background(), url, func(o *Options) {
		o.Prefix = "localmesh-test:"
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = a.Clear(context.Background())
		_ = a.Close()
	})
	return a
}

func TestRedisAdapter_RoundTrip(t *testing.T) {
	a := integrationAdapter(t)
	ctx := context.Background()

	if err := a.Set(ctx, "greeting", []byte("hello")); err != nil {
		t.Fatalf("set: %v", err)
	}
	out, err := a.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("expected 'hello', got %q", string(out))
	}

	if _, err := a.Get(ctx, "missing"); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestRedisAdapter_KeysScopedToPrefix(t *testing.T) {
	a := integrationAdapter(t)
	ctx := context.Background()

	_ = a.Set(ctx, "k1", []byte("1"))
	_ = a.Set(ctx, "k2", []byte("2"))

	keys, err := a.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d: %v", len(keys), keys)
	}
	for _, k := range keys {
		if k != "k1" && k != "k2" {
			t.Fatalf("prefix should be stripped, got %q", k)
		}
	}

	if err := a.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n, _ := a.Len(ctx); n != 0 {
		t.Fatalf("expected empty keyspace after clear, got %d", n)
	}
}

func TestNewAdapter_BadURL(t *testing.T) {
	if _, err := NewAdapter(context.Background(), "not-a-url"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}
