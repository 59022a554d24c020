package cache

import (
	"context"
	"testing"
	"time"
)

func TestRistrettoCacheSetGetRoundTrip(t *testing.T) {
	c, err := NewRistrettoCache(RistrettoOptions{NumCounters: 100, MaxCost: 1 << 20, BufferItems: 64})
	if err != nil {
		t.Fatalf("NewRistrettoCache: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	mod := time.Unix(1700000000, 0)
	if err := c.Set(ctx, "k", []byte("tile-bytes"), mod, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	c.c.Wait() // ristretto applies Set asynchronously; make it visible before Get

	value, got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(value) != "tile-bytes" {
		t.Fatalf("got value %q, want %q", value, "tile-bytes")
	}
	if !got.Equal(mod) {
		t.Fatalf("got modTime %v, want %v", got, mod)
	}
}

func TestRistrettoCacheGetMissReturnsErrMiss(t *testing.T) {
	c, err := NewRistrettoCache(RistrettoOptions{NumCounters: 100, MaxCost: 1 << 20, BufferItems: 64})
	if err != nil {
		t.Fatalf("NewRistrettoCache: %v", err)
	}
	defer c.Close()

	if _, _, err := c.Get(context.Background(), "absent"); err != ErrMiss {
		t.Fatalf("got %v, want ErrMiss", err)
	}
}

func TestRistrettoCacheDeleteRemovesEntry(t *testing.T) {
	c, err := NewRistrettoCache(RistrettoOptions{NumCounters: 100, MaxCost: 1 << 20, BufferItems: 64})
	if err != nil {
		t.Fatalf("NewRistrettoCache: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("v"), time.Now(), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	c.c.Wait()
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	c.c.Wait()

	if _, _, err := c.Get(ctx, "k"); err != ErrMiss {
		t.Fatalf("got %v, want ErrMiss after delete", err)
	}
}
