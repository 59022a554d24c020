package cache

import (
	"context"
	"testing"
	"time"
)

func TestDiskCacheSetGetRoundTrip(t *testing.T) {
	c, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	mod := time.Unix(1700000000, 0)
	if err := c.Set(ctx, "tileset/0/0/0.png", []byte("tile-bytes"), mod, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	value, got, err := c.Get(ctx, "tileset/0/0/0.png")
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

func TestShardTransformPadsKeysShorterThanFourBytes(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", []string{"__", "__"}},
		{"a", []string{"a_", "__"}},
		{"ab", []string{"ab", "__"}},
		{"abc", []string{"ab", "c_"}},
		{"abcd", []string{"ab", "cd"}},
		{"abcdef", []string{"ab", "cd"}},
	}
	for _, c := range cases {
		got := shardTransform(c.in)
		if len(got) != 2 || got[0] != c.want[0] || got[1] != c.want[1] {
			t.Fatalf("shardTransform(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestDiskCacheSetGetRoundTripWithShortKey(t *testing.T) {
	c, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "a", []byte("v"), time.Unix(1700000000, 0), 0); err != nil {
		t.Fatalf("Set with a key shorter than 4 bytes must not panic: %v", err)
	}
	value, _, err := c.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(value) != "v" {
		t.Fatalf("got %q, want %q", value, "v")
	}
}

func TestDiskCacheGetMissReturnsErrMiss(t *testing.T) {
	c, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	defer c.Close()

	if _, _, err := c.Get(context.Background(), "absent"); err != ErrMiss {
		t.Fatalf("got %v, want ErrMiss", err)
	}
}

func TestDiskCacheExpiredEntryIsTreatedAsMiss(t *testing.T) {
	c, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("v"), time.Now(), time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, _, err := c.Get(ctx, "k"); err != ErrMiss {
		t.Fatalf("got %v, want ErrMiss for an expired entry", err)
	}
	if ok, err := c.Exists(ctx, "k"); err != nil || ok {
		t.Fatalf("Exists after expiry = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestDiskCacheDeleteThenMissIsNotAnError(t *testing.T) {
	c, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("v"), time.Now(), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("second Delete = %v, want nil", err)
	}
	if _, _, err := c.Get(ctx, "k"); err != ErrMiss {
		t.Fatalf("got %v, want ErrMiss", err)
	}
}
