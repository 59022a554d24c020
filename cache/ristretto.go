package cache

import (
	"context"
	"time"

	rc "github.com/dgraph-io/ristretto"
)

// RistrettoCache is an alternate in-process memory tier using ristretto's
// admission-policy based eviction, grounded on cascache's ristretto
// provider. Unlike MemoryCache it supports real per-entry TTL and a
// per-entry cost, so it is the preferred memory tier when tile sizes vary
// widely (vector tiles alongside large composited raster tiles).
type RistrettoCache struct {
	c *rc.Cache
}

// RistrettoOptions configures RistrettoCache.
type RistrettoOptions struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

// NewRistrettoCache creates a ristretto-backed tier.
func NewRistrettoCache(opts RistrettoOptions) (*RistrettoCache, error) {
	if opts.NumCounters <= 0 {
		opts.NumCounters = 1e7
	}
	if opts.MaxCost <= 0 {
		opts.MaxCost = 1 << 30 // 1GiB
	}
	if opts.BufferItems <= 0 {
		opts.BufferItems = 64
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: opts.NumCounters,
		MaxCost:     opts.MaxCost,
		BufferItems: opts.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoCache{c: c}, nil
}

type ristrettoEntry struct {
	value   []byte
	modTime time.Time
}

func (r *RistrettoCache) Exists(_ context.Context, key string) (bool, error) {
	_, ok := r.c.Get(key)
	return ok, nil
}

func (r *RistrettoCache) Get(_ context.Context, key string) ([]byte, time.Time, error) {
	v, ok := r.c.Get(key)
	if !ok {
		return nil, time.Time{}, ErrMiss
	}
	e, ok := v.(ristrettoEntry)
	if !ok {
		// self-heal: drop an unexpected entry shape rather than panic.
		r.c.Del(key)
		return nil, time.Time{}, ErrMiss
	}
	return e.value, e.modTime, nil
}

func (r *RistrettoCache) Set(_ context.Context, key string, value []byte, modTime time.Time, ttl time.Duration) error {
	cost := int64(len(value))
	ok := r.c.SetWithTTL(key, ristrettoEntry{value: value, modTime: modTime}, cost, ttl)
	if !ok {
		return nil // admission policy rejected it; not an error per contract
	}
	return nil
}

func (r *RistrettoCache) MultiSet(ctx context.Context, items map[string][]byte, modTime time.Time, ttl time.Duration) error {
	for k, v := range items {
		if err := r.Set(ctx, k, v, modTime, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (r *RistrettoCache) Delete(_ context.Context, key string) error {
	r.c.Del(key)
	return nil
}

func (r *RistrettoCache) Close() error {
	r.c.Wait()
	r.c.Close()
	return nil
}
