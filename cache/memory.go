// Copyright 2026 The mapcache authors.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"encoding/binary"
	"time"

	bc "github.com/allegro/bigcache/v3"
)

// MemoryCache is an in-process memory tier backed by bigcache, grounded on
// cascache's bigcache provider. bigcache has no per-entry TTL; entries
// expire on the cache's global LifeWindow, so the ttl argument to Set is
// ignored, and modTime is packed ahead of the value so Get can still
// report it.
type MemoryCache struct {
	c *bc.BigCache
}

// MemoryOptions configures MemoryCache.
type MemoryOptions struct {
	LifeWindow   time.Duration
	CleanWindow  time.Duration
	MaxEntrySize int
	HardMaxMB    int
}

// NewMemoryCache creates a bigcache-backed tier.
func NewMemoryCache(opts MemoryOptions) (*MemoryCache, error) {
	conf := bc.DefaultConfig(opts.LifeWindow)
	if opts.CleanWindow > 0 {
		conf.CleanWindow = opts.CleanWindow
	}
	if opts.MaxEntrySize > 0 {
		conf.MaxEntrySize = opts.MaxEntrySize
	}
	if opts.HardMaxMB > 0 {
		conf.HardMaxCacheSize = opts.HardMaxMB
	}
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{c: c}, nil
}

// modTime is packed as an 8-byte big-endian unix-nano prefix ahead of the
// value, since bigcache stores only a flat []byte per key.
func packModTime(modTime time.Time, value []byte) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf, uint64(modTime.UnixNano()))
	copy(buf[8:], value)
	return buf
}

func unpackModTime(buf []byte) (time.Time, []byte) {
	if len(buf) < 8 {
		return time.Time{}, buf
	}
	nanos := int64(binary.BigEndian.Uint64(buf))
	return time.Unix(0, nanos), buf[8:]
}

func (m *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	_, err := m.c.Get(key)
	if err == bc.ErrEntryNotFound {
		return false, nil
	}
	return err == nil, err
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, time.Time, error) {
	raw, err := m.c.Get(key)
	if err == bc.ErrEntryNotFound {
		return nil, time.Time{}, ErrMiss
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	modTime, value := unpackModTime(raw)
	return value, modTime, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, modTime time.Time, _ time.Duration) error {
	return m.c.Set(key, packModTime(modTime, value))
}

func (m *MemoryCache) MultiSet(ctx context.Context, items map[string][]byte, modTime time.Time, ttl time.Duration) error {
	for k, v := range items {
		if err := m.Set(ctx, k, v, modTime, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	err := m.c.Delete(key)
	if err == bc.ErrEntryNotFound {
		return nil
	}
	return err
}

func (m *MemoryCache) Close() error { return m.c.Close() }
