// Copyright 2026 The mapcache authors.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterbourgon/diskv"
)

// DiskCache is a local-filesystem tier backed by diskv, grounded on
// ttldiskcache: values live under a sharded diskv store while a small gob
// sidecar per key records modTime and expiry so Get can enforce TTL and
// serve conditional-GET metadata without re-parsing the tile bytes.
type DiskCache struct {
	d           *diskv.Diskv
	metadataDir string
}

type diskMeta struct {
	ModTime time.Time
	Expiry  time.Time // zero means no expiry
}

// NewDiskCache creates a disk tier rooted at basePath.
func NewDiskCache(basePath string) (*DiskCache, error) {
	d := diskv.New(diskv.Options{
		BasePath:     basePath,
		Transform:    shardTransform,
		CacheSizeMax: 0,
	})
	metadataDir := filepath.Join(basePath, "_metadata")
	if err := os.MkdirAll(metadataDir, 0755); err != nil {
		return nil, err
	}
	return &DiskCache{d: d, metadataDir: metadataDir}, nil
}

// shardTransform buckets a key into a two-level directory tree by its
// first four bytes, padding short keys with '_' so a cache key under 4
// bytes (unusual, but not something tile.ID.CacheKey ever produces) still
// gets a valid, deterministic shard instead of panicking on a short slice.
func shardTransform(s string) []string {
	const padLen = 4
	if len(s) < padLen {
		s += strings.Repeat("_", padLen-len(s))
	}
	return []string{s[0:2], s[2:4]}
}

func (c *DiskCache) metaPath(key string) string {
	return filepath.Join(c.metadataDir, key+".meta")
}

func (c *DiskCache) loadMeta(key string) (diskMeta, error) {
	var m diskMeta
	raw, err := os.ReadFile(c.metaPath(key))
	if err != nil {
		return m, err
	}
	err = gob.NewDecoder(bytes.NewReader(raw)).Decode(&m)
	return m, err
}

func (c *DiskCache) saveMeta(key string, m diskMeta) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return err
	}
	return os.WriteFile(c.metaPath(key), buf.Bytes(), 0644)
}

func (c *DiskCache) Exists(ctx context.Context, key string) (bool, error) {
	if !c.d.Has(key) {
		return false, nil
	}
	m, err := c.loadMeta(key)
	if err == nil && !m.Expiry.IsZero() && time.Now().After(m.Expiry) {
		_ = c.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

func (c *DiskCache) Get(_ context.Context, key string) ([]byte, time.Time, error) {
	if !c.d.Has(key) {
		return nil, time.Time{}, ErrMiss
	}
	m, err := c.loadMeta(key)
	if err == nil && !m.Expiry.IsZero() && time.Now().After(m.Expiry) {
		_ = c.d.Erase(key)
		_ = os.Remove(c.metaPath(key))
		return nil, time.Time{}, ErrMiss
	}
	value, err := c.d.Read(key)
	if err != nil {
		return nil, time.Time{}, ErrMiss
	}
	return value, m.ModTime, nil
}

func (c *DiskCache) Set(_ context.Context, key string, value []byte, modTime time.Time, ttl time.Duration) error {
	m := diskMeta{ModTime: modTime}
	if ttl > 0 {
		m.Expiry = time.Now().Add(ttl)
	}
	// A key containing '/' lands in subdirectories of both the metadata
	// dir and the diskv shard dir; create them before writing.
	dataPath := filepath.Join(append(append([]string{c.d.BasePath}, shardTransform(key)...), key)...)
	for _, p := range []string{c.metaPath(key), dataPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return err
		}
	}
	if err := c.saveMeta(key, m); err != nil {
		return err
	}
	return c.d.WriteStream(key, bytes.NewReader(value), true)
}

func (c *DiskCache) MultiSet(ctx context.Context, items map[string][]byte, modTime time.Time, ttl time.Duration) error {
	for k, v := range items {
		if err := c.Set(ctx, k, v, modTime, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (c *DiskCache) Delete(_ context.Context, key string) error {
	if err := c.d.Erase(key); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(c.metaPath(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (c *DiskCache) Close() error { return nil }
