// Copyright 2026 The mapcache authors.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tomhel/mapcache/metrics"
)

// MultiTier composes several cache tiers into one: reads descend from the
// first tier, and a hit in tier i is promoted into every tier above it
// (0..i-1) so the next read for the same key is satisfied by the fastest
// tier. Writes go only to the designated writer tier, resolved by
// NewMultiTier exactly the way the original chooses a multitier cache's
// write_cache_idx: an explicit writer wins, otherwise the last child
// without an explicit non-writer marking does, and it is an error to
// configure a multitier cache with no writable child at all.
type MultiTier struct {
	tiers     []Backend
	writerIdx int
	log       *zap.Logger

	met  *metrics.Metrics
	name string
}

// SetMetrics arms CacheOps instrumentation on m, labeling every recorded
// operation with name (the multitier cache's own configured name, not any
// tileset that happens to reference it).
func (m *MultiTier) SetMetrics(met *metrics.Metrics, name string) {
	m.met = met
	m.name = name
}

func (m *MultiTier) observe(tier int, outcome string) {
	if m.met == nil {
		return
	}
	m.met.CacheOps.WithLabelValues(m.name, strconv.Itoa(tier), outcome).Inc()
}

// TierSpec names one child of a multitier cache and whether it has been
// explicitly marked as the writer (Write true) or explicitly excluded
// from being the writer (Write false, WriteSet true). A child that omits
// the write attribute entirely leaves WriteSet false.
type TierSpec struct {
	Backend  Backend
	Write    bool
	WriteSet bool
}

// ErrNoWritableTier is returned by NewMultiTier when no child qualifies as
// the writer: every child explicitly set write="false" and none set
// write="true".
var ErrNoWritableTier = errors.New("cache: multitier has no child cache configured as writable")

// ErrMultipleWriters is returned when more than one child sets
// write="true".
var ErrMultipleWriters = errors.New("cache: multitier has write attribute set to true on more than one child cache")

// NewMultiTier builds a MultiTier from specs, resolving the writer tier
// with the same algorithm as the original's XML config parser.
func NewMultiTier(specs []TierSpec, log *zap.Logger) (*MultiTier, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if len(specs) == 0 {
		return nil, errors.New("cache: multitier does not reference any child caches")
	}

	writeIdx := -1
	lastImplicitWritable := -1
	for i, s := range specs {
		if s.WriteSet {
			if s.Write {
				if writeIdx >= 0 {
					return nil, ErrMultipleWriters
				}
				writeIdx = i
			}
			continue
		}
		// write attribute not set: writable by default, remember the last one
		lastImplicitWritable = i
	}

	if writeIdx < 0 {
		if lastImplicitWritable < 0 {
			return nil, ErrNoWritableTier
		}
		writeIdx = lastImplicitWritable
	}

	tiers := make([]Backend, len(specs))
	for i, s := range specs {
		tiers[i] = s.Backend
	}
	return &MultiTier{tiers: tiers, writerIdx: writeIdx, log: log}, nil
}

func (m *MultiTier) Exists(ctx context.Context, key string) (bool, error) {
	for _, t := range m.tiers {
		ok, err := t.Exists(ctx, key)
		if err == nil && ok {
			return true, nil
		}
	}
	return false, nil
}

// Get reads tier 0 first; on miss it tries the remaining tiers in order,
// and on the first hit among them promotes the value into every tier
// above the one that had it, exactly mirroring
// _mapcache_cache_multitier_tile_get's "for(--i;i>=0;i--) tile_set" loop.
// A tier reporting anything other than ErrMiss is a failure, not a miss,
// and is returned to the caller immediately instead of being descended
// past, the same way _mapcache_cache_multitier_tile_get returns tier 0's
// status directly when it isn't MAPCACHE_CACHE_MISS.
func (m *MultiTier) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	value, modTime, err := m.tiers[0].Get(ctx, key)
	if err == nil {
		m.observe(0, "hit")
		return value, modTime, nil
	}
	if !errors.Is(err, ErrMiss) {
		m.observe(0, "error")
		return nil, time.Time{}, err
	}
	m.observe(0, "miss")

	for i := 1; i < len(m.tiers); i++ {
		value, modTime, err = m.tiers[i].Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrMiss) {
				m.observe(i, "miss")
				continue
			}
			m.observe(i, "error")
			return nil, time.Time{}, err
		}
		m.observe(i, "hit")
		m.log.Debug("got tile from secondary cache tier", zap.Int("tier", i), zap.String("key", key))
		for j := i - 1; j >= 0; j-- {
			if setErr := m.tiers[j].Set(ctx, key, value, modTime, 0); setErr != nil {
				m.log.Debug("failed promoting tile to upper tier", zap.Int("tier", j), zap.Error(setErr))
			} else {
				m.observe(j, "promote")
				m.log.Debug("transferred tile to upper cache tier", zap.Int("tier", j), zap.String("key", key))
			}
		}
		return value, modTime, nil
	}
	return nil, time.Time{}, ErrMiss
}

func (m *MultiTier) Set(ctx context.Context, key string, value []byte, modTime time.Time, ttl time.Duration) error {
	return m.tiers[m.writerIdx].Set(ctx, key, value, modTime, ttl)
}

func (m *MultiTier) MultiSet(ctx context.Context, items map[string][]byte, modTime time.Time, ttl time.Duration) error {
	return m.tiers[m.writerIdx].MultiSet(ctx, items, modTime, ttl)
}

// Delete removes key from every tier, ignoring individual tier errors the
// same way the original clears context errors between children so one
// dead tier doesn't prevent deleting from the rest.
func (m *MultiTier) Delete(ctx context.Context, key string) error {
	for _, t := range m.tiers {
		if err := t.Delete(ctx, key); err != nil {
			m.log.Debug("ignoring delete error from multitier child", zap.Error(err))
		}
	}
	return nil
}

func (m *MultiTier) Close() error {
	var first error
	for _, t := range m.tiers {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
