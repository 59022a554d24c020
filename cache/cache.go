// Copyright 2026 The mapcache authors.
// SPDX-License-Identifier: Apache-2.0

// Package cache defines the backend storage contract every cache tier
// satisfies and the tiers themselves: memory (bigcache, ristretto), disk
// (diskv), object storage (S3), a networked KV tier, and a multitier
// composite that reads tiers in order and promotes on hit.
//
// The interface is deliberately narrow and byte-for-byte transparent: a
// backend must return exactly the bytes it was given, the same contract
// cascache's provider.Provider documents, generalized here with an
// explicit Miss/Failure distinction so callers (the pipeline, mainly) can
// tell "not cached" (go render) apart from "this tier is down" (surface
// the error).
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is simply not present (Exists
// reports absence as (false, nil) instead).
// It is a sentinel, not a failure: callers should treat it as "go render",
// not "this tier is broken".
var ErrMiss = errors.New("cache: miss")

// Backend is the storage contract every cache tier implements.
type Backend interface {
	// Exists reports whether key is present, without fetching its value.
	Exists(ctx context.Context, key string) (bool, error)

	// Get fetches the value stored at key. Returns ErrMiss if absent.
	Get(ctx context.Context, key string) ([]byte, time.Time, error)

	// Set stores value under key with the given modification time and TTL
	// (ttl <= 0 means "no expiry", where the backend supports that).
	Set(ctx context.Context, key string, value []byte, modTime time.Time, ttl time.Duration) error

	// MultiSet stores several key/value pairs as one logical operation.
	// Backends without a native batch primitive may implement this as a
	// loop over Set; the point of the method is to give backends that do
	// have one (S3 batch delete aside, most don't for puts either) a
	// place to use it.
	MultiSet(ctx context.Context, items map[string][]byte, modTime time.Time, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the backend.
	Close() error
}

// Entry bundles a value with the metadata the pipeline needs for
// conditional GET support.
type Entry struct {
	Value   []byte
	ModTime time.Time
}
