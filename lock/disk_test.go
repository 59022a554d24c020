// Copyright 2026 The mapcache authors.
// SPDX-License-Identifier: Apache-2.0

package lock

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCanonicalizeReplacesReservedCharacters(t *testing.T) {
	in := "tileset grid/3~4.5\r\n\t\f\x1b\a\b"
	want := "tileset#grid#3#4#5#######" // one '#' per reserved rune above
	if got := Canonicalize(in); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCanonicalizeLeavesOrdinaryCharactersAlone(t *testing.T) {
	in := "basemap-webmercator-3-4-5"
	if got := Canonicalize(in); got != in {
		t.Fatalf("got %q, want unchanged %q", got, in)
	}
}

func TestDiskLockerAcquireLockedRelease(t *testing.T) {
	dir := t.TempDir()
	d := NewDiskLocker(dir, DefaultBase())
	ctx := newTestCtx()

	res, tok := d.Acquire(ctx, "basemap/3/4/5")
	if res != Acquired {
		t.Fatalf("first Acquire = %v, want Acquired", res)
	}

	res2, _ := d.Acquire(ctx, "basemap/3/4/5")
	if res2 != Locked {
		t.Fatalf("second Acquire on held lock = %v, want Locked", res2)
	}

	if got := d.Ping(ctx, tok); got != Locked {
		t.Fatalf("Ping on held lock = %v, want Locked", got)
	}

	d.Release(ctx, tok)

	if got := d.Ping(ctx, tok); got != Noent {
		t.Fatalf("Ping after Release = %v, want Noent", got)
	}

	res3, _ := d.Acquire(ctx, "basemap/3/4/5")
	if res3 != Acquired {
		t.Fatalf("Acquire after Release = %v, want Acquired", res3)
	}
}

func TestDiskLockerPingUnknownTokenIsNoent(t *testing.T) {
	d := NewDiskLocker(t.TempDir(), DefaultBase())
	ctx := newTestCtx()
	if got := d.Ping(ctx, "not-a-disk-token"); got != Noent {
		t.Fatalf("got %v, want Noent for a token of the wrong type", got)
	}
}

func TestDiskLockerPingExpiresLockOlderThanTimeoutAndRemovesFile(t *testing.T) {
	dir := t.TempDir()
	d := NewDiskLocker(dir, Base{Retry: time.Millisecond, MaxWait: 50 * time.Millisecond})
	ctx := newTestCtx()

	res, tok := d.Acquire(ctx, "basemap/3/4/5")
	if res != Acquired {
		t.Fatalf("Acquire = %v, want Acquired", res)
	}

	path := string(tok.(diskToken))
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	if got := d.Ping(ctx, tok); got != Noent {
		t.Fatalf("Ping on an abandoned lock older than Timeout() = %v, want Noent", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected the abandoned lock file to be removed, stat err = %v", err)
	}

	res2, _ := d.Acquire(ctx, "basemap/3/4/5")
	if res2 != Acquired {
		t.Fatalf("Acquire after auto-expiry = %v, want Acquired", res2)
	}
}

func TestStaleAgeReportsFileAge(t *testing.T) {
	dir := t.TempDir()
	d := NewDiskLocker(dir, DefaultBase())
	ctx := newTestCtx()
	_, tok := d.Acquire(ctx, "r")

	path := string(tok.(diskToken))
	later := time.Now().Add(10 * time.Minute)
	age, err := staleAge(path, later)
	if err != nil {
		t.Fatalf("staleAge: %v", err)
	}
	if age < 9*time.Minute {
		t.Fatalf("got age=%v, want at least ~10m", age)
	}
}

func TestRemoveStaleLocksDeletesOnlyLocksOlderThanMaxAge(t *testing.T) {
	dir := t.TempDir()
	d := NewDiskLocker(dir, DefaultBase())
	ctx := newTestCtx()

	_, oldTok := d.Acquire(ctx, "old")
	_, freshTok := d.Acquire(ctx, "fresh")

	now := time.Now()
	oldPath := string(oldTok.(diskToken))
	if err := os.Chtimes(oldPath, now.Add(-2*time.Hour), now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	removed, err := RemoveStaleLocks(dir, time.Hour, now)
	if err != nil {
		t.Fatalf("RemoveStaleLocks: %v", err)
	}
	if removed != 1 {
		t.Fatalf("got removed=%d, want 1", removed)
	}
	if d.Ping(ctx, oldTok) != Noent {
		t.Fatal("expected the stale lock file to be gone")
	}
	if d.Ping(ctx, freshTok) != Locked {
		t.Fatal("expected the fresh lock file to survive")
	}
}

func TestRemoveStaleLocksIgnoresNonLockFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "not-a-lock.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Chtimes(filepath.Join(dir, "not-a-lock.txt"), time.Now().Add(-2*time.Hour), time.Now().Add(-2*time.Hour)); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	removed, err := RemoveStaleLocks(dir, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("RemoveStaleLocks: %v", err)
	}
	if removed != 0 {
		t.Fatalf("got removed=%d, want 0: non-lock files must be left alone", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "not-a-lock.txt")); err != nil {
		t.Fatalf("expected the non-lock file to survive: %v", err)
	}
}
