// Copyright 2026 The mapcache authors.
// SPDX-License-Identifier: Apache-2.0

package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tomhel/mapcache/reqctx"
)

// DiskLocker implements Locker with exclusively-created lock files on a
// local (or NFS-shared) filesystem. The lock file's content is the owning
// process's PID, written purely as a debugging aid; it is never parsed
// back to decide ownership.
type DiskLocker struct {
	Base
	Dir string
}

// NewDiskLocker creates a DiskLocker rooted at dir, which must already
// exist.
func NewDiskLocker(dir string, base Base) *DiskLocker {
	return &DiskLocker{Base: base, Dir: dir}
}

// diskToken is the lock file's path, handed back as the opaque Token.
type diskToken string

func diskLockPath(dir, resource string) string {
	return filepath.Join(dir, "_gc_lock"+Canonicalize(resource)+".lck")
}

// Canonicalize replaces the characters the original's lock key sanitizer
// replaces (space, '/', '~', '.', and the control characters \r \n \t \f
// \e \a \b) with '#', so a resource name derived from a tileset/grid/
// dimensions tuple is always a safe single path segment or memcache key.
func Canonicalize(resource string) string {
	var b strings.Builder
	b.Grow(len(resource))
	for _, r := range resource {
		switch r {
		case ' ', '/', '~', '.', '\r', '\n', '\t', '\f', 0x1b, '\a', '\b':
			b.WriteByte('#')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CanonicalizeKey is the memcache-key variant of Canonicalize. The disk
// and memcache canonicalization sets coincide in this implementation (the
// memcache key additionally clips to 250 bytes, done by the caller), so
// this is an alias kept distinct for call-site clarity.
func CanonicalizeKey(resource string) string { return Canonicalize(resource) }

func (d *DiskLocker) Acquire(ctx *reqctx.Context, resource string) (Result, Token) {
	path := diskLockPath(d.Dir, resource)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return Locked, diskToken(path)
		}
		ctx.SetErrorSource(reqctx.CodeInternal, "lock.disk", "failed to create lockfile %s: %v", path, err)
		return Noent, nil
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
	_ = f.Close()
	return Acquired, diskToken(path)
}

// Ping reports Locked for a lock file that still exists, except that a
// file older than d.Timeout() is treated as abandoned by a crashed owner
// and removed on the spot, mirroring the self-expiry MemcacheLocker gets
// for free from the server's "add" expiration: LockOrWait's waiters see
// Noent and stop waiting instead of wedging on a lock nobody will ever
// release, without needing the operator to run mapcache-seed
// -mode unlock-stale first.
func (d *DiskLocker) Ping(ctx *reqctx.Context, token Token) Result {
	path, ok := token.(diskToken)
	if !ok {
		return Noent
	}
	age, err := staleAge(string(path), time.Now())
	if err != nil {
		if os.IsNotExist(err) {
			return Noent
		}
		return Locked
	}
	if ttl := d.Timeout(); ttl > 0 && age > ttl {
		if rmErr := os.Remove(string(path)); rmErr != nil && !os.IsNotExist(rmErr) {
			return Locked
		}
		return Noent
	}
	return Locked
}

func (d *DiskLocker) Release(ctx *reqctx.Context, token Token) {
	path, ok := token.(diskToken)
	if !ok {
		return
	}
	if err := os.Remove(string(path)); err != nil && !os.IsNotExist(err) {
		ctx.SetErrorSource(reqctx.CodeInternal, "lock.disk", "failed to remove lockfile %s: %v", path, err)
	}
}

// staleAge reports how long path's lock file has existed. Ping uses it to
// expire a lock file older than Timeout(), and RemoveStaleLocks uses it to
// remove lock files older than an operator-chosen age.
func staleAge(path string, now time.Time) (time.Duration, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return now.Sub(fi.ModTime()), nil
}

// RemoveStaleLocks deletes every "_gc_lock*.lck" file under dir whose age
// exceeds maxAge, and returns the number of files removed. It backs the
// mapcache-seed "unlock-stale" operator command, which reclaims lock files
// left by crashed workers sooner than DiskLocker.Ping's own Timeout()-based
// expiry does, once an operator is confident no live worker still owns
// them.
func RemoveStaleLocks(dir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "_gc_lock") || !strings.HasSuffix(name, ".lck") {
			continue
		}
		path := filepath.Join(dir, name)
		age, err := staleAge(path, now)
		if err != nil {
			continue
		}
		if age <= maxAge {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("removing stale lock %s: %w", path, err)
		}
		removed++
	}
	return removed, nil
}
