// Copyright 2026 The mapcache authors.
// SPDX-License-Identifier: Apache-2.0

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/tomhel/mapcache/reqctx"
)

func newTestCtx() *reqctx.Context {
	return reqctx.New(context.Background(), nil, nil)
}

// fakeLocker is a minimal in-memory Locker for exercising LockOrWait and
// FallbackLocker without touching disk or the network.
type fakeLocker struct {
	Base
	acquireResult Result
	acquireErr    bool
	pingResults   []Result // consumed in order, repeats last entry once exhausted
	pingCalls     int
	released      bool
}

func (f *fakeLocker) Acquire(ctx *reqctx.Context, resource string) (Result, Token) {
	if f.acquireErr {
		ctx.SetErrorSource(reqctx.CodeUnavailable, "fake", "boom")
		return Noent, nil
	}
	return f.acquireResult, "token"
}

func (f *fakeLocker) Ping(ctx *reqctx.Context, token Token) Result {
	if len(f.pingResults) == 0 {
		return Noent
	}
	idx := f.pingCalls
	if idx >= len(f.pingResults) {
		idx = len(f.pingResults) - 1
	}
	f.pingCalls++
	return f.pingResults[idx]
}

func (f *fakeLocker) Release(ctx *reqctx.Context, token Token) { f.released = true }

func TestLockOrWaitAcquiresImmediately(t *testing.T) {
	l := &fakeLocker{Base: Base{Retry: time.Millisecond, MaxWait: time.Second}, acquireResult: Acquired}
	ctx := newTestCtx()

	owns, tok := LockOrWait(ctx, l, "resource")
	if !owns || tok != Token("token") {
		t.Fatalf("got owns=%v tok=%v, want true/token", owns, tok)
	}
}

func TestLockOrWaitStopsWaitingOnNoent(t *testing.T) {
	l := &fakeLocker{
		Base:          Base{Retry: time.Millisecond, MaxWait: time.Second},
		acquireResult: Locked,
		pingResults:   []Result{Locked, Locked, Noent},
	}
	ctx := newTestCtx()

	owns, _ := LockOrWait(ctx, l, "resource")
	if owns {
		t.Fatal("a losing worker must never report ownership")
	}
	if l.pingCalls != 3 {
		t.Fatalf("got %d ping calls, want 3 (stop exactly at Noent)", l.pingCalls)
	}
}

func TestLockOrWaitGivesUpAfterTimeoutWithoutForcingRelease(t *testing.T) {
	l := &fakeLocker{
		Base:          Base{Retry: time.Millisecond, MaxWait: 5 * time.Millisecond},
		acquireResult: Locked,
		pingResults:   []Result{Locked}, // never transitions to Noent
	}
	ctx := newTestCtx()

	owns, tok := LockOrWait(ctx, l, "resource")
	if owns || tok != nil {
		t.Fatalf("got owns=%v tok=%v, want false/nil on timeout", owns, tok)
	}
	if l.released {
		t.Fatal("LockOrWait must not force-release on timeout (see DESIGN.md REDESIGN note)")
	}
}

func TestLockOrWaitPropagatesAcquireError(t *testing.T) {
	l := &fakeLocker{Base: DefaultBase(), acquireErr: true}
	ctx := newTestCtx()

	owns, _ := LockOrWait(ctx, l, "resource")
	if owns {
		t.Fatal("must not report ownership when Acquire set an error")
	}
	if !ctx.HasError() {
		t.Fatal("expected the acquire error to propagate onto ctx")
	}
}

func TestLockOrWaitRespectsContextCancellation(t *testing.T) {
	l := &fakeLocker{
		Base:          Base{Retry: time.Second, MaxWait: time.Minute},
		acquireResult: Locked,
		pingResults:   []Result{Locked},
	}
	stdCtx, cancel := context.WithCancel(context.Background())
	ctx := reqctx.New(stdCtx, nil, nil)
	cancel()

	owns, _ := LockOrWait(ctx, l, "resource")
	if owns {
		t.Fatal("a cancelled context must never report ownership")
	}
}
