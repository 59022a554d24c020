// Copyright 2026 The mapcache authors.
// SPDX-License-Identifier: Apache-2.0

// Package pool implements the bounded connection pool described in the
// design: a per-key resource pool with a minimum reserve, soft and hard
// caps, and an idle TTL. One Pool can be shared across every alias of a
// host (MapCacheConnectionPoolSharing) or created per-alias; either way it
// partitions its bookkeeping by the caller-supplied key, typically the
// backend's name, the way lrucache partitions its LRU list by cache key.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tomhel/mapcache/metrics"
)

// Resource is anything the pool can own: a *sql.DB connection, a redis
// connection, a net.Conn to a memcache server. The pool never inspects it.
type Resource any

// Constructor creates a new Resource for key. It is called with the pool
// lock released, so it may block on network I/O.
type Constructor func(ctx context.Context) (Resource, error)

// Destructor releases a Resource that will never be reused.
type Destructor func(Resource)

// ErrTimeout is returned by Get when hmax is saturated and no connection
// frees up before the acquisition timeout elapses.
var ErrTimeout = errors.New("pool: timed out waiting for a free connection")

// Conn is a borrowed pooled connection. The borrower must call Release or
// Invalidate exactly once.
type Conn struct {
	Key       string
	Resource  Resource
	CreatedAt time.Time
	lastUsed  time.Time
	dtor      Destructor
	sp        *subpool
}

type subpool struct {
	idle    []*Conn
	live    int // borrowed + idle
	waiters []chan struct{}
}

// Options configures a Pool. Zero values fall back to the same defaults
// the Apache module documents for MapCacheConnectionPool*.
type Options struct {
	Min            int           // floor purgeExpiredLocked won't shrink idle connections below
	SMax           int           // soft cap; default 5
	HMax           int           // hard cap; default 200
	TTL            time.Duration // idle connection max age; default 60s
	AcquireTimeout time.Duration // default 5s
}

func (o Options) withDefaults() Options {
	if o.SMax <= 0 {
		o.SMax = 5
	}
	if o.HMax <= 0 {
		o.HMax = 200
	}
	if o.TTL <= 0 {
		o.TTL = 60 * time.Second
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 5 * time.Second
	}
	return o
}

// Pool is a bounded, keyed resource pool safe for concurrent use.
type Pool struct {
	opts Options
	log  *zap.Logger

	mu   sync.Mutex
	subs map[string]*subpool

	// now is overridable in tests to control TTL expiry deterministically.
	now func() time.Time

	metrics *metrics.Metrics
}

// SetMetrics arms PoolWaitTime/PoolLive instrumentation on p, labeled by
// the same key callers pass to Get and Stats.
func (p *Pool) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

func (p *Pool) observeWait(key string, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.PoolWaitTime.WithLabelValues(key).Observe(p.now().Sub(start).Seconds())
}

// setLiveGaugeLocked reports sp's current live count under key. Caller
// must hold p.mu.
func (p *Pool) setLiveGaugeLocked(key string, sp *subpool) {
	if p.metrics == nil {
		return
	}
	p.metrics.PoolLive.WithLabelValues(key).Set(float64(sp.live))
}

// New creates a Pool with the given options.
func New(opts Options, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		opts: opts.withDefaults(),
		log:  log,
		subs: make(map[string]*subpool),
		now:  time.Now,
	}
}

func (p *Pool) subpoolLocked(key string) *subpool {
	sp, ok := p.subs[key]
	if !ok {
		sp = &subpool{}
		p.subs[key] = sp
	}
	return sp
}

// purgeExpiredLocked destroys idle connections older than ttl, but only
// once the subpool is running above its soft cap, and never below the
// min reserve. Must be called with p.mu held.
func (p *Pool) purgeExpiredLocked(sp *subpool) {
	if p.opts.TTL <= 0 || sp.live <= p.opts.SMax {
		return
	}
	now := p.now()
	kept := sp.idle[:0]
	for _, c := range sp.idle {
		if sp.live > p.opts.Min && now.Sub(c.lastUsed) > p.opts.TTL {
			sp.live--
			if c.dtor != nil {
				c.dtor(c.Resource)
			}
			continue
		}
		kept = append(kept, c)
	}
	sp.idle = kept
}

// Get returns an exclusively-borrowed connection for key, constructing one
// via ctor if the pool has no idle connection to offer. It blocks up to
// opts.AcquireTimeout when hmax is already saturated, returning
// ErrTimeout if no slot frees up in time.
//
// Waiters queue FIFO per key: a goroutine that starts waiting before
// another is guaranteed to be served first once a slot frees up, rather
// than racing every blocked caller against every other on each wakeup.
func (p *Pool) Get(ctx context.Context, key string, ctor Constructor, dtor Destructor) (*Conn, error) {
	waitStart := p.now()
	defer p.observeWait(key, waitStart)

	deadline := waitStart.Add(p.opts.AcquireTimeout)

	p.mu.Lock()
	var ticket chan struct{}
	for {
		sp := p.subpoolLocked(key)
		p.purgeExpiredLocked(sp)

		queued := len(sp.waiters) > 0
		atFront := ticket != nil && queued && sp.waiters[0] == ticket
		if atFront || (ticket == nil && !queued) {
			if n := len(sp.idle); n > 0 {
				c := sp.idle[n-1]
				sp.idle = sp.idle[:n-1]
				c.lastUsed = p.now()
				p.dequeueLocked(sp, ticket)
				p.mu.Unlock()
				return c, nil
			}

			if sp.live < p.opts.HMax {
				sp.live++
				p.setLiveGaugeLocked(key, sp)
				p.dequeueLocked(sp, ticket)
				p.mu.Unlock()

				res, err := ctor(ctx)
				if err != nil {
					p.mu.Lock()
					sp.live--
					p.setLiveGaugeLocked(key, sp)
					p.notifyNextLocked(sp)
					p.mu.Unlock()
					return nil, err
				}

				now := p.now()
				return &Conn{
					Key:       key,
					Resource:  res,
					CreatedAt: now,
					lastUsed:  now,
					dtor:      dtor,
					sp:        sp,
				}, nil
			}
		}

		// hmax saturated: wait for a release/invalidate, or time out.
		if p.now().After(deadline) {
			p.dequeueLocked(sp, ticket)
			p.mu.Unlock()
			return nil, ErrTimeout
		}
		if ticket == nil {
			ticket = make(chan struct{}, 1)
			sp.waiters = append(sp.waiters, ticket)
		}
		p.waitTicketLocked(ticket, deadline)
	}
}

// dequeueLocked removes ticket from the head of sp.waiters. It is a no-op
// for callers that never queued (ticket nil) or already got popped. The
// caller must hold p.mu.
func (p *Pool) dequeueLocked(sp *subpool, ticket chan struct{}) {
	if ticket != nil && len(sp.waiters) > 0 && sp.waiters[0] == ticket {
		sp.waiters = sp.waiters[1:]
	}
}

// notifyNextLocked wakes the longest-waiting queued acquirer for sp, if
// any. The caller must hold p.mu.
func (p *Pool) notifyNextLocked(sp *subpool) {
	if len(sp.waiters) == 0 {
		return
	}
	select {
	case sp.waiters[0] <- struct{}{}:
	default:
	}
}

// waitTicketLocked blocks until ticket is signaled or the deadline passes,
// whichever comes first. Called with p.mu held; releases it while waiting
// and reacquires it before returning.
func (p *Pool) waitTicketLocked(ticket chan struct{}, deadline time.Time) {
	remaining := deadline.Sub(p.now())
	p.mu.Unlock()
	if remaining > 0 {
		timer := time.NewTimer(remaining)
		select {
		case <-ticket:
		case <-timer.C:
		}
		timer.Stop()
	}
	p.mu.Lock()
}

// Release returns a borrowed connection to the pool, resetting its
// last-used time so the idle TTL clock restarts.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c.lastUsed = p.now()
	c.sp.idle = append(c.sp.idle, c)
	p.notifyNextLocked(c.sp)
}

// Invalidate marks a borrowed connection as poisoned: it is destroyed and
// never returned to the idle list.
func (p *Pool) Invalidate(c *Conn) {
	if c == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c.sp.live--
	p.setLiveGaugeLocked(c.Key, c.sp)
	p.notifyNextLocked(c.sp)
	if c.dtor != nil {
		c.dtor(c.Resource)
	}
}

// Stats reports the live and idle counts for key, for diagnostics/metrics.
func (p *Pool) Stats(key string) (live, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.subs[key]
	if !ok {
		return 0, 0
	}
	return sp.live, len(sp.idle)
}
