// Copyright 2026 The mapcache authors.
// SPDX-License-Identifier: Apache-2.0

// Package pipeline implements the get/miss/lock/render/set coalescing
// protocol that turns a tile request into either a cache hit or exactly
// one render per metatile, no matter how many concurrent requests land on
// tiles within that metatile.
package pipeline

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tomhel/mapcache/cache"
	"github.com/tomhel/mapcache/lock"
	"github.com/tomhel/mapcache/metrics"
	"github.com/tomhel/mapcache/reqctx"
	"github.com/tomhel/mapcache/tile"
)

// Renderer produces the bytes for every tile in a metatile in one call,
// the way the original's "render" step fills a single metatile image that
// is then split into its constituent tiles. Implementations are supplied
// by whatever generates map imagery; the pipeline itself is agnostic to
// how a renderer gets its pixels (WMS GetMap call, vector-tile cut, etc).
type Renderer interface {
	RenderMetatile(ctx context.Context, tileset *tile.Tileset, link *tile.GridLink, meta tile.MetaTile, dims string) (map[tile.ID][]byte, error)
}

// BlankDetector optionally classifies a rendered tile as uniform-color,
// letting the pipeline store the 5-byte sentinel instead of the full
// image. A tileset that does not want blank-tile compression supplies nil.
type BlankDetector interface {
	// Detect returns (rgba, true) if raw decodes to a single uniform color.
	Detect(raw []byte) (rgba [4]byte, ok bool)
	// Expand renders a full tile image of the given pixel size filled with
	// rgba, used when a read hits the sentinel.
	Expand(rgba [4]byte, width, height int) []byte
}

// Pipeline ties a cache, a locker, and a renderer together for one
// tileset/grid combination.
type Pipeline struct {
	Cache    cache.Backend
	Locker   lock.Locker
	Renderer Renderer
	Blank    BlankDetector
	Log      *zap.Logger
	Metrics  *metrics.Metrics

	now func() time.Time
}

// New creates a Pipeline. log may be nil.
func New(c cache.Backend, l lock.Locker, r Renderer, blank BlankDetector, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{Cache: c, Locker: l, Renderer: r, Blank: blank, Log: log, now: time.Now}
}

// SetMetrics arms RenderDuration/LockWaitTime instrumentation on p.
func (p *Pipeline) SetMetrics(m *metrics.Metrics) {
	p.Metrics = m
}

// lockOrWait wraps lock.LockOrWait, observing LockWaitTime by whether the
// caller ended up owning the critical section.
func (p *Pipeline) lockOrWait(ctx *reqctx.Context, resource string) (bool, lock.Token) {
	start := p.now()
	owns, token := lock.LockOrWait(ctx, p.Locker, resource)
	if p.Metrics != nil {
		outcome := "not_acquired"
		if owns {
			outcome = "acquired"
		}
		p.Metrics.LockWaitTime.WithLabelValues(outcome).Observe(p.now().Sub(start).Seconds())
	}
	return owns, token
}

// Result is what GetTile hands back to the dispatcher.
type Result struct {
	Data        []byte
	ContentType string
	ModTime     time.Time
	NotModified bool
}

// GetTile implements §4.F: try the cache; on miss, coalesce concurrent
// renders of the same metatile behind a lock, re-checking the cache once
// after losing the race to acquire it, and rendering at most once.
func (p *Pipeline) GetTile(ctx *reqctx.Context, tileset *tile.Tileset, link *tile.GridLink, id tile.ID, ifModifiedSince time.Time) (*Result, error) {
	if res := p.tryCache(ctx, tileset, id, ifModifiedSince); res != nil {
		return res, nil
	}
	if ctx.HasError() {
		return nil, ctx.GetError()
	}

	resource := id.LockKey(link)
	owns, token := p.lockOrWait(ctx, resource)
	if ctx.HasError() {
		return nil, ctx.GetError()
	}

	if !owns {
		// Either the winner finished (Noent) or we gave up waiting; either
		// way the coalescing read is the one permitted retry.
		if res := p.tryCache(ctx, tileset, id, ifModifiedSince); res != nil {
			return res, nil
		}
		if ctx.HasError() {
			return nil, ctx.GetError()
		}
		// Retry missed too: render ourselves rather than return nothing,
		// same as a lone worker that raced nobody.
		owns, token = p.lockOrWait(ctx, resource)
		if ctx.HasError() {
			return nil, ctx.GetError()
		}
		if !owns {
			if res := p.tryCache(ctx, tileset, id, ifModifiedSince); res != nil {
				return res, nil
			}
			ctx.SetErrorSource(reqctx.CodeUnavailable, "pipeline", "tile unavailable after coalesced render")
			return nil, ctx.GetError()
		}
	}

	defer p.Locker.Release(ctx, token)
	return p.renderAndStore(ctx, tileset, link, id, ifModifiedSince)
}

func (p *Pipeline) tryCache(ctx *reqctx.Context, tileset *tile.Tileset, id tile.ID, ifModifiedSince time.Time) *Result {
	raw, modTime, err := p.Cache.Get(ctx.Std, id.CacheKey())
	if err != nil {
		if err != cache.ErrMiss {
			ctx.SetErrorSource(reqctx.CodeInternal, "pipeline", "cache get %s: %v", id.CacheKey(), err)
		}
		return nil
	}
	return p.toResult(tileset, raw, modTime, ifModifiedSince, link0(tileset))
}

// link0 is a small helper so tryCache can size a blank-tile expansion
// using the tileset's first grid link when no specific link is in scope
// (a cache hit does not need the lock key, only the tile size).
func link0(tileset *tile.Tileset) *tile.GridLink {
	if len(tileset.Grids) == 0 {
		return nil
	}
	return tileset.Grids[0]
}

func (p *Pipeline) toResult(tileset *tile.Tileset, raw []byte, modTime time.Time, ifModifiedSince time.Time, link *tile.GridLink) *Result {
	if !ifModifiedSince.IsZero() && !modTime.After(ifModifiedSince) {
		return &Result{ModTime: modTime, NotModified: true}
	}
	data := raw
	sentinelLen := len(tile.BlankSentinel) + 4
	if p.Blank != nil && len(raw) == sentinelLen && tile.IsBlankSentinel(raw[:len(tile.BlankSentinel)]) {
		var rgba [4]byte
		copy(rgba[:], raw[len(tile.BlankSentinel):])
		w, h := 256, 256
		if link != nil && link.Grid != nil && link.Grid.TileWidth > 0 {
			w, h = link.Grid.TileWidth, link.Grid.TileHeight
		}
		data = p.Blank.Expand(rgba, w, h)
	}
	return &Result{Data: data, ContentType: tileset.Format, ModTime: modTime}
}

// renderAndStore invokes the renderer for the whole metatile containing
// id, writes every child tile (blank-compressed where applicable), and
// returns the result for the originally requested tile.
func (p *Pipeline) renderAndStore(ctx *reqctx.Context, tileset *tile.Tileset, link *tile.GridLink, id tile.ID, ifModifiedSince time.Time) (*Result, error) {
	meta := tile.Expand(id, link)
	renderStart := p.now()
	tiles, err := p.Renderer.RenderMetatile(ctx.Std, tileset, link, meta, id.Dimensions)
	if p.Metrics != nil {
		p.Metrics.RenderDuration.WithLabelValues(tileset.Name).Observe(p.now().Sub(renderStart).Seconds())
	}
	if err != nil {
		ctx.SetErrorSource(reqctx.CodeInternal, "pipeline", "render metatile: %v", err)
		return nil, ctx.GetError()
	}

	modTime := p.now()
	items := make(map[string][]byte, len(tiles))
	for tid, raw := range tiles {
		items[tid.CacheKey()] = p.encodeForStorage(raw)
	}
	if err := p.Cache.MultiSet(ctx.Std, items, modTime, storageTTL(tileset)); err != nil {
		ctx.SetErrorSource(reqctx.CodeInternal, "pipeline", "store rendered metatile: %v", err)
		return nil, ctx.GetError()
	}

	raw, ok := tiles[id]
	if !ok {
		ctx.SetErrorSource(reqctx.CodeInternal, "pipeline", "renderer did not produce requested tile %v", id)
		return nil, ctx.GetError()
	}
	return p.toResult(tileset, p.encodeForStorage(raw), modTime, ifModifiedSince, link), nil
}

func (p *Pipeline) encodeForStorage(raw []byte) []byte {
	if p.Blank == nil {
		return raw
	}
	if rgba, ok := p.Blank.Detect(raw); ok {
		out := make([]byte, 0, len(tile.BlankSentinel)+4)
		out = append(out, tile.BlankSentinel...)
		out = append(out, rgba[:]...)
		return out
	}
	return raw
}

func storageTTL(tileset *tile.Tileset) time.Duration {
	if tileset.Expires <= 0 {
		return 0
	}
	return time.Duration(tileset.Expires) * time.Second
}

// CacheControl renders the tileset's expires setting as a Cache-Control
// header value, or "" if the tileset does not set one.
func CacheControl(tileset *tile.Tileset) string {
	if tileset.Expires <= 0 {
		return ""
	}
	return "max-age=" + strconv.Itoa(tileset.Expires)
}
