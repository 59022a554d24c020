// Copyright 2026 The mapcache authors.
// SPDX-License-Identifier: Apache-2.0

// Package tile defines the core data model shared by the cache, lock, and
// pipeline packages: tile identity, tilesets, and the grids they are cut
// from. The identity tuple and metatile math mirror maptile.Tile's
// (X, Y, Z) triple, generalized with the extra axes MapCache needs: a
// named tileset, a named grid, and an optional dimensions signature for
// WMS-style time/elevation slices.
package tile

import (
	"fmt"
	"strconv"
	"strings"
)

// Grid describes the tiling scheme a tileset is cut against: its spatial
// reference, tile pixel size, and the resolution (units-per-pixel) of each
// zoom level.
type Grid struct {
	Name        string
	SRS         string
	TileWidth   int
	TileHeight  int
	Resolutions []float64 // one entry per zoom level, highest resolution (smallest value) last or first depending on origin
	Extent      [4]float64
}

// ZoomCount reports how many zoom levels this grid defines.
func (g *Grid) ZoomCount() int { return len(g.Resolutions) }

// GridLink binds a Grid to a Tileset with an optional restriction to a
// contiguous range of zoom levels and an optional coarser-grained
// "metatile" factor used to reduce lock/render granularity.
type GridLink struct {
	Grid        *Grid
	MinZoom     int
	MaxZoom     int // inclusive; <=0 means "up to Grid.ZoomCount()-1"
	MetaWidth   int // tiles per metatile edge, X; 1 disables metatiling
	MetaHeight  int
	MetaBuffer  int // pixels of surrounding context rendered but not served
}

func (l *GridLink) effectiveMax() int {
	if l.MaxZoom > 0 {
		return l.MaxZoom
	}
	return l.Grid.ZoomCount() - 1
}

// InRange reports whether z is within this link's permitted zoom range.
func (l *GridLink) InRange(z int) bool {
	return z >= l.MinZoom && z <= l.effectiveMax()
}

// Tileset is a named source of tiles: a WMS layer, a set of pre-seeded
// tiles, or a composite of other tilesets, cut against one or more grids.
type Tileset struct {
	Name       string
	Grids      []*GridLink
	Format     string // e.g. "image/png"
	Expires    int    // seconds; fed into Cache-Control max-age
	MetaSize   [2]int // deprecated alias for GridLink.MetaWidth/Height when a tileset applies one size to every grid
	Dimensions []string
}

// GridLinkFor finds the link for the named grid, or nil.
func (t *Tileset) GridLinkFor(name string) *GridLink {
	for _, l := range t.Grids {
		if l.Grid != nil && l.Grid.Name == name {
			return l
		}
	}
	return nil
}

// ID is the full identity of a single tile: which tileset, which grid,
// which cell, which zoom, and (for WMS time/elevation slices) which
// dimension values.
type ID struct {
	Tileset    string
	Grid       string
	X, Y, Z    int
	Dimensions string // canonicalized "key=value;key=value", sorted by key
}

// CacheKey renders the tile identity into the flat string used as a cache
// backend key. It intentionally avoids '/' so disk-backed tiers can choose
// their own directory layout without colliding with key separators chosen
// here.
func (id ID) CacheKey() string {
	var b strings.Builder
	b.WriteString(id.Tileset)
	b.WriteByte('-')
	b.WriteString(id.Grid)
	b.WriteByte('-')
	b.WriteString(strconv.Itoa(id.Z))
	b.WriteByte('-')
	b.WriteString(strconv.Itoa(id.X))
	b.WriteByte('-')
	b.WriteString(strconv.Itoa(id.Y))
	if id.Dimensions != "" {
		b.WriteByte('-')
		b.WriteString(id.Dimensions)
	}
	return b.String()
}

// LockKey renders the metatile that contains id into the resource name
// used by the lock package, so concurrent requests for tiles in the same
// metatile serialize on one lock regardless of which exact sub-tile they
// asked for.
func (id ID) LockKey(link *GridLink) string {
	mw, mh := link.MetaWidth, link.MetaHeight
	if mw <= 0 {
		mw = 1
	}
	if mh <= 0 {
		mh = 1
	}
	metaX := floorDiv(id.X, mw)
	metaY := floorDiv(id.Y, mh)
	key := fmt.Sprintf("%s-%s-%d-%d-%d", id.Tileset, id.Grid, id.Z, metaX, metaY)
	if id.Dimensions != "" {
		key += "-" + id.Dimensions
	}
	return key
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// MetaTile describes the bounding box, in tile coordinates, of the
// metatile containing id within link.
type MetaTile struct {
	Zoom                   int
	MinX, MinY, MaxX, MaxY int // inclusive tile-coordinate bounds
}

// Expand computes the metatile bounds containing id under link.
func Expand(id ID, link *GridLink) MetaTile {
	mw, mh := link.MetaWidth, link.MetaHeight
	if mw <= 0 {
		mw = 1
	}
	if mh <= 0 {
		mh = 1
	}
	minX := floorDiv(id.X, mw) * mw
	minY := floorDiv(id.Y, mh) * mh
	return MetaTile{Zoom: id.Z, MinX: minX, MinY: minY, MaxX: minX + mw - 1, MaxY: minY + mh - 1}
}

// BlankSentinel is the one-byte marker the pipeline prepends to a blank
// tile's RGBA color to make a 5-byte payload ('#' + RGBA) it writes to
// cache tiers in place of a fully transparent/blank tile, and recognizes
// on read to re-expand into the tileset's configured blank image without
// storing the full-size bytes redundantly in every tier.
var BlankSentinel = []byte{'#'}

// BlankSentinelContentType is the MIME the 5-byte sentinel payload is
// conceptually encoded as, distinct from the expanded tile's own format.
const BlankSentinelContentType = "image/mapcache-rgba"

// IsBlankSentinel reports whether b is exactly the blank-tile marker.
func IsBlankSentinel(b []byte) bool {
	return len(b) == len(BlankSentinel) && string(b) == string(BlankSentinel)
}
