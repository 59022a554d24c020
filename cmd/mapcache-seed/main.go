// Copyright 2026 The mapcache authors.
// SPDX-License-Identifier: Apache-2.0

// mapcache-seed is a small single-purpose tool, grounded on
// cmd/imageproxy-sign's shape, for maintenance operations the server
// binary has no business doing inline: walking a tileset's grid over a
// zoom/tile range to pre-populate the cache ("seed"), walking the same
// range deleting entries ("clean"), and removing abandoned disk lock
// files a crashed worker left behind ("unlock-stale").
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/tomhel/mapcache/config"
	"github.com/tomhel/mapcache/internal/wiring"
	"github.com/tomhel/mapcache/lock"
	"github.com/tomhel/mapcache/render"
	"github.com/tomhel/mapcache/tile"
)

var (
	mode       = flag.String("mode", "seed", "seed, clean, or unlock-stale")
	configFile = flag.String("config", "", "path to the alias's XML configuration")
	tilesetArg = flag.String("tileset", "", "tileset name")
	gridArg    = flag.String("grid", "", "grid name (required for seed/clean)")
	minZoom    = flag.Int("minzoom", 0, "minimum zoom level")
	maxZoom    = flag.Int("maxzoom", 0, "maximum zoom level")
	maxAge     = flag.Duration("maxage", time.Hour, "unlock-stale: remove disk lock files older than this")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if *configFile == "" || *tilesetArg == "" {
		return errors.New("mapcache-seed: -config and -tileset are required")
	}

	f, err := os.Open(*configFile)
	if err != nil {
		return fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	cfg, err := config.Parse(f)
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	tx, ok := tilesetXML(cfg, *tilesetArg)
	if !ok {
		return fmt.Errorf("unknown tileset %q", *tilesetArg)
	}

	log, _ := zap.NewProduction()
	defer log.Sync()

	if *mode == "unlock-stale" {
		return runUnlockStale(cfg, tx, log)
	}

	if *gridArg == "" {
		return errors.New("mapcache-seed: -grid is required for seed/clean")
	}

	tilesets, err := cfg.ResolveTilesets()
	if err != nil {
		return fmt.Errorf("resolving tilesets: %w", err)
	}
	ts, ok := tilesets[*tilesetArg]
	if !ok {
		return fmt.Errorf("unknown tileset %q", *tilesetArg)
	}
	link := ts.GridLinkFor(*gridArg)
	if link == nil {
		return fmt.Errorf("tileset %q has no grid %q", *tilesetArg, *gridArg)
	}

	cachesByName := wiring.CachesByName(cfg)
	cx, ok := cachesByName[tx.Cache]
	if !ok {
		return fmt.Errorf("tileset %q references unknown cache %q", tx.Name, tx.Cache)
	}

	backend, err := wiring.BuildCacheBackend(cx, cachesByName, log)
	if err != nil {
		return fmt.Errorf("opening cache backend: %w", err)
	}
	defer backend.Close()

	ctx := context.Background()

	switch *mode {
	case "seed":
		if tx.Source == "" {
			return fmt.Errorf("tileset %q has no <source>; seeding requires an upstream tile source to render from", tx.Name)
		}
		renderer := render.NewTileSourceRenderer(tx.Source, http.DefaultClient, log)
		return walkMetatiles(*minZoom, maxZoomOrDefault(*maxZoom, link), link, func(meta tile.MetaTile) error {
			tiles, err := renderer.RenderMetatile(ctx, ts, link, meta, "")
			if err != nil {
				return err
			}
			items := make(map[string][]byte, len(tiles))
			for id, data := range tiles {
				items[id.CacheKey()] = data
			}
			return backend.MultiSet(ctx, items, time.Now(), 0)
		})

	case "clean":
		return walkRange(*minZoom, *maxZoom, link, func(id tile.ID) error {
			key := tile.ID{Tileset: ts.Name, Grid: link.Grid.Name, X: id.X, Y: id.Y, Z: id.Z}.CacheKey()
			if err := backend.Delete(ctx, key); err != nil {
				log.Warn("delete failed", zap.String("key", key), zap.Error(err))
			}
			return nil
		})

	default:
		return fmt.Errorf("unknown -mode %q, want seed, clean, or unlock-stale", *mode)
	}
}

// runUnlockStale removes disk lock files older than -maxage from the
// directory backing tx's locker. It only applies to type="disk" lockers:
// memcache locks already self-expire via the key's TTL, and a fallback
// locker's on-disk state lives in its disk children instead.
func runUnlockStale(cfg *config.Config, tx config.TilesetXML, log *zap.Logger) error {
	lockersByName := wiring.LockersByName(cfg)

	lockerName := tx.Locker
	if lockerName == "" && len(cfg.Lockers) > 0 {
		lockerName = cfg.Lockers[0].Name
	}
	lx, ok := lockersByName[lockerName]
	if !ok {
		return fmt.Errorf("tileset %q references unknown locker %q", tx.Name, lockerName)
	}

	dirs, err := diskLockerDirs(lx, lockersByName)
	if err != nil {
		return err
	}
	if len(dirs) == 0 {
		return fmt.Errorf("locker %q has no disk children; unlock-stale only applies to disk locks", lx.Name)
	}

	now := time.Now()
	total := 0
	for _, dir := range dirs {
		removed, err := lock.RemoveStaleLocks(dir, *maxAge, now)
		if err != nil {
			return fmt.Errorf("unlocking stale locks under %s: %w", dir, err)
		}
		log.Info("removed stale lock files", zap.String("dir", dir), zap.Int("removed", removed))
		total += removed
	}
	fmt.Printf("removed %d stale lock file(s)\n", total)
	return nil
}

// diskLockerDirs collects every disk directory reachable from lx: lx's
// own Directory if it is itself type="disk", or recursively every disk
// child's Directory if lx is a type="fallback" chain.
func diskLockerDirs(lx config.LockerXML, byName map[string]config.LockerXML) ([]string, error) {
	switch lx.Type {
	case "disk":
		return []string{lx.Directory}, nil
	case "fallback":
		var dirs []string
		for _, childName := range lx.Children {
			child, ok := byName[childName]
			if !ok {
				return nil, fmt.Errorf("locker %q references unknown child locker %q", lx.Name, childName)
			}
			childDirs, err := diskLockerDirs(child, byName)
			if err != nil {
				return nil, err
			}
			dirs = append(dirs, childDirs...)
		}
		return dirs, nil
	default:
		return nil, nil
	}
}

func maxZoomOrDefault(z int, link *tile.GridLink) int {
	if z > 0 {
		return z
	}
	return link.Grid.ZoomCount() - 1
}

// walkRange calls fn for every tile coordinate in [minZoom, maxZoom] across
// the grid's full extent at each zoom level.
func walkRange(minZoom, maxZoom int, link *tile.GridLink, fn func(tile.ID) error) error {
	if maxZoom <= 0 {
		maxZoom = link.Grid.ZoomCount() - 1
	}
	for z := minZoom; z <= maxZoom; z++ {
		tilesPerEdge := 1 << uint(z)
		for y := 0; y < tilesPerEdge; y++ {
			for x := 0; x < tilesPerEdge; x++ {
				if err := fn(tile.ID{Grid: link.Grid.Name, X: x, Y: y, Z: z}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// walkMetatiles is walkRange's seed-mode counterpart: it steps by the
// grid link's metatile factor instead of one tile at a time, since the
// renderer produces a whole metatile per call.
func walkMetatiles(minZoom, maxZoom int, link *tile.GridLink, fn func(tile.MetaTile) error) error {
	mw, mh := link.MetaWidth, link.MetaHeight
	if mw <= 0 {
		mw = 1
	}
	if mh <= 0 {
		mh = 1
	}
	for z := minZoom; z <= maxZoom; z++ {
		tilesPerEdge := 1 << uint(z)
		for y := 0; y < tilesPerEdge; y += mh {
			for x := 0; x < tilesPerEdge; x += mw {
				meta := tile.MetaTile{Zoom: z, MinX: x, MinY: y, MaxX: minInt(x+mw-1, tilesPerEdge-1), MaxY: minInt(y+mh-1, tilesPerEdge-1)}
				if err := fn(meta); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func tilesetXML(cfg *config.Config, name string) (config.TilesetXML, bool) {
	for _, t := range cfg.Tilesets {
		if t.Name == name {
			return t, true
		}
	}
	return config.TilesetXML{}, false
}
