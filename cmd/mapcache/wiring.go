package main

import (
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/tomhel/mapcache/cache"
	"github.com/tomhel/mapcache/config"
	"github.com/tomhel/mapcache/dispatch"
	"github.com/tomhel/mapcache/internal/wiring"
	"github.com/tomhel/mapcache/metrics"
	"github.com/tomhel/mapcache/pipeline"
	"github.com/tomhel/mapcache/pool"
	"github.com/tomhel/mapcache/proxy"
	"github.com/tomhel/mapcache/render"
)

// wireAlias builds every pipeline and proxy handler one alias's config
// describes and registers them on d, keyed the way dispatch.Dispatcher
// expects ("endpoint|tileset" for pipelines, endpoint alone for proxy). met
// may be nil, in which case the built pipelines and caches go uninstrumented.
func wireAlias(d *dispatch.Dispatcher, endpoint string, cfg *config.Config, p *pool.Pool, met *metrics.Metrics, log *zap.Logger) error {
	cachesByName := wiring.CachesByName(cfg)
	lockersByName := wiring.LockersByName(cfg)

	tilesets, err := cfg.ResolveTilesets()
	if err != nil {
		return fmt.Errorf("wiring %s: %w", endpoint, err)
	}

	defaultLockerName := ""
	if len(cfg.Lockers) > 0 {
		defaultLockerName = cfg.Lockers[0].Name
	}

	for _, tx := range cfg.Tilesets {
		_, ok := tilesets[tx.Name]
		if !ok {
			continue
		}
		cx, ok := cachesByName[tx.Cache]
		if !ok {
			return fmt.Errorf("wiring %s: tileset %q references unknown cache %q", endpoint, tx.Name, tx.Cache)
		}
		backend, err := wiring.BuildCacheBackend(cx, cachesByName, log)
		if err != nil {
			return fmt.Errorf("wiring %s: tileset %q cache: %w", endpoint, tx.Name, err)
		}
		if mt, ok := backend.(*cache.MultiTier); ok {
			mt.SetMetrics(met, cx.Name)
		}

		lockerName := tx.Locker
		if lockerName == "" {
			lockerName = defaultLockerName
		}
		lx, ok := lockersByName[lockerName]
		if !ok {
			return fmt.Errorf("wiring %s: tileset %q references unknown locker %q", endpoint, tx.Name, lockerName)
		}
		locker, err := wiring.BuildLocker(lx, lockersByName, p)
		if err != nil {
			return fmt.Errorf("wiring %s: tileset %q locker: %w", endpoint, tx.Name, err)
		}

		var renderer pipeline.Renderer
		if tx.Source != "" {
			renderer = render.NewTileSourceRenderer(tx.Source, http.DefaultClient, log)
		}

		var blank pipeline.BlankDetector
		if cx.DetectBlank {
			blank = render.PNGBlankDetector{}
		}

		pl := pipeline.New(backend, locker, renderer, blank, log)
		pl.SetMetrics(met)
		d.Pipelines[endpoint+"|"+tx.Name] = pl
	}

	if cfg.Proxy != nil && cfg.Proxy.Upstream != "" {
		upstream, err := url.Parse(cfg.Proxy.Upstream)
		if err != nil {
			return fmt.Errorf("wiring %s: proxy upstream: %w", endpoint, err)
		}
		d.ProxyHandlers[endpoint] = proxy.New(upstream, nil, cfg.Proxy.MaxPostLen, "", log)
	}

	return nil
}
