// Package wiring turns the raw XML configuration types into live
// cache.Backend and lock.Locker instances, recursing through multitier
// caches and fallback locker chains. Both server binaries (mapcache and
// mapcache-seed) share it so a tileset resolves to the exact same cache
// topology whether it is served live or walked by the seed tool.
package wiring

import (
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tomhel/mapcache/cache"
	"github.com/tomhel/mapcache/config"
	"github.com/tomhel/mapcache/lock"
	"github.com/tomhel/mapcache/pool"
)

// CachesByName indexes cfg.Caches for lookups by name.
func CachesByName(cfg *config.Config) map[string]config.CacheXML {
	m := make(map[string]config.CacheXML, len(cfg.Caches))
	for _, c := range cfg.Caches {
		m[c.Name] = c
	}
	return m
}

// LockersByName indexes cfg.Lockers for lookups by name.
func LockersByName(cfg *config.Config) map[string]config.LockerXML {
	m := make(map[string]config.LockerXML, len(cfg.Lockers))
	for _, l := range cfg.Lockers {
		m[l.Name] = l
	}
	return m
}

// BuildCacheBackend resolves one named cache entry into a cache.Backend,
// recursing into itself for each child of a multitier cache.
func BuildCacheBackend(cx config.CacheXML, byName map[string]config.CacheXML, log *zap.Logger) (cache.Backend, error) {
	switch cx.Type {
	case "disk":
		return cache.NewDiskCache(cx.Path)

	case "memory":
		lw := time.Duration(cx.LifeWindowSeconds) * time.Second
		return cache.NewMemoryCache(cache.MemoryOptions{LifeWindow: lw})

	case "ristretto":
		return cache.NewRistrettoCache(cache.RistrettoOptions{})

	case "s3":
		return cache.NewS3Cache(cache.S3Options{
			Region:   cx.Region,
			Bucket:   cx.Bucket,
			Prefix:   cx.Prefix,
			Endpoint: cx.Endpoint,
		})

	case "redis":
		addr := cx.Server
		if cx.Port != 0 {
			addr = fmt.Sprintf("%s:%d", cx.Server, cx.Port)
		}
		client := goredis.NewClient(&goredis.Options{Addr: addr})
		return cache.NewRedisCache(cache.RedisOptions{Client: client, CloseClient: true})

	case "multitier":
		if len(cx.Children) == 0 {
			return nil, fmt.Errorf("cache %q: multitier has no children", cx.Name)
		}
		specs := make([]cache.TierSpec, 0, len(cx.Children))
		for _, child := range cx.Children {
			childCfg, ok := byName[child.Name]
			if !ok {
				return nil, fmt.Errorf("cache %q: multitier child %q not configured", cx.Name, child.Name)
			}
			childBackend, err := BuildCacheBackend(childCfg, byName, log)
			if err != nil {
				return nil, err
			}
			specs = append(specs, cache.TierSpec{Backend: childBackend, Write: child.WriteTrue(), WriteSet: child.WriteSet()})
		}
		return cache.NewMultiTier(specs, log)

	default:
		return nil, fmt.Errorf("cache %q: unknown type %q", cx.Name, cx.Type)
	}
}

// BuildLocker resolves one named locker entry into a lock.Locker,
// recursing for a fallback chain's children.
func BuildLocker(lx config.LockerXML, byName map[string]config.LockerXML, p *pool.Pool) (lock.Locker, error) {
	base := lock.DefaultBase()
	if lx.RetrySeconds > 0 {
		base.Retry = time.Duration(lx.RetrySeconds * float64(time.Second))
	}
	if lx.TimeoutSeconds > 0 {
		base.MaxWait = time.Duration(lx.TimeoutSeconds * float64(time.Second))
	}

	switch lx.Type {
	case "disk":
		return lock.NewDiskLocker(lx.Directory, base), nil

	case "memcache":
		if len(lx.Servers) == 0 {
			return nil, fmt.Errorf("locker %q: memcache has no servers", lx.Name)
		}
		return lock.NewMemcacheLocker(lx.Servers[0], lx.KeyPrefix, p, base), nil

	case "fallback":
		if len(lx.Children) == 0 {
			return nil, fmt.Errorf("locker %q: fallback has no children", lx.Name)
		}
		children := make([]lock.Locker, 0, len(lx.Children))
		for _, name := range lx.Children {
			childCfg, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("locker %q: fallback child %q not configured", lx.Name, name)
			}
			child, err := BuildLocker(childCfg, byName, p)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return lock.NewFallbackLocker(children, base), nil

	default:
		return nil, fmt.Errorf("locker %q: unknown type %q", lx.Name, lx.Type)
	}
}
