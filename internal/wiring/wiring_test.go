package wiring

import (
	"testing"
	"time"

	"github.com/tomhel/mapcache/cache"
	"github.com/tomhel/mapcache/config"
	"github.com/tomhel/mapcache/lock"
	"github.com/tomhel/mapcache/pool"
)

func TestCachesAndLockersByNameIndexByName(t *testing.T) {
	cfg := &config.Config{
		Caches:  []config.CacheXML{{Name: "disk1", Type: "disk"}, {Name: "mem1", Type: "memory"}},
		Lockers: []config.LockerXML{{Name: "lock1", Type: "disk"}},
	}
	caches := CachesByName(cfg)
	if len(caches) != 2 || caches["disk1"].Type != "disk" || caches["mem1"].Type != "memory" {
		t.Fatalf("got %+v, unexpected indexing", caches)
	}
	lockers := LockersByName(cfg)
	if len(lockers) != 1 || lockers["lock1"].Type != "disk" {
		t.Fatalf("got %+v, unexpected indexing", lockers)
	}
}

func TestBuildCacheBackendBuildsDiskCache(t *testing.T) {
	cx := config.CacheXML{Name: "d", Type: "disk", Path: t.TempDir()}
	backend, err := BuildCacheBackend(cx, nil, nil)
	if err != nil {
		t.Fatalf("BuildCacheBackend: %v", err)
	}
	if _, ok := backend.(*cache.DiskCache); !ok {
		t.Fatalf("got %T, want *cache.DiskCache", backend)
	}
}

func TestBuildCacheBackendRejectsUnknownType(t *testing.T) {
	cx := config.CacheXML{Name: "x", Type: "bogus"}
	if _, err := BuildCacheBackend(cx, nil, nil); err == nil {
		t.Fatal("expected an error for an unknown cache type")
	}
}

func TestBuildCacheBackendRecursesIntoMultitierChildren(t *testing.T) {
	byName := map[string]config.CacheXML{
		"hot":  {Name: "hot", Type: "disk", Path: t.TempDir()},
		"cold": {Name: "cold", Type: "disk", Path: t.TempDir()},
	}
	cx := config.CacheXML{
		Name: "tiered",
		Type: "multitier",
		Children: []config.MultitierChildXML{
			{Name: "hot", Write: "true"},
			{Name: "cold"},
		},
	}
	backend, err := BuildCacheBackend(cx, byName, nil)
	if err != nil {
		t.Fatalf("BuildCacheBackend: %v", err)
	}
	if _, ok := backend.(*cache.MultiTier); !ok {
		t.Fatalf("got %T, want *cache.MultiTier", backend)
	}
}

func TestBuildCacheBackendMultitierErrorsOnUnknownChild(t *testing.T) {
	cx := config.CacheXML{
		Name:     "tiered",
		Type:     "multitier",
		Children: []config.MultitierChildXML{{Name: "missing"}},
	}
	if _, err := BuildCacheBackend(cx, map[string]config.CacheXML{}, nil); err == nil {
		t.Fatal("expected an error for a multitier child that isn't configured")
	}
}

func TestBuildLockerBuildsDiskLocker(t *testing.T) {
	lx := config.LockerXML{Name: "l", Type: "disk", Directory: t.TempDir()}
	l, err := BuildLocker(lx, nil, pool.New(pool.Options{}, nil))
	if err != nil {
		t.Fatalf("BuildLocker: %v", err)
	}
	if _, ok := l.(*lock.DiskLocker); !ok {
		t.Fatalf("got %T, want *lock.DiskLocker", l)
	}
}

func TestBuildLockerAppliesRetryAndTimeoutOverrides(t *testing.T) {
	lx := config.LockerXML{Name: "l", Type: "disk", Directory: t.TempDir(), RetrySeconds: 0.5, TimeoutSeconds: 2}
	l, err := BuildLocker(lx, nil, nil)
	if err != nil {
		t.Fatalf("BuildLocker: %v", err)
	}
	if got, want := l.RetryInterval(), 500*time.Millisecond; got != want {
		t.Fatalf("got RetryInterval=%v, want %v", got, want)
	}
	if got, want := l.Timeout(), 2*time.Second; got != want {
		t.Fatalf("got Timeout=%v, want %v", got, want)
	}
}

func TestBuildLockerRecursesIntoFallbackChildren(t *testing.T) {
	byName := map[string]config.LockerXML{
		"primary":   {Name: "primary", Type: "disk", Directory: t.TempDir()},
		"secondary": {Name: "secondary", Type: "disk", Directory: t.TempDir()},
	}
	lx := config.LockerXML{Name: "fb", Type: "fallback", Children: []string{"primary", "secondary"}}
	l, err := BuildLocker(lx, byName, nil)
	if err != nil {
		t.Fatalf("BuildLocker: %v", err)
	}
	if _, ok := l.(*lock.FallbackLocker); !ok {
		t.Fatalf("got %T, want *lock.FallbackLocker", l)
	}
}

func TestBuildLockerFallbackErrorsOnUnknownChild(t *testing.T) {
	lx := config.LockerXML{Name: "fb", Type: "fallback", Children: []string{"missing"}}
	if _, err := BuildLocker(lx, map[string]config.LockerXML{}, nil); err == nil {
		t.Fatal("expected an error for a fallback child that isn't configured")
	}
}

func TestBuildLockerRejectsUnknownType(t *testing.T) {
	lx := config.LockerXML{Name: "x", Type: "bogus"}
	if _, err := BuildLocker(lx, nil, nil); err == nil {
		t.Fatal("expected an error for an unknown locker type")
	}
}
