package config

import "time"

// PoolOptions holds the host-level connection-pool directives
// (MapCacheConnectionPool*). Each field has a companion "is-set" bit so
// Merge can implement "child overrides parent only if the child
// explicitly set it", transcribed from mod_mapcache.c's cp_*_is_set
// fields and its merge function around lines 608-639.
type PoolOptions struct {
	Min     int
	MinSet  bool
	SMax    int
	SMaxSet bool
	HMax    int
	HMaxSet bool
	TTL     time.Duration
	TTLSet  bool
	Sharing    bool
	SharingSet bool
}

// Merge returns the effective options when child (e.g. a virtual host)
// may override parent (e.g. the server-wide default): a field from child
// wins only if child explicitly set it, otherwise parent's value (and its
// own is-set bit) carries through, so a grandchild can still see whether
// any ancestor ever set a given field.
func (parent PoolOptions) Merge(child PoolOptions) PoolOptions {
	out := parent
	if child.MinSet {
		out.Min, out.MinSet = child.Min, true
	}
	if child.SMaxSet {
		out.SMax, out.SMaxSet = child.SMax, true
	}
	if child.HMaxSet {
		out.HMax, out.HMaxSet = child.HMax, true
	}
	if child.TTLSet {
		out.TTL, out.TTLSet = child.TTL, true
	}
	if child.SharingSet {
		out.Sharing, out.SharingSet = child.Sharing, true
	}
	return out
}

// WithDefaults fills in the documented directive defaults for any field
// that was never set by any level of the merge chain.
func (o PoolOptions) WithDefaults() PoolOptions {
	if !o.SMaxSet {
		o.SMax = 5
	}
	if !o.HMaxSet {
		o.HMax = 200
	}
	if !o.TTLSet {
		o.TTL = 60 * time.Second
	}
	return o
}

// HostConfig is the server-wide configuration for one virtual host: its
// ordered alias table plus the pool options every alias's pool is built
// from, unless per-alias configuration overrides them.
type HostConfig struct {
	Aliases []AliasEntry
	Pool    PoolOptions
}

// AliasEntry is one MapCacheAlias directive before the referenced config
// file has been loaded and parsed.
type AliasEntry struct {
	Endpoint   string
	ConfigFile string
}
