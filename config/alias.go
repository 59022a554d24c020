// Copyright 2026 The mapcache authors.
// SPDX-License-Identifier: Apache-2.0

// Package config implements the alias router and the per-host,
// per-alias configuration it dispatches against: the ordered endpoint
// table, XML-configured aliases, and the is-set-bit merge semantics the
// original uses to let a virtual host override only the pool options it
// explicitly sets.
package config

import (
	"strings"

	"github.com/tomhel/mapcache/pool"
)

// Alias binds one URL path prefix to a parsed configuration and the
// connection pool its backends borrow from.
type Alias struct {
	Endpoint string
	Config   *Config
	Pool     *pool.Pool
}

// Router holds the ordered alias table for one host. Built once at boot
// and never mutated afterward; lookups are safe for concurrent use
// without locking because of that.
type Router struct {
	aliases []*Alias
}

// NewRouter creates a Router over aliases, preserving registration order
// since Match resolves ties by "first registered wins".
func NewRouter(aliases []*Alias) *Router {
	return &Router{aliases: aliases}
}

// Match finds the alias whose endpoint matches uri, returning the alias
// and the remaining path-info suffix (the part of uri past the matched
// endpoint). ok is false if no alias matches, meaning the host should
// decline the request.
func (r *Router) Match(uri string) (alias *Alias, pathInfo string, ok bool) {
	if uri != "" && uri[0] != '/' {
		return nil, "", false
	}
	for _, a := range r.aliases {
		if n := MatchAlias(uri, a.Endpoint); n > 0 {
			return a, uri[n:], true
		}
	}
	return nil, "", false
}

// MatchAlias reports how many leading bytes of uri match endpoint,
// treating any run of '/' in either string as equivalent to any other run
// of '/' (so "/wms//foo" and "/wms/foo" both match endpoint "/wms/"),
// transcribed from mapcache_alias_matches in mod_mapcache.c. It returns 0
// if endpoint does not match as a whole path-segment-aligned prefix of
// uri.
func MatchAlias(uri, endpoint string) int {
	var ai, ui int
	for ai < len(endpoint) {
		if endpoint[ai] == '/' {
			if ui >= len(uri) || uri[ui] != '/' {
				return 0
			}
			for ai < len(endpoint) && endpoint[ai] == '/' {
				ai++
			}
			for ui < len(uri) && uri[ui] == '/' {
				ui++
			}
			continue
		}
		if ui >= len(uri) || uri[ui] != endpoint[ai] {
			return 0
		}
		ai++
		ui++
	}

	// the matched alias must consume uri up to a path boundary: either the
	// alias itself ended on a '/', or what follows in uri is empty or '/'.
	if endpoint[len(endpoint)-1] != '/' && ui < len(uri) && uri[ui] != '/' {
		return 0
	}
	return ui
}

// TrimRepeatedSlashes collapses runs of '/' to one, used when rendering a
// clean path-info for logging/diagnostics; routing itself never needs
// this since MatchAlias already treats runs as equivalent.
func TrimRepeatedSlashes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSlash := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	return b.String()
}
