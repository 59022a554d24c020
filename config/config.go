// Copyright 2026 The mapcache authors.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tomhel/mapcache/tile"
)

// Config is one alias's fully parsed per-service configuration: the
// caches, lockers, tilesets, and grids an XML config file declares.
// Unmarshaled directly from XML with the standard library: no
// third-party XML library exists anywhere in the retrieval pack, so this
// is the one ambient concern carried on the standard library (see
// DESIGN.md).
type Config struct {
	XMLName  xml.Name     `xml:"mapcache"`
	Caches   []CacheXML   `xml:"cache"`
	Lockers  []LockerXML  `xml:"locker"`
	Grids    []GridXML    `xml:"grid"`
	Tilesets []TilesetXML `xml:"tileset"`
	Services []ServiceXML `xml:"service"`
	Proxy    *ProxyXML    `xml:"proxy"`
}

// ProxyXML is the raw XML shape of a <proxy> element: an upstream URL to
// forward unmatched requests to, and the POST body size limit.
type ProxyXML struct {
	Upstream   string `xml:"upstream"`
	MaxPostLen int64  `xml:"max_post_len"`
}

// CacheXML is the raw XML shape of a <cache> element, type-dispatched by
// the Type attribute into the concrete backend config it carries.
type CacheXML struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`

	// type="disk"
	Path string `xml:"path"`

	// type="memory"
	LifeWindowSeconds int `xml:"life_window"`

	// type="s3"
	Bucket   string `xml:"bucket"`
	Region   string `xml:"region"`
	Prefix   string `xml:"key>prefix"`
	Endpoint string `xml:"endpoint"`

	// type="redis"
	Server string `xml:"server>host"`
	Port   int    `xml:"server>port"`

	// type="multitier"
	Children []MultitierChildXML `xml:"cache"`

	DetectBlank bool `xml:"detect_blank"`
}

// MultitierChildXML is one <cache write="true|false">name</cache> entry
// inside a multitier cache.
type MultitierChildXML struct {
	Name  string `xml:",chardata"`
	Write string `xml:"write,attr"`
}

// WriteSet reports whether the write attribute was present at all,
// distinguishing "not specified" from "specified false" per §4.E's
// writer-resolution rule.
func (c MultitierChildXML) WriteSet() bool { return c.Write != "" }

// WriteTrue reports whether write="true" was set.
func (c MultitierChildXML) WriteTrue() bool { return c.Write == "true" }

// LockerXML is the raw XML shape of a <locker> element.
type LockerXML struct {
	Name           string  `xml:"name,attr"`
	Type           string  `xml:"type,attr"`
	RetrySeconds   float64 `xml:"retry"`
	TimeoutSeconds float64 `xml:"timeout"`

	// type="disk"
	Directory string `xml:"directory"`

	// type="memcache"
	Servers   []string `xml:"server>host"`
	KeyPrefix string   `xml:"prefix"`

	// type="fallback"
	Children []string `xml:"locker"`
}

// GridXML is the raw XML shape of a <grid> element.
type GridXML struct {
	Name        string    `xml:"name,attr"`
	SRS         string    `xml:"srs"`
	TileWidth   int       `xml:"size>width"`
	TileHeight  int       `xml:"size>height"`
	Resolutions []float64 `xml:"resolutions"`
	Extent      Extent    `xml:"extent"`
}

// Extent is a grid's bounding box, serialized in XML as a single
// comma-separated "minx,miny,maxx,maxy" element rather than four separate
// child elements, the way the original grid configuration writes it.
type Extent [4]float64

// UnmarshalXML decodes a comma-separated "minx,miny,maxx,maxy" element.
func (e *Extent) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var raw string
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return fmt.Errorf("config: extent %q: want 4 comma-separated values, got %d", raw, len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("config: extent %q: %w", raw, err)
		}
		e[i] = v
	}
	return nil
}

// TilesetXML is the raw XML shape of a <tileset> element.
type TilesetXML struct {
	Name    string        `xml:"name,attr"`
	Cache   string        `xml:"cache,attr"`
	Locker  string        `xml:"locker,attr"`
	Format  string        `xml:"format"`
	Expires int           `xml:"expires"`
	Grids   []GridLinkXML `xml:"grid"`

	// Source is a tile-template URL for the upstream the tileset renders
	// through, e.g. "https://tiles.example.com/{z}/{x}/{y}.png". Present
	// only for tilesets backed by an upstream tile source rather than a
	// renderer embedded in this process.
	Source string `xml:"source"`
}

// GridLinkXML is one <grid>name</grid> reference inside a tileset, with
// optional zoom restriction and metatile size attributes.
type GridLinkXML struct {
	Name       string `xml:",chardata"`
	MinZoom    int    `xml:"minzoom,attr"`
	MaxZoom    int    `xml:"maxzoom,attr"`
	MetaWidth  int    `xml:"metax,attr"`
	MetaHeight int    `xml:"metay,attr"`
	MetaBuffer int    `xml:"metabuffer,attr"`
}

// ServiceXML is the raw XML shape of a <service> element.
type ServiceXML struct {
	Type    string `xml:"type,attr"`
	Enabled bool   `xml:"enabled,attr"`
}

// Parse decodes a per-alias XML configuration document.
func Parse(r io.Reader) (*Config, error) {
	var cfg Config
	if err := xml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return &cfg, nil
}

// ResolveGrids turns the parsed GridXML entries into the tile.Grid values
// the rest of the system operates on.
func (c *Config) ResolveGrids() map[string]*tile.Grid {
	out := make(map[string]*tile.Grid, len(c.Grids))
	for _, g := range c.Grids {
		out[g.Name] = &tile.Grid{
			Name:        g.Name,
			SRS:         g.SRS,
			TileWidth:   orDefault(g.TileWidth, 256),
			TileHeight:  orDefault(g.TileHeight, 256),
			Resolutions: g.Resolutions,
			Extent:      g.Extent,
		}
	}
	return out
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// ResolveTilesets builds tile.Tileset values from the parsed XML,
// wiring each tileset's grid links against the grids resolved above.
func (c *Config) ResolveTilesets() (map[string]*tile.Tileset, error) {
	grids := c.ResolveGrids()
	out := make(map[string]*tile.Tileset, len(c.Tilesets))
	for _, t := range c.Tilesets {
		ts := &tile.Tileset{Name: t.Name, Format: t.Format, Expires: t.Expires}
		for _, gl := range t.Grids {
			g, ok := grids[gl.Name]
			if !ok {
				return nil, fmt.Errorf("config: tileset %q references unknown grid %q", t.Name, gl.Name)
			}
			ts.Grids = append(ts.Grids, &tile.GridLink{
				Grid:       g,
				MinZoom:    gl.MinZoom,
				MaxZoom:    gl.MaxZoom,
				MetaWidth:  orDefault(gl.MetaWidth, 1),
				MetaHeight: orDefault(gl.MetaHeight, 1),
				MetaBuffer: gl.MetaBuffer,
			})
		}
		out[t.Name] = ts
	}
	return out, nil
}
