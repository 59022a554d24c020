// Package render provides the one concrete Renderer the server binary
// wires into pipeline.Pipeline by default. Tile rendering algorithms and
// map projection math are explicitly out of scope for this system: a
// tileset's actual imagery comes from whatever external renderer an
// operator configures. What this package supplies is the simplest
// legitimate default: fetching each tile of a metatile individually from
// an upstream tile source, the way a cache sitting in front of an
// existing TMS/WMTS server would, grounded on proxy.Handler's upstream
// fetch shape.
package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tomhel/mapcache/tile"
)

// TileSourceRenderer renders a metatile by issuing one HTTP GET per child
// tile against an upstream tile template URL containing "{z}", "{x}", and
// "{y}" placeholders. It does not composite or crop images, so it only
// suits upstreams that already serve individual tiles; an upstream that
// only speaks WMS GetMap bbox requests needs a different Renderer, left
// to the operator to supply (see pipeline.Renderer).
type TileSourceRenderer struct {
	Template string
	Client   *http.Client
	Log      *zap.Logger
}

// NewTileSourceRenderer creates a renderer against template, which must
// contain "{z}", "{x}", and "{y}".
func NewTileSourceRenderer(template string, client *http.Client, log *zap.Logger) *TileSourceRenderer {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TileSourceRenderer{Template: template, Client: client, Log: log}
}

// RenderMetatile fetches every tile in meta independently and returns
// them keyed by the id each one actually occupies.
func (r *TileSourceRenderer) RenderMetatile(ctx context.Context, tileset *tile.Tileset, link *tile.GridLink, meta tile.MetaTile, dims string) (map[tile.ID][]byte, error) {
	out := make(map[tile.ID][]byte)
	for y := meta.MinY; y <= meta.MaxY; y++ {
		for x := meta.MinX; x <= meta.MaxX; x++ {
			id := tile.ID{Tileset: tileset.Name, Grid: link.Grid.Name, X: x, Y: y, Z: meta.Zoom, Dimensions: dims}
			data, err := r.fetchOne(ctx, x, y, meta.Zoom)
			if err != nil {
				return nil, fmt.Errorf("render: fetch tile %d/%d/%d: %w", meta.Zoom, x, y, err)
			}
			out[id] = data
		}
	}
	return out, nil
}

func (r *TileSourceRenderer) fetchOne(ctx context.Context, x, y, z int) ([]byte, error) {
	url := strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	).Replace(r.Template)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
