// Copyright 2026 The mapcache authors.
// SPDX-License-Identifier: Apache-2.0

// Package dispatch implements the request dispatcher: it classifies an
// inbound request (by leading path segment, the service name) into one of
// the five operations the rest of the system implements, enforces the
// GET/POST method restriction, and assembles the final HTTP response.
package dispatch

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tomhel/mapcache/config"
	"github.com/tomhel/mapcache/pipeline"
	"github.com/tomhel/mapcache/proxy"
	"github.com/tomhel/mapcache/reqctx"
	"github.com/tomhel/mapcache/tile"
)

// Kind is the operation a parsed request resolves to.
type Kind int

const (
	KindUnknown Kind = iota
	KindGetTile
	KindGetMap
	KindGetCapabilities
	KindGetFeatureInfo
	KindProxy
)

// Request is a parsed inbound request, service-agnostic past this point.
type Request struct {
	Kind     Kind
	Tileset  string
	Grid     string
	Z, X, Y  int
	Format   string
	Dims     string
}

// ServiceParser turns a path-info suffix plus query string into a
// Request. Each enabled service (wmts, tms, wms, kml, ve, demo,
// mapguide…) registers one.
type ServiceParser interface {
	Name() string
	Parse(pathInfo string, query map[string][]string) (*Request, bool)
}

// Dispatcher ties the alias router, the enabled service parsers, and the
// tile pipeline together behind one http.Handler.
type Dispatcher struct {
	Router        *config.Router
	Parsers       map[string]ServiceParser
	Pipelines     map[string]*pipeline.Pipeline // keyed by "alias-endpoint|tileset"
	ProxyHandlers map[string]*proxy.Handler     // keyed by alias endpoint
	Log           *zap.Logger
}

// New creates a Dispatcher.
func New(router *config.Router, parsers []ServiceParser, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	m := make(map[string]ServiceParser, len(parsers))
	for _, p := range parsers {
		m[p.Name()] = p
	}
	return &Dispatcher{Router: router, Parsers: m, Pipelines: map[string]*pipeline.Pipeline{}, ProxyHandlers: map[string]*proxy.Handler{}, Log: log}
}

// ServeHTTP implements http.Handler. It mirrors imageproxy's ServeHTTP
// shape: resolve the request into a typed value, validate, act, write the
// response, with early, explicit error returns at each step instead of
// a chain of nested conditionals.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	alias, pathInfo, ok := d.Router.Match(r.URL.Path)
	if !ok {
		http.NotFound(w, r) // "decline": let the host serve it; we have nothing to add
		return
	}

	service, rest := splitLeadingSegment(pathInfo)
	parser, ok := d.Parsers[service]
	if !ok {
		http.NotFound(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid query", http.StatusBadRequest)
		return
	}
	req, ok := parser.Parse(rest, r.Form)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ctx := reqctx.New(r.Context(), d.Log, r.Header)
	ctx.Config = alias.Config
	ctx.Pool = alias.Pool

	switch req.Kind {
	case KindGetTile:
		d.handleGetTile(w, r, ctx, alias, req)
	case KindGetMap:
		d.handleGetMap(w, r, ctx, alias, req)
	case KindGetCapabilities:
		d.handleGetCapabilities(w, r, ctx, alias, service)
	case KindGetFeatureInfo:
		d.handleGetFeatureInfo(w, r, ctx, alias, req)
	case KindProxy:
		d.handleProxy(w, r, ctx, alias, req)
	default:
		http.Error(w, "unsupported request", http.StatusBadRequest)
	}
}

func splitLeadingSegment(pathInfo string) (head, rest string) {
	pathInfo = strings.TrimPrefix(pathInfo, "/")
	i := strings.IndexByte(pathInfo, '/')
	if i < 0 {
		return pathInfo, ""
	}
	return pathInfo[:i], pathInfo[i+1:]
}

func (d *Dispatcher) pipelineFor(alias *config.Alias, tilesetName string) (*pipeline.Pipeline, *tile.Tileset, *tile.GridLink, bool) {
	key := alias.Endpoint + "|" + tilesetName
	p, ok := d.Pipelines[key]
	if !ok {
		return nil, nil, nil, false
	}
	tilesets, err := alias.Config.ResolveTilesets()
	if err != nil {
		return nil, nil, nil, false
	}
	ts, ok := tilesets[tilesetName]
	if !ok {
		return nil, nil, nil, false
	}
	return p, ts, nil, true
}

func (d *Dispatcher) handleGetTile(w http.ResponseWriter, r *http.Request, ctx *reqctx.Context, alias *config.Alias, req *Request) {
	p, ts, _, ok := d.pipelineFor(alias, req.Tileset)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown tileset %q", req.Tileset), http.StatusBadRequest)
		return
	}
	link := ts.GridLinkFor(req.Grid)
	if link == nil || !link.InRange(req.Z) {
		http.Error(w, "tile out of range", http.StatusNotFound)
		return
	}
	id := tile.ID{Tileset: ts.Name, Grid: req.Grid, X: req.X, Y: req.Y, Z: req.Z, Dimensions: req.Dims}

	ims := parseIfModifiedSince(r)
	res, err := p.GetTile(ctx, ts, link, id, ims)
	if err != nil {
		writeError(w, ctx)
		return
	}
	writeTileResult(w, ts, res)
}

func (d *Dispatcher) handleGetMap(w http.ResponseWriter, r *http.Request, ctx *reqctx.Context, alias *config.Alias, req *Request) {
	// The request is handed to handleGetTile exactly as parsed. No
	// compositing of cached tiles and no forwarding to an upstream WMS is
	// done, and the bbox is not examined: WMSParser sets no grid or tile
	// coordinates for GetMap, so handleGetTile finds no grid link and
	// answers 404 "tile out of range" (400 for an unknown tileset).
	d.handleGetTile(w, r, ctx, alias, req)
}

func (d *Dispatcher) handleGetCapabilities(w http.ResponseWriter, r *http.Request, ctx *reqctx.Context, alias *config.Alias, service string) {
	base := publicBaseURL(r, alias.Endpoint)
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>`+"\n"+
		`<Capabilities service=%q baseURL=%q/>`+"\n", service, base)
}

func (d *Dispatcher) handleGetFeatureInfo(w http.ResponseWriter, r *http.Request, ctx *reqctx.Context, alias *config.Alias, req *Request) {
	http.Error(w, "feature info not available for this tileset", http.StatusNotFound)
}

func (d *Dispatcher) handleProxy(w http.ResponseWriter, r *http.Request, ctx *reqctx.Context, alias *config.Alias, req *Request) {
	h, ok := d.ProxyHandlers[alias.Endpoint]
	if !ok {
		http.Error(w, "proxy not configured for this alias", http.StatusBadRequest)
		return
	}
	h.ServeTo(w, r, ctx)
	if ctx.HasError() {
		writeError(w, ctx)
	}
}

func publicBaseURL(r *http.Request, endpoint string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if v := r.Header.Get("X-Forwarded-Proto"); v != "" {
		scheme = v
	}
	return scheme + "://" + r.Host + endpoint
}

func parseIfModifiedSince(r *http.Request) time.Time {
	v := r.Header.Get("If-Modified-Since")
	if v == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func writeTileResult(w http.ResponseWriter, ts *tile.Tileset, res *pipeline.Result) {
	if res.NotModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", res.ContentType)
	if !res.ModTime.IsZero() {
		w.Header().Set("Last-Modified", res.ModTime.UTC().Format(http.TimeFormat))
	}
	if cc := pipeline.CacheControl(ts); cc != "" {
		w.Header().Set("Cache-Control", cc)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	_, _ = w.Write(res.Data)
}

func writeError(w http.ResponseWriter, ctx *reqctx.Context) {
	e := ctx.GetError()
	if e == nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Error(w, e.Message, int(e.Code))
}

// NewMuxRouter wraps a Dispatcher behind a gorilla/mux router configured
// the way the original Apache module leaves path matching untouched:
// no automatic clean-slash redirects, and the raw encoded path preserved
// so percent-encoded tile coordinates (rare, but legal in TMS) survive.
func NewMuxRouter(d *Dispatcher) *mux.Router {
	r := mux.NewRouter()
	r.SkipClean(true)
	r.UseEncodedPath()
	r.PathPrefix("/").Handler(d)
	return r
}
