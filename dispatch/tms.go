// Copyright 2026 The mapcache authors.
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"sort"
	"strconv"
	"strings"
)

// TMSParser implements the "tms" service: path-info of the form
// "{tileset}/{grid}/{z}/{x}/{y}.{format}", the layout TMS and most WMTS
// RESTful bindings share. Grounded on jheidel-planet/tileserver's
// z/x/y extraction, generalized from mux.Vars (tileserver runs its own
// mux route) to a plain path-info split since the leading service segment
// here has already been consumed by the dispatcher.
type TMSParser struct{}

func (TMSParser) Name() string { return "tms" }

func (TMSParser) Parse(pathInfo string, query map[string][]string) (*Request, bool) {
	parts := strings.Split(strings.Trim(pathInfo, "/"), "/")
	if len(parts) == 1 && parts[0] == "" {
		return &Request{Kind: KindGetCapabilities}, true
	}
	if len(parts) < 5 {
		return nil, false
	}
	tileset, grid := parts[0], parts[1]
	z, err1 := strconv.Atoi(parts[2])
	x, err2 := strconv.Atoi(parts[3])
	yPart := parts[4]
	format := ""
	if i := strings.LastIndexByte(yPart, '.'); i >= 0 {
		format, yPart = yPart[i+1:], yPart[:i]
	}
	y, err3 := strconv.Atoi(yPart)
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, false
	}
	return &Request{
		Kind:    KindGetTile,
		Tileset: tileset,
		Grid:    grid,
		Z:       z,
		X:       x,
		Y:       y,
		Format:  format,
		Dims:    dimensionSignature(query),
	}, true
}

// WMSParser implements WMS-style GetMap/GetCapabilities/GetFeatureInfo
// dispatch from query parameters (REQUEST=GetMap&LAYERS=…&BBOX=…), the
// other common binding alongside the RESTful one TMSParser handles.
type WMSParser struct{}

func (WMSParser) Name() string { return "wms" }

func (WMSParser) Parse(pathInfo string, query map[string][]string) (*Request, bool) {
	req := firstOrEmpty(query, "REQUEST")
	switch strings.ToLower(req) {
	case "getcapabilities":
		return &Request{Kind: KindGetCapabilities}, true
	case "getfeatureinfo":
		return &Request{Kind: KindGetFeatureInfo, Tileset: firstOrEmpty(query, "LAYERS")}, true
	case "getmap":
		return &Request{
			Kind:    KindGetMap,
			Tileset: firstOrEmpty(query, "LAYERS"),
			Format:  firstOrEmpty(query, "FORMAT"),
			Dims:    dimensionSignature(query),
		}, true
	default:
		return nil, false
	}
}

func firstOrEmpty(query map[string][]string, key string) string {
	if v := query[key]; len(v) > 0 {
		return v[0]
	}
	if v := query[strings.ToUpper(key)]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// dimensionSignature canonicalizes the WMS dimension query params (any
// param not among the reserved WMS/TMS ones) into the sorted
// "key=value;key=value" string tile.ID.Dimensions expects, so two
// requests differing only in query parameter order share a cache key.
func dimensionSignature(query map[string][]string) string {
	reserved := map[string]bool{
		"REQUEST": true, "LAYERS": true, "FORMAT": true, "BBOX": true,
		"WIDTH": true, "HEIGHT": true, "SRS": true, "CRS": true,
		"VERSION": true, "SERVICE": true, "STYLES": true, "TRANSPARENT": true,
	}
	var keys []string
	for k := range query {
		if !reserved[strings.ToUpper(k)] {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(firstOrEmpty(query, k))
	}
	return b.String()
}
