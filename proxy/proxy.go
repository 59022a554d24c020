// Package proxy implements the passthrough proxy request handler (§4.I):
// forward the inbound request to a configured upstream, enforce a POST
// body size limit, append the standard forwarding headers, and stream the
// response back verbatim. The response-copying shape is grounded
// directly on imageproxy's Proxy.ServeHTTP.
package proxy

import (
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/tomhel/mapcache/reqctx"
)

// Handler forwards requests to a single configured upstream.
type Handler struct {
	Upstream   *url.URL
	Client     *http.Client
	MaxPostLen int64 // bytes; <=0 means unlimited
	ServerName string // value appended to X-Forwarded-Server
	Log        *zap.Logger
}

// New creates a Handler. client may be nil, in which case http.DefaultClient
// is used, mirroring imageproxy's Proxy.Client being an injectable field
// so tests can substitute a stub transport.
func New(upstream *url.URL, client *http.Client, maxPostLen int64, serverName string, log *zap.Logger) *Handler {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Upstream: upstream, Client: client, MaxPostLen: maxPostLen, ServerName: serverName, Log: log}
}

// ServeTo handles one proxied request. It takes ctx so the dispatcher can
// surface a structured error via the shared ledger instead of writing
// directly to w on failure paths the dispatcher wants to format itself.
func (h *Handler) ServeTo(w http.ResponseWriter, r *http.Request, ctx *reqctx.Context) {
	target := *h.Upstream
	target.RawQuery = r.URL.RawQuery

	var body io.Reader
	if r.Method == http.MethodPost {
		if h.MaxPostLen > 0 && r.ContentLength > h.MaxPostLen {
			ctx.SetErrorSource(reqctx.CodeTooLarge, "proxy", "POST body of %d bytes exceeds limit of %d", r.ContentLength, h.MaxPostLen)
			return
		}
		var limited io.Reader = r.Body
		if h.MaxPostLen > 0 {
			limited = io.LimitReader(r.Body, h.MaxPostLen+1)
		}
		data, err := io.ReadAll(limited)
		if err != nil {
			ctx.SetErrorSource(reqctx.CodeInternal, "proxy", "reading POST body: %v", err)
			return
		}
		if h.MaxPostLen > 0 && int64(len(data)) > h.MaxPostLen {
			ctx.SetErrorSource(reqctx.CodeTooLarge, "proxy", "POST body exceeds limit of %d bytes", h.MaxPostLen)
			return
		}
		body = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(ctx.Std, r.Method, target.String(), body)
	if err != nil {
		ctx.SetErrorSource(reqctx.CodeInternal, "proxy", "building upstream request: %v", err)
		return
	}
	req.Header = r.Header.Clone()
	h.addForwardingHeaders(req, r)

	resp, err := h.Client.Do(req)
	if err != nil {
		ctx.SetErrorSource(reqctx.CodeUnavailable, "proxy", "upstream request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		w.Header()[k] = vv
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.Log.Debug("error streaming proxied response body", zap.Error(err))
	}
}

// addForwardingHeaders appends to (rather than overwrites) any
// pre-existing X-Forwarded-* headers, per §4.I and the original's
// behavior of chaining through requests that already passed one proxy.
func (h *Handler) addForwardingHeaders(req *http.Request, orig *http.Request) {
	clientIP := orig.RemoteAddr
	if host, _, err := net.SplitHostPort(orig.RemoteAddr); err == nil {
		clientIP = host
	}
	appendHeader(req.Header, "X-Forwarded-For", clientIP)
	appendHeader(req.Header, "X-Forwarded-Host", orig.Host)
	if h.ServerName != "" {
		appendHeader(req.Header, "X-Forwarded-Server", h.ServerName)
	}
}

func appendHeader(h http.Header, key, value string) {
	if existing := h.Get(key); existing != "" {
		h.Set(key, existing+", "+value)
		return
	}
	h.Set(key, value)
}
