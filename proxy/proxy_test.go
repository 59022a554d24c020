package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/tomhel/mapcache/reqctx"
)

func newTestCtx() *reqctx.Context {
	return reqctx.New(context.Background(), nil, nil)
}

func TestServeToForwardsMethodQueryAndBody(t *testing.T) {
	var gotMethod, gotQuery, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = r.URL.RawQuery
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("upstream-response"))
	}))
	defer upstream.Close()

	u, _ := url.Parse(upstream.URL)
	h := New(u, nil, 1<<20, "", nil)

	req := httptest.NewRequest(http.MethodPost, "/proxy/path?x=1", strings.NewReader("payload"))
	req.RemoteAddr = "10.0.0.1:12345"
	rec := httptest.NewRecorder()
	ctx := newTestCtx()

	h.ServeTo(rec, req, ctx)

	if ctx.HasError() {
		t.Fatalf("unexpected error: %v", ctx.GetError())
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("got method %q, want POST", gotMethod)
	}
	if gotQuery != "x=1" {
		t.Fatalf("got query %q, want x=1", gotQuery)
	}
	if gotBody != "payload" {
		t.Fatalf("got body %q, want payload", gotBody)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("got status %d, want 201", rec.Code)
	}
	if rec.Header().Get("X-Upstream") != "yes" {
		t.Fatal("expected upstream response headers to be copied through")
	}
	if rec.Body.String() != "upstream-response" {
		t.Fatalf("got body %q, want upstream-response", rec.Body.String())
	}
}

func TestServeToAppendsToExistingForwardedHeaders(t *testing.T) {
	var gotForwardedFor string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotForwardedFor = r.Header.Get("X-Forwarded-For")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	u, _ := url.Parse(upstream.URL)
	h := New(u, nil, 0, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.RemoteAddr = "10.0.0.2:9999"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	rec := httptest.NewRecorder()

	h.ServeTo(rec, req, newTestCtx())

	if gotForwardedFor != "1.2.3.4, 10.0.0.2" {
		t.Fatalf("got X-Forwarded-For %q, want appended chain", gotForwardedFor)
	}
}

func TestServeToRejectsPostBodyOverLimit(t *testing.T) {
	called := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer upstream.Close()

	u, _ := url.Parse(upstream.URL)
	h := New(u, nil, 4, "", nil)

	req := httptest.NewRequest(http.MethodPost, "/p", strings.NewReader("this body is too long"))
	req.ContentLength = int64(len("this body is too long"))
	rec := httptest.NewRecorder()
	ctx := newTestCtx()

	h.ServeTo(rec, req, ctx)

	if !ctx.HasError() {
		t.Fatal("expected an error for an over-limit POST body")
	}
	if ctx.AsHTTPStatus() != http.StatusRequestEntityTooLarge {
		t.Fatalf("got status %d, want 413", ctx.AsHTTPStatus())
	}
	if called {
		t.Fatal("upstream must not be contacted when the body is rejected up front")
	}
}

func TestServeToSurfacesUnreachableUpstreamAsError(t *testing.T) {
	u, _ := url.Parse("http://127.0.0.1:1")
	h := New(u, nil, 0, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	rec := httptest.NewRecorder()
	ctx := newTestCtx()

	h.ServeTo(rec, req, ctx)

	if !ctx.HasError() {
		t.Fatal("expected an error when the upstream is unreachable")
	}
}
