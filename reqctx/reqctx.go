// Copyright 2026 The mapcache authors.
// SPDX-License-Identifier: Apache-2.0

// Package reqctx implements the per-request context and error ledger
// shared by every component of the cache/render pipeline.
//
// A Context carries no business data of its own: it is scratch space
// (inbound headers, the resolved alias configuration, a pool handle, a
// logger) plus a single current error. Components set an error instead of
// returning one so that speculative code ("try this cache tier, and if it
// fails try the next") can save the current error, attempt an operation,
// and either keep or discard what happened depending on the outcome.
package reqctx

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// Code is an HTTP-style status code attached to an Error.
type Code int

// The error kinds the core ever raises. These map 1:1 to HTTP status codes
// at the point the dispatcher writes a response.
const (
	CodeBadRequest       Code = 400
	CodeNotFound         Code = 404
	CodeMethodNotAllowed Code = 405
	CodeTooLarge         Code = 413
	CodeInternal         Code = 500
	CodeUnavailable      Code = 503
)

// Error is the structured error value carried by a Context. It is never
// thrown as a Go panic; it is read and cleared explicitly by callers.
type Error struct {
	Code    Code
	Message string
	Source  string // component that raised the error, for logging
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Source != "" {
		return fmt.Sprintf("%s: %s (%d)", e.Source, e.Message, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// Context is the per-request scratch arena and error ledger described in
// the design. It is not safe for concurrent use by multiple goroutines
// handling the *same* logical request, but cloned children may be handed
// to goroutines doing independent sub-work (e.g. compositing several tiles
// for a GetMap request).
type Context struct {
	// Std is the standard library context for this request. Blocking
	// operations (pool acquisition, lock waits, backend I/O, proxying)
	// take it so the whole chain is cancellable when the client goes away.
	Std context.Context

	Log     *zap.Logger
	Headers http.Header // inbound request headers, read-only view

	// SupportsRedirects hints whether the calling protocol can usefully
	// receive a 3xx (some WMTS/TMS error paths prefer an inline error
	// image over a redirect).
	SupportsRedirects bool

	// Config is the resolved alias configuration for this request. Typed
	// as any to avoid an import cycle with package config; callers assert
	// it to *config.Alias.
	Config any

	// Pool is the connection-pool handle bound to this request's alias.
	// Typed as any for the same reason as Config; callers assert it to
	// *pool.Pool.
	Pool any

	mu  sync.Mutex
	err *Error
}

// New creates a root Context for an inbound request.
func New(std context.Context, log *zap.Logger, headers http.Header) *Context {
	if log == nil {
		log = zap.NewNop()
	}
	return &Context{
		Std:     std,
		Log:     log,
		Headers: headers,
	}
}

// SetError records code/message as the context's current error. A
// subsequent SetError overwrites whatever was there before. MapCache
// carries at most one error at a time, the same as the original.
func (c *Context) SetError(code Code, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// SetErrorSource is like SetError but also records which component raised
// it, which is useful once the error has propagated a few calls up.
func (c *Context) SetErrorSource(code Code, source, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = &Error{Code: code, Message: fmt.Sprintf(format, args...), Source: source}
}

// HasError reports whether the context currently carries an error.
func (c *Context) HasError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err != nil
}

// GetError returns the current error, or nil.
func (c *Context) GetError() *Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// ClearErrors discards the current error.
func (c *Context) ClearErrors() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = nil
}

// PushErrors saves and clears the current error, returning the saved
// value so the caller can restore it later with PopErrors. This is the Go
// equivalent of the original's push_errors/pop_errors pair: it lets code
// attempt a speculative operation (e.g. try cache tier N) without losing
// track of an error that was already pending before the attempt.
func (c *Context) PushErrors() *Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	saved := c.err
	c.err = nil
	return saved
}

// PopErrors restores a previously saved error, overwriting whatever the
// speculative operation set in the meantime.
func (c *Context) PopErrors(saved *Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = saved
}

// Clone returns an independent child Context for sub-work (compositing
// several backend reads, trying fallback lockers). The child shares the
// parent's immutable fields but starts with a clean error slot; it never
// mutates the parent's error.
func (c *Context) Clone() *Context {
	return &Context{
		Std:               c.Std,
		Log:               c.Log,
		Headers:           c.Headers,
		SupportsRedirects: c.SupportsRedirects,
		Config:            c.Config,
		Pool:              c.Pool,
	}
}

// AsHTTPStatus maps the current error's Code to an http status, returning
// 200 (http.StatusOK) if no error is set.
func (c *Context) AsHTTPStatus() int {
	e := c.GetError()
	if e == nil {
		return http.StatusOK
	}
	return int(e.Code)
}
