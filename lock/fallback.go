package lock

import (
	"go.uber.org/zap"

	"github.com/tomhel/mapcache/reqctx"
)

// FallbackLocker tries each child Locker in order, moving to the next only
// when a child fails outright (connection refused, disk full) rather than
// when it simply reports Locked. A child's error is isolated on a cloned
// Context so that a failing fallback tier never leaks its error into the
// caller's Context once a later tier succeeds.
type FallbackLocker struct {
	Base
	Children []Locker
}

// NewFallbackLocker creates a locker that tries children in order.
func NewFallbackLocker(children []Locker, base Base) *FallbackLocker {
	return &FallbackLocker{Base: base, Children: children}
}

type fallbackToken struct {
	idx   int
	inner Token
}

func (f *FallbackLocker) Acquire(ctx *reqctx.Context, resource string) (Result, Token) {
	for i, child := range f.Children {
		sub := ctx.Clone()
		res, tok := child.Acquire(sub, resource)
		if !sub.HasError() {
			return res, fallbackToken{idx: i, inner: tok}
		}
		if ctx.Log != nil {
			ctx.Log.Warn("lock fallback tier failed, trying next",
				zap.Int("tier", i), zap.Error(sub.GetError()))
		}
		if i == len(f.Children)-1 {
			ctx.SetErrorSource(sub.GetError().Code, "lock.fallback", "all lock tiers failed: %s", sub.GetError().Message)
			return Noent, nil
		}
	}
	return Noent, nil
}

func (f *FallbackLocker) Ping(ctx *reqctx.Context, token Token) Result {
	ft, ok := token.(fallbackToken)
	if !ok || ft.idx >= len(f.Children) {
		return Noent
	}
	return f.Children[ft.idx].Ping(ctx, ft.inner)
}

func (f *FallbackLocker) Release(ctx *reqctx.Context, token Token) {
	ft, ok := token.(fallbackToken)
	if !ok || ft.idx >= len(f.Children) {
		return
	}
	f.Children[ft.idx].Release(ctx, ft.inner)
}
