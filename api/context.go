package api

import (
	"context"
	"sync"
	"time"

	"github.com/guoyu07/SlimWebApi/cache"
)

// InvocationContext is the per-call handle a method body uses for manual
// caching. It is created for every invocation and travels in the
// context.Context handed to the method.
type InvocationContext struct {
	method     *Method
	provider   cache.Provider
	expiration time.Duration

	keyOnce sync.Once
	keyFn   func() string
	key     string
}

type invocationKey struct{}

func newInvocationContext(m *Method, args Args) *InvocationContext {
	return &InvocationContext{
		method:     m,
		provider:   m.cacheProvider,
		expiration: m.cacheExpiration,
		keyFn:      func() string { return cacheKey(m, args) },
	}
}

func withInvocation(ctx context.Context, ic *InvocationContext) context.Context {
	return context.WithValue(ctx, invocationKey{}, ic)
}

// CurrentContext returns the InvocationContext of the call running on ctx.
// Outside an invocation it returns an empty context without a cache, so
// callers never need a nil check.
func CurrentContext(ctx context.Context) *InvocationContext {
	if ic, ok := ctx.Value(invocationKey{}).(*InvocationContext); ok && ic != nil {
		return ic
	}
	return &InvocationContext{keyFn: func() string { return "" }}
}

// Method returns the invoked method, or nil outside an invocation.
func (c *InvocationContext) Method() *Method {
	return c.method
}

// HasCache reports whether a cache provider is attached.
func (c *InvocationContext) HasCache() bool {
	return c.provider != nil
}

// CacheKey returns the key for this call. It is computed on first use and
// reused for the rest of the call.
func (c *InvocationContext) CacheKey() string {
	c.keyOnce.Do(func() {
		c.key = c.keyFn()
	})
	return c.key
}

// GetCachedResult returns the cached value for this call's key. ok is false
// when nothing is cached or no provider is attached.
func (c *InvocationContext) GetCachedResult(ctx context.Context) (value any, ok bool, err error) {
	if c.provider == nil {
		return nil, false, nil
	}
	return c.provider.Get(ctx, c.CacheKey())
}

// SetCachedResult stores value under this call's key with the method's
// expiration. It is a no-op when no provider is attached.
func (c *InvocationContext) SetCachedResult(ctx context.Context, value any) error {
	if c.provider == nil {
		return nil
	}
	return c.provider.Set(ctx, c.CacheKey(), value, c.expiration)
}

// GetCachedResult is shorthand for CurrentContext(ctx).GetCachedResult(ctx).
func GetCachedResult(ctx context.Context) (any, bool, error) {
	return CurrentContext(ctx).GetCachedResult(ctx)
}

// SetCachedResult is shorthand for CurrentContext(ctx).SetCachedResult(ctx, value).
func SetCachedResult(ctx context.Context, value any) error {
	return CurrentContext(ctx).SetCachedResult(ctx, value)
}

// CachedResult fetches this call's cached value as a T, decoding serialized
// payloads from out-of-process providers.
func CachedResult[T any](ctx context.Context) (T, bool, error) {
	var out T
	v, ok, err := GetCachedResult(ctx)
	if err != nil || !ok {
		return out, false, err
	}
	if err := cache.Decode(v, &out); err != nil {
		return out, false, err
	}
	return out, true, nil
}
