package api

import (
	"context"
	"fmt"
	"reflect"

	"github.com/guoyu07/SlimWebApi/cache"
)

// Invoke calls m with args.
//
// An InvocationContext is published on the context passed to the method body.
// BeforeInvoke runs first and AfterInvoke runs exactly once on the way out,
// with the error if there was one. For AutoCache methods the cache is checked
// first and a fresh result is added to it after a miss. A cached nil counts
// as a miss.
//
// Every failure is returned as an *InvocationError, except argument
// conversion failures which are *ArgumentConversionError. A panic in a hook,
// the cache provider or the method body becomes an *InvocationError that
// AfterInvoke also sees.
func Invoke(ctx context.Context, m *Method, args Args) (result any, err error) {
	if args == nil {
		args = Args{}
	}
	ic := newInvocationContext(m, args)
	ctx = withInvocation(ctx, ic)

	defer func() {
		if m.after == nil {
			return
		}
		defer recoverInvocation(m, &result, &err)
		m.after(m, args, result, err)
	}()
	defer recoverInvocation(m, &result, &err)

	if m.before != nil {
		m.before(m, args)
	}

	if !m.autoCache {
		return m.call(ctx, args)
	}

	key := ic.CacheKey()
	cached, ok, err := m.cacheProvider.Get(ctx, key)
	if err != nil {
		return nil, &InvocationError{Method: m.name, Err: fmt.Errorf("cache get: %w", err)}
	}
	if ok && !isNil(cached) {
		v, err := m.fromCache(cached)
		if err != nil {
			return nil, &InvocationError{Method: m.name, Err: fmt.Errorf("cache decode: %w", err)}
		}
		return v, nil
	}

	result, err = m.call(ctx, args)
	if err != nil {
		return nil, err
	}
	if err := m.cacheProvider.Add(ctx, key, result, m.cacheExpiration); err != nil {
		return nil, &InvocationError{Method: m.name, Err: fmt.Errorf("cache add: %w", err)}
	}
	return result, nil
}

// recoverInvocation must be deferred directly.
func recoverInvocation(m *Method, result *any, err *error) {
	if r := recover(); r != nil {
		*result = nil
		*err = &InvocationError{Method: m.name, Err: fmt.Errorf("panic: %v", r)}
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// fromCache turns a serialized payload back into the method's result type.
// Live values from in-process providers are returned unchanged.
func (m *Method) fromCache(v any) (any, error) {
	switch v.(type) {
	case cache.Payload, *cache.Payload:
	default:
		return v, nil
	}
	if m.resultType == nil {
		return nil, nil
	}
	ptr := reflect.New(m.resultType)
	if err := cache.Decode(v, ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}
