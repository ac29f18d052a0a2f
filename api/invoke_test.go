package api

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guoyu07/SlimWebApi/cache"
)

func mustMethod(t *testing.T, r *Registry, fn any, s Setting) *Method {
	t.Helper()
	name, err := r.Register(fn, s)
	require.NoError(t, err)
	m, ok := r.Lookup(name)
	require.True(t, ok)
	return m
}

func TestInvokeAutoCache(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := NewRegistry(Options{})
	m := mustMethod(t, r, func(a, b int) int {
		calls.Add(1)
		return a + b
	}, Setting{
		Name:            "Sum",
		Params:          []string{"a", "b"},
		AutoCache:       true,
		CacheProvider:   cache.NewMemory(16),
		CacheExpiration: time.Minute,
	})

	ctx := context.Background()
	for range 3 {
		res, err := Invoke(ctx, m, Args{"a": 1, "b": 2})
		require.NoError(t, err)
		assert.Equal(t, 3, res)
	}
	assert.EqualValues(t, 1, calls.Load())

	res, err := Invoke(ctx, m, Args{"b": 5, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, 6, res)
	assert.EqualValues(t, 2, calls.Load())
}

func TestInvokeCachedNilIsMiss(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := NewRegistry(Options{})
	m := mustMethod(t, r, func() *point {
		calls.Add(1)
		return nil
	}, Setting{Name: "Nothing", AutoCache: true, CacheProvider: cache.NewMemory(4), CacheExpiration: time.Minute})

	for range 2 {
		res, err := Invoke(context.Background(), m, nil)
		require.NoError(t, err)
		assert.Nil(t, res)
	}
	assert.EqualValues(t, 2, calls.Load())
}

func TestCacheKey(t *testing.T) {
	t.Parallel()

	mem := cache.NewMemory(4)
	r := NewRegistry(Options{})
	fn := func(a int, b []string) int { return a }
	m1 := mustMethod(t, r, fn, Setting{Name: "K", Params: []string{"a", "b"}, CacheProvider: mem, CacheExpiration: time.Second})
	m2 := mustMethod(t, r, fn, Setting{Name: "K", Params: []string{"a", "b"}, CacheProvider: mem, CacheExpiration: time.Second, CacheNamespace: "ns"})

	k := cacheKey(m1, Args{"a": 1, "b": []string{"x"}})
	assert.Equal(t, k, cacheKey(m1, Args{"b": []string{"x"}, "a": 1}))
	assert.NotEqual(t, k, cacheKey(m1, Args{"a": 2, "b": []string{"x"}}))
	assert.NotEqual(t, k, cacheKey(m2, Args{"a": 1, "b": []string{"x"}}))
	assert.Contains(t, cacheKey(m2, Args{}), "ns:K2#")
}

type sealed struct {
	Label  string
	secret int
	tags   map[string]int
}

func TestCacheKeyUsesCoercedValues(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Options{})
	m := mustMethod(t, r, func(a int, s sealed) int { return a }, Setting{
		Name: "Coerced", Params: []string{"a", "s"}, CacheProvider: cache.NewMemory(4), CacheExpiration: time.Second,
	})

	k := cacheKey(m, Args{"a": 1})
	assert.Equal(t, k, cacheKey(m, Args{"a": "1"}))
	assert.Equal(t, k, cacheKey(m, Args{"a": 1.0}))
	assert.Equal(t, cacheKey(m, Args{}), cacheKey(m, Args{"a": 0, "s": sealed{}}))

	one := sealed{Label: "x", secret: 1, tags: map[string]int{"a": 1, "b": 2}}
	two := sealed{Label: "x", secret: 2, tags: map[string]int{"a": 1, "b": 2}}
	same := sealed{Label: "x", secret: 1, tags: map[string]int{"b": 2, "a": 1}}
	assert.NotEqual(t, cacheKey(m, Args{"s": one}), cacheKey(m, Args{"s": two}))
	assert.Equal(t, cacheKey(m, Args{"s": one}), cacheKey(m, Args{"s": same}))
}

func TestInvokeDecodesPayloads(t *testing.T) {
	t.Parallel()

	p := &payloadProvider{Memory: cache.NewMemory(4)}
	r := NewRegistry(Options{})
	var calls atomic.Int32
	m := mustMethod(t, r, func(x int) point {
		calls.Add(1)
		return point{X: x, Y: x * 2}
	}, Setting{Name: "P", Params: []string{"x"}, AutoCache: true, CacheProvider: p, CacheExpiration: time.Minute})

	for range 2 {
		res, err := Invoke(context.Background(), m, Args{"x": 4})
		require.NoError(t, err)
		assert.Equal(t, point{4, 8}, res)
	}
	assert.EqualValues(t, 1, calls.Load())
}

// payloadProvider stores JSON payloads the way an out-of-process cache does.
type payloadProvider struct {
	*cache.Memory
}

func (p *payloadProvider) Add(ctx context.Context, key string, value any, exp time.Duration) error {
	pl, err := cache.JSON.Serialize(value)
	if err != nil {
		return err
	}
	return p.Memory.Add(ctx, key, pl, exp)
}

func TestInvokeHooks(t *testing.T) {
	t.Parallel()

	var before, after int
	var afterErr error
	boom := errors.New("boom")
	r := NewRegistry(Options{})
	s := Setting{
		Params:       []string{"fail"},
		BeforeInvoke: func(*Method, Args) { before++ },
		AfterInvoke: func(_ *Method, _ Args, _ any, err error) {
			after++
			afterErr = err
		},
	}
	s.Name = "Maybe"
	m := mustMethod(t, r, func(fail bool) (string, error) {
		if fail {
			return "", boom
		}
		return "ok", nil
	}, s)

	res, err := Invoke(context.Background(), m, Args{"fail": false})
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, 1, before)
	assert.Equal(t, 1, after)
	assert.NoError(t, afterErr)

	_, err = Invoke(context.Background(), m, Args{"fail": true})
	var ie *InvocationError
	require.ErrorAs(t, err, &ie)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, after)
	assert.ErrorIs(t, afterErr, boom)

	s.Name = "Panics"
	p := mustMethod(t, r, func(fail bool) string { panic("bad") }, s)
	_, err = Invoke(context.Background(), p, nil)
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 3, after)
	assert.ErrorAs(t, afterErr, &ie)
}

// panickyProvider panics on the operation named by op.
type panickyProvider struct {
	*cache.Memory
	op string
}

func (p *panickyProvider) Get(ctx context.Context, key string) (any, bool, error) {
	if p.op == "get" {
		panic("provider get")
	}
	return p.Memory.Get(ctx, key)
}

func (p *panickyProvider) Add(ctx context.Context, key string, value any, exp time.Duration) error {
	if p.op == "add" {
		panic("provider add")
	}
	return p.Memory.Add(ctx, key, value, exp)
}

func TestInvokeRecoversPanics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setting Setting
	}{
		{"before hook", Setting{BeforeInvoke: func(*Method, Args) {
			var m map[string]int
			m["x"] = 1
		}}},
		{"provider get", Setting{AutoCache: true, CacheProvider: &panickyProvider{Memory: cache.NewMemory(4), op: "get"}, CacheExpiration: time.Minute}},
		{"provider add", Setting{AutoCache: true, CacheProvider: &panickyProvider{Memory: cache.NewMemory(4), op: "add"}, CacheExpiration: time.Minute}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var afterErr error
			s := tt.setting
			s.Name = "One"
			s.AfterInvoke = func(_ *Method, _ Args, _ any, err error) { afterErr = err }

			m := mustMethod(t, NewRegistry(Options{}), func() int { return 1 }, s)
			res, err := Invoke(context.Background(), m, nil)
			assert.Nil(t, res)
			var ie *InvocationError
			require.ErrorAs(t, err, &ie)
			assert.Contains(t, ie.Error(), "panic")
			assert.ErrorAs(t, afterErr, &ie)
		})
	}

	t.Run("after hook", func(t *testing.T) {
		m := mustMethod(t, NewRegistry(Options{}), func() int { return 1 }, Setting{
			Name:        "One",
			AfterInvoke: func(*Method, Args, any, error) { panic("after") },
		})
		res, err := Invoke(context.Background(), m, nil)
		assert.Nil(t, res)
		var ie *InvocationError
		assert.ErrorAs(t, err, &ie)
	})
}

func TestInvokeArgumentCoercion(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Options{})
	m := mustMethod(t, r, func(a int64, d time.Duration) int64 { return a + int64(d) }, Setting{Name: "C", Params: []string{"a", "d"}})

	res, err := Invoke(context.Background(), m, Args{"a": 1, "d": "2ns"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res)

	_, err = Invoke(context.Background(), m, Args{"a": "x"})
	var ce *ArgumentConversionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "a", ce.Key)

	n := mustMethod(t, r, func(a int8, b int, c uint8, f float32) float64 {
		return float64(a) + float64(b) + float64(c) + float64(f)
	}, Setting{Name: "N", Params: []string{"a", "b", "c", "f"}})

	res, err = Invoke(context.Background(), n, Args{"a": 100, "b": 2.0, "c": int64(255), "f": 0.5})
	require.NoError(t, err)
	assert.Equal(t, 357.5, res)

	tests := []struct {
		name string
		args Args
		key  string
	}{
		{"int8 overflow", Args{"a": 300}, "a"},
		{"int8 underflow", Args{"a": -129}, "a"},
		{"fraction to int", Args{"b": 1.9}, "b"},
		{"negative to uint", Args{"c": -1}, "c"},
		{"uint8 overflow", Args{"c": uint64(256)}, "c"},
		{"float32 overflow", Args{"f": 1e300}, "f"},
		{"huge float to int", Args{"b": 1e19}, "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Invoke(context.Background(), n, tt.args)
			var ce *ArgumentConversionError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.key, ce.Key)
		})
	}
}

func TestManualCache(t *testing.T) {
	t.Parallel()

	var computed atomic.Int32
	r := NewRegistry(Options{})
	r.SetCacheBase(cache.NewMemory(4), time.Minute)
	m := mustMethod(t, r, func(ctx context.Context, n int) (int, error) {
		if v, ok, err := CachedResult[int](ctx); err != nil || ok {
			return v, err
		}
		computed.Add(1)
		v := n * 10
		return v, SetCachedResult(ctx, v)
	}, Setting{Name: "Manual", Params: []string{"n"}})
	assert.False(t, m.AutoCache())

	for range 3 {
		res, err := Invoke(context.Background(), m, Args{"n": 2})
		require.NoError(t, err)
		assert.Equal(t, 20, res)
	}
	assert.EqualValues(t, 1, computed.Load())
}

func TestCurrentContextOutsideInvocation(t *testing.T) {
	t.Parallel()

	ic := CurrentContext(context.Background())
	assert.Nil(t, ic.Method())
	assert.False(t, ic.HasCache())
	_, ok, err := ic.GetCachedResult(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, SetCachedResult(context.Background(), 1))
}

func TestInvokeConcurrent(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Options{})
	m := mustMethod(t, r, func(a, b int) int { return a * b }, Setting{
		Name:            "Mul",
		Params:          []string{"a", "b"},
		AutoCache:       true,
		CacheProvider:   cache.NewMemory(64),
		CacheExpiration: time.Minute,
	})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := Invoke(context.Background(), m, Args{"a": i % 5, "b": 3})
			assert.NoError(t, err)
			assert.Equal(t, (i%5)*3, res)
		}()
	}
	wg.Wait()
}
