package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/guoyu07/SlimWebApi/cache"
	"github.com/guoyu07/SlimWebApi/compression"
	"github.com/guoyu07/SlimWebApi/typeconv"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// Args maps parameter names to decoded argument values.
type Args map[string]any

// ParamKind tells where a parameter's value comes from.
type ParamKind int

const (
	// KindValue parameters are read from a key of the request.
	KindValue ParamKind = iota
	// KindStream parameters receive the raw request body.
	KindStream
	// KindFiles parameters receive the uploaded files.
	KindFiles
)

func (k ParamKind) String() string {
	switch k {
	case KindStream:
		return "stream"
	case KindFiles:
		return "files"
	}
	return "value"
}

// Param describes one declared parameter of a method.
type Param struct {
	Name         string
	Type         reflect.Type
	IsCollection bool
	Kind         ParamKind
}

func kindOf(t reflect.Type) ParamKind {
	switch {
	case typeconv.IsStream(t):
		return KindStream
	case typeconv.IsFileSet(t):
		return KindFiles
	}
	return KindValue
}

// Method is the immutable registration record of one callable method.
type Method struct {
	name     string
	declared string
	identity string

	fn          reflect.Value
	withContext bool
	params      []Param
	paramIndex  map[string]int
	resultType  reflect.Type
	hasError    bool

	autoCache       bool
	cacheExpiration time.Duration
	cacheProvider   cache.Provider
	cacheNamespace  string
	compression     compression.Method

	before func(*Method, Args)
	after  func(*Method, Args, any, error)
}

// Name returns the effective, registry-unique name.
func (m *Method) Name() string { return m.name }

// DeclaredName returns the name requested at registration, before overload
// disambiguation.
func (m *Method) DeclaredName() string { return m.declared }

// Params returns the declared parameters in call order.
func (m *Method) Params() []Param { return append([]Param(nil), m.params...) }

// ResultType returns the type of the method's result, or nil if it has none.
func (m *Method) ResultType() reflect.Type { return m.resultType }

func (m *Method) AutoCache() bool                  { return m.autoCache }
func (m *Method) CacheExpiration() time.Duration   { return m.cacheExpiration }
func (m *Method) CacheProvider() cache.Provider    { return m.cacheProvider }
func (m *Method) CacheNamespace() string           { return m.cacheNamespace }
func (m *Method) Compression() compression.Method { return m.compression }

// Param looks up a parameter by name, case-insensitively.
func (m *Method) Param(name string) (Param, bool) {
	i, ok := m.paramIndex[strings.ToLower(name)]
	if !ok {
		return Param{}, false
	}
	return m.params[i], true
}

// special returns the stream or files parameter, if any.
func (m *Method) special() *Param {
	for i := range m.params {
		if m.params[i].Kind != KindValue {
			return &m.params[i]
		}
	}
	return nil
}

func (m *Method) paramTypes() []reflect.Type {
	ts := make([]reflect.Type, len(m.params))
	for i, p := range m.params {
		ts[i] = p.Type
	}
	return ts
}

// newMethod validates fn against s and builds its descriptor.
func newMethod(fn any, s Setting) (*Method, error) {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return nil, configErr(s.Name, "callable must be a non-nil func, got %T", fn)
	}
	ft := fv.Type()
	identity := funcName(fv)

	name := strings.TrimSpace(s.Name)
	if name == "" {
		name = shortName(identity)
	}
	if name == "" {
		return nil, configErr("", "method name is empty")
	}
	if ft.IsVariadic() {
		return nil, configErr(name, "variadic functions are not supported")
	}

	m := &Method{
		name:            name,
		declared:        name,
		identity:        identity,
		fn:              fv,
		autoCache:       s.AutoCache,
		cacheExpiration: s.CacheExpiration,
		cacheProvider:   s.CacheProvider,
		cacheNamespace:  s.CacheNamespace,
		compression:     s.Compression,
		before:          s.BeforeInvoke,
		after:           s.AfterInvoke,
	}

	first := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		m.withContext = true
		first = 1
	}
	n := ft.NumIn() - first
	names := s.Params
	if len(names) == 0 {
		names = make([]string, n)
		for i := range names {
			names[i] = "arg" + strconv.Itoa(i+1)
		}
	}
	if len(names) != n {
		return nil, configErr(name, "%d parameter names given for %d parameters", len(names), n)
	}

	m.paramIndex = make(map[string]int, n)
	for i := 0; i < n; i++ {
		t := ft.In(first + i)
		pname := strings.TrimSpace(names[i])
		if pname == "" {
			return nil, configErr(name, "parameter %d has no name", i+1)
		}
		if t == contextType {
			return nil, configErr(name, "context.Context must be the first parameter")
		}
		key := strings.ToLower(pname)
		if _, dup := m.paramIndex[key]; dup {
			return nil, configErr(name, "duplicate parameter name %q", pname)
		}
		m.paramIndex[key] = i
		m.params = append(m.params, Param{
			Name:         pname,
			Type:         t,
			IsCollection: typeconv.IsCollection(t),
			Kind:         kindOf(t),
		})
	}

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			m.hasError = true
		} else {
			m.resultType = ft.Out(0)
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, configErr(name, "second result must be error, got %s", ft.Out(1))
		}
		m.resultType = ft.Out(0)
		m.hasError = true
	default:
		return nil, configErr(name, "functions may return at most (result, error)")
	}

	if m.autoCache && m.cacheProvider == nil {
		return nil, configErr(name, "automatic caching requires a cache provider")
	}
	if m.cacheProvider != nil && m.cacheExpiration <= 0 {
		return nil, configErr(name, "cache expiration must be positive, got %s", m.cacheExpiration)
	}
	if m.compression < compression.None || m.compression > compression.Auto {
		return nil, configErr(name, "unknown compression method %d", int(m.compression))
	}
	return m, nil
}

// withName returns a copy of m registered under name.
func (m *Method) withName(name string) *Method {
	c := *m
	c.name = name
	return &c
}

// call invokes the method body with args. Missing arguments take their zero
// value. Panics are recovered into an InvocationError.
func (m *Method) call(ctx context.Context, args Args) (result any, err error) {
	defer recoverInvocation(m, &result, &err)

	in := make([]reflect.Value, 0, len(m.params)+1)
	if m.withContext {
		in = append(in, reflect.ValueOf(ctx))
	}
	for _, p := range m.params {
		v, err := argValue(p, args[p.Name])
		if err != nil {
			return nil, err
		}
		in = append(in, v)
	}

	out := m.fn.Call(in)

	if m.hasError {
		if ev := out[len(out)-1]; !ev.IsNil() {
			return nil, &InvocationError{Method: m.name, Err: ev.Interface().(error)}
		}
	}
	if m.resultType != nil {
		result = out[0].Interface()
	}
	return result, nil
}

func argValue(p Param, v any) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(p.Type), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(p.Type) {
		return rv, nil
	}
	if s, ok := v.(string); ok && typeconv.CanConvertFromString(p.Type) {
		cv, err := typeconv.ConvertString(s, p.Type)
		if err != nil {
			return reflect.Value{}, &ArgumentConversionError{Key: p.Name, Value: s, Type: p.Type, Err: err}
		}
		return cv, nil
	}
	if isNumeric(rv.Kind()) && isNumeric(p.Type.Kind()) {
		cv, err := convertNumber(rv, p.Type)
		if err != nil {
			return reflect.Value{}, &ArgumentConversionError{Key: p.Name, Value: fmt.Sprint(v), Type: p.Type, Err: err}
		}
		return cv, nil
	}
	return reflect.Value{}, &ArgumentConversionError{
		Key:   p.Name,
		Value: fmt.Sprint(v),
		Type:  p.Type,
		Err:   fmt.Errorf("cannot use %T", v),
	}
}

var (
	errOverflow    = errors.New("value out of range")
	errNotIntegral = errors.New("value is not an integer")
)

// convertNumber converts between numeric kinds without wrapping or
// truncating.
func convertNumber(rv reflect.Value, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch {
	case rv.CanInt():
		i := rv.Int()
		switch {
		case out.CanInt():
			if out.OverflowInt(i) {
				return reflect.Value{}, errOverflow
			}
			out.SetInt(i)
		case out.CanUint():
			if i < 0 || out.OverflowUint(uint64(i)) {
				return reflect.Value{}, errOverflow
			}
			out.SetUint(uint64(i))
		default:
			out.SetFloat(float64(i))
		}
	case rv.CanUint():
		u := rv.Uint()
		switch {
		case out.CanInt():
			if u > math.MaxInt64 || out.OverflowInt(int64(u)) {
				return reflect.Value{}, errOverflow
			}
			out.SetInt(int64(u))
		case out.CanUint():
			if out.OverflowUint(u) {
				return reflect.Value{}, errOverflow
			}
			out.SetUint(u)
		default:
			out.SetFloat(float64(u))
		}
	default:
		f := rv.Float()
		switch {
		case out.CanInt():
			if f != math.Trunc(f) {
				return reflect.Value{}, errNotIntegral
			}
			if f < math.MinInt64 || f >= math.MaxInt64 || out.OverflowInt(int64(f)) {
				return reflect.Value{}, errOverflow
			}
			out.SetInt(int64(f))
		case out.CanUint():
			if f != math.Trunc(f) {
				return reflect.Value{}, errNotIntegral
			}
			if f < 0 || f >= math.MaxUint64 || out.OverflowUint(uint64(f)) {
				return reflect.Value{}, errOverflow
			}
			out.SetUint(uint64(f))
		default:
			if out.OverflowFloat(f) {
				return reflect.Value{}, errOverflow
			}
			out.SetFloat(f)
		}
	}
	return out, nil
}

func isNumeric(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Float64
}

func funcName(fv reflect.Value) string {
	if f := runtime.FuncForPC(fv.Pointer()); f != nil {
		return f.Name()
	}
	return ""
}

// shortName turns "pkg/path.(*T).Method-fm" or "pkg.Func" into the bare
// method or function name. Anonymous functions yield "".
func shortName(full string) string {
	full = strings.TrimSuffix(full, "-fm")
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	if i := strings.LastIndex(full, "."); i >= 0 {
		full = full[i+1:]
	}
	if full == "" || strings.HasPrefix(full, "func") && strings.TrimLeft(full[4:], "0123456789") == "" {
		return ""
	}
	return full
}
