package api

import (
	"time"

	"github.com/guoyu07/SlimWebApi/cache"
	"github.com/guoyu07/SlimWebApi/compression"
)

// Setting configures one registered method.
type Setting struct {
	// Name is the externally visible name. Defaults to the Go function name.
	Name string
	// Params names the function's parameters in order, excluding a leading
	// context.Context. Defaults to arg1..argN.
	Params []string

	// AutoCache caches results keyed by method and arguments. It requires a
	// CacheProvider, either here or from Registry.SetCacheBase.
	AutoCache       bool
	CacheExpiration time.Duration
	CacheProvider   cache.Provider
	CacheNamespace  string

	Compression compression.Method

	BeforeInvoke func(m *Method, args Args)
	// AfterInvoke runs exactly once per invocation, with the error if one
	// occurred.
	AfterInvoke func(m *Method, args Args, result any, err error)
}

// ParamNamer is implemented by receivers passed to RegisterMethods to name
// the parameters of their methods.
type ParamNamer interface {
	ParamNames(method string) []string
}

// SettingProvider is implemented by receivers passed to RegisterMethods to
// customize the Setting of individual methods. base already carries the
// method name and parameter names.
type SettingProvider interface {
	MethodSetting(method string, base Setting) Setting
}
