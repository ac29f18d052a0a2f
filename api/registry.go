package api

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/guoyu07/SlimWebApi/cache"
	"github.com/guoyu07/SlimWebApi/codec"
)

// Options configures a Registry.
type Options struct {
	// Codecs lists the structured-document formats. Defaults to JSON and CBOR;
	// the first codec is the default document format.
	Codecs *codec.Set
	// NameKey folds method names before comparison. Defaults to
	// strings.ToLower, making names case-insensitive.
	NameKey func(string) string
	// PreferFieldNames makes form keys match Go field names ahead of json tag
	// names when filling a struct parameter.
	PreferFieldNames bool
	Logger           *zap.Logger
}

type entry struct {
	method  *Method
	binding *binding
}

// Registry maps external method names to methods and their decoders.
//
// Methods are registered during setup. After Seal the registry is read-only
// and lookups take no lock.
type Registry struct {
	mu      sync.Mutex
	sealed  atomic.Bool
	entries map[string]*entry
	order   []*entry

	codecs     *codec.Set
	nameKey    func(string) string
	memberOpts memberOptions
	logger     *zap.Logger

	baseProvider   cache.Provider
	baseExpiration time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		entries:    make(map[string]*entry),
		codecs:     opts.Codecs,
		nameKey:    opts.NameKey,
		memberOpts: memberOptions{preferFieldNames: opts.PreferFieldNames},
		logger:     opts.Logger,
	}
	if r.codecs == nil {
		r.codecs = codec.Default()
	}
	if r.nameKey == nil {
		r.nameKey = strings.ToLower
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Codecs returns the registry's document codecs.
func (r *Registry) Codecs() *codec.Set {
	return r.codecs
}

// SetCacheBase sets the provider and expiration used by methods registered
// afterwards whose Setting leaves them unset. Methods then get manual cache
// access even without AutoCache.
func (r *Registry) SetCacheBase(p cache.Provider, expiration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baseProvider = p
	r.baseExpiration = expiration
}

// Register adds fn under s.Name and returns the effective name.
//
// A name already taken gets the first free numeric suffix starting at 2
// ("Sum", "Sum2", "Sum3"). Registration is all-or-nothing: on error the
// registry is unchanged.
func (r *Registry) Register(fn any, s Setting) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return "", &ConfigurationError{Method: s.Name, Reason: "register", Err: ErrRegistrySealed}
	}
	if s.CacheProvider == nil {
		s.CacheProvider = r.baseProvider
	}
	if s.CacheExpiration == 0 {
		s.CacheExpiration = r.baseExpiration
	}

	m, err := newMethod(fn, s)
	if err != nil {
		return "", err
	}
	if name := r.freeName(m.name); name != m.name {
		m = m.withName(name)
	}
	b, err := newBinding(m, r.codecs, r.memberOpts)
	if err != nil {
		return "", err
	}

	e := &entry{method: m, binding: b}
	r.entries[r.nameKey(m.name)] = e
	r.order = append(r.order, e)
	r.logger.Debug("method registered",
		zap.String("method", m.name),
		zap.String("declared", m.declared),
		zap.Stringer("shape", b.shape),
		zap.Strings("formats", b.formats()),
	)
	return m.name, nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(fn any, s Setting) string {
	name, err := r.Register(fn, s)
	if err != nil {
		panic(err)
	}
	return name
}

// RegisterMethods registers every exported method of receiver. A non-empty
// base.Name prefixes each method name as "base.Method". Parameter names come
// from ParamNamer and per-method settings from SettingProvider when the
// receiver implements them.
func (r *Registry) RegisterMethods(receiver any, base Setting) ([]string, error) {
	val := reflect.ValueOf(receiver)
	typ := val.Type()
	namer, _ := receiver.(ParamNamer)
	provider, _ := receiver.(SettingProvider)

	var names []string
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if !method.IsExported() || isHelperMethod(method.Name) {
			continue
		}
		s := base
		s.Name = method.Name
		if base.Name != "" {
			s.Name = base.Name + "." + method.Name
		}
		s.Params = nil
		if namer != nil {
			s.Params = namer.ParamNames(method.Name)
		}
		if provider != nil {
			s = provider.MethodSetting(method.Name, s)
		}
		name, err := r.Register(val.Method(i).Interface(), s)
		if err != nil {
			return names, fmt.Errorf("api: register %s.%s: %w", typ, method.Name, err)
		}
		names = append(names, name)
	}
	return names, nil
}

func isHelperMethod(name string) bool {
	return name == "ParamNames" || name == "MethodSetting"
}

func (r *Registry) freeName(name string) string {
	if _, taken := r.entries[r.nameKey(name)]; !taken {
		return name
	}
	for i := 2; ; i++ {
		candidate := name + strconv.Itoa(i)
		if _, taken := r.entries[r.nameKey(candidate)]; !taken {
			return candidate
		}
	}
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed.Store(true)
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

func (r *Registry) lookup(name string) (*entry, bool) {
	key := r.nameKey(name)
	if r.sealed.Load() {
		e, ok := r.entries[key]
		return e, ok
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	return e, ok
}

// Lookup returns the method registered under name.
func (r *Registry) Lookup(name string) (*Method, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, false
	}
	return e.method, true
}

// LookupDecoder returns the decoder bound for a method and format hint. The
// error wraps ErrMethodNotSpecified, ErrMethodNotFound or
// ErrFormatNotSupported.
func (r *Registry) LookupDecoder(name, format string) (Decoder, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrMethodNotSpecified
	}
	e, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMethodNotFound, name)
	}
	return e.binding.decoder(format)
}

// Methods returns all methods in registration order.
func (r *Registry) Methods() []*Method {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Method, len(r.order))
	for i, e := range r.order {
		out[i] = e.method
	}
	return out
}
