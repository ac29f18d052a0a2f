package api

import (
	"reflect"
	"strings"

	"github.com/guoyu07/SlimWebApi/typeconv"
)

// MethodInfo describes a registered method for listings.
type MethodInfo struct {
	Name            string      `json:"name"`
	Declared        string      `json:"declared,omitempty"`
	Params          []ParamInfo `json:"params"`
	Result          string      `json:"result,omitempty"`
	Shape           string      `json:"shape"`
	Formats         []string    `json:"formats"`
	AutoCache       bool        `json:"autoCache,omitempty"`
	CacheExpiration string      `json:"cacheExpiration,omitempty"`
	Compression     string      `json:"compression"`
}

// ParamInfo describes one parameter.
type ParamInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Kind       string `json:"kind"`
	Collection bool   `json:"collection,omitempty"`
}

// Describe lists every method in registration order.
func (r *Registry) Describe() []MethodInfo {
	r.mu.Lock()
	entries := append([]*entry(nil), r.order...)
	r.mu.Unlock()

	out := make([]MethodInfo, 0, len(entries))
	for _, e := range entries {
		m := e.method
		info := MethodInfo{
			Name:        m.name,
			Shape:       e.binding.shape.String(),
			Formats:     e.binding.formats(),
			AutoCache:   m.autoCache,
			Compression: m.compression.String(),
			Params:      make([]ParamInfo, 0, len(m.params)),
		}
		if m.declared != m.name {
			info.Declared = m.declared
		}
		if m.resultType != nil {
			info.Result = describeType(m.resultType)
		}
		if m.cacheProvider != nil {
			info.CacheExpiration = m.cacheExpiration.String()
		}
		for _, p := range m.params {
			info.Params = append(info.Params, ParamInfo{
				Name:       p.Name,
				Type:       describeType(p.Type),
				Kind:       p.Kind.String(),
				Collection: p.IsCollection,
			})
		}
		out = append(out, info)
	}
	return out
}

// describeType renders t as a short, language-neutral type expression such
// as "int", "array of string" or "object{id int, name string}".
func describeType(t reflect.Type) string {
	return describeTypeDepth(t, 0)
}

func describeTypeDepth(t reflect.Type, depth int) string {
	switch {
	case typeconv.IsStream(t):
		return "stream"
	case typeconv.IsFileSet(t):
		return "files"
	case t.Kind() == reflect.Pointer:
		return "optional " + describeTypeDepth(t.Elem(), depth)
	case t.Kind() == reflect.Struct && typeconv.CanConvertFromString(t):
		return t.Name()
	}

	kind := t.Kind()
	if (kind >= reflect.Bool && kind <= reflect.Float64) || kind == reflect.String {
		if name := t.Name(); name != "" && name != kind.String() {
			return name
		}
		return kind.String()
	}
	switch kind {
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return "bytes"
		}
		return "array of " + describeTypeDepth(t.Elem(), depth+1)
	case reflect.Map:
		return "map of " + describeTypeDepth(t.Key(), depth+1) + " to " + describeTypeDepth(t.Elem(), depth+1)
	case reflect.Interface:
		return "any"
	case reflect.Struct:
		// Recursive types stop here.
		if depth >= 3 {
			return "object"
		}
		var fields []string
		for _, sf := range reflect.VisibleFields(t) {
			if !sf.IsExported() || sf.Anonymous {
				continue
			}
			name := sf.Name
			if tag := jsonName(sf); tag != "" {
				name = tag
			}
			fields = append(fields, name+" "+describeTypeDepth(sf.Type, depth+1))
		}
		return "object{" + strings.Join(fields, ", ") + "}"
	}
	return t.String()
}
