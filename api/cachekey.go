package api

import (
	"encoding"
	"encoding/hex"
	"io"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// maxKeyDepth bounds the walk over self-referencing values.
const maxKeyDepth = 32

// cacheKey derives the cache key of a call from the method identity and a
// canonical encoding of its arguments. Arguments are coerced to their
// parameter types first, so "1" and 1 for an int parameter, or a missing
// argument and its zero value, share a key. Arguments are encoded in sorted
// name order. Stream and file arguments are not part of the key.
func cacheKey(m *Method, args Args) string {
	params := make([]Param, 0, len(m.params))
	for _, p := range m.params {
		if p.Kind == KindValue {
			params = append(params, p)
		}
	}
	slices.SortFunc(params, func(a, b Param) int { return strings.Compare(a.Name, b.Name) })

	h, _ := blake2b.New256(nil)
	for _, p := range params {
		v, err := argValue(p, args[p.Name])
		if err != nil {
			// The call fails on the same conversion; any stable key will do.
			v = reflect.ValueOf(args[p.Name])
		}
		io.WriteString(h, p.Name)
		h.Write([]byte{'='})
		writeCanonical(h, v, 0)
		h.Write([]byte{0})
	}

	var b strings.Builder
	if m.cacheNamespace != "" {
		b.WriteString(m.cacheNamespace)
		b.WriteByte(':')
	}
	b.WriteString(m.name)
	b.WriteByte('#')
	b.WriteString(m.identity)
	b.WriteByte(':')
	b.WriteString(hex.EncodeToString(h.Sum(nil)))
	return b.String()
}

var textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()

// writeCanonical encodes v deterministically, unexported fields included.
// Map entries are written in the order of their encoded keys.
func writeCanonical(w io.Writer, v reflect.Value, depth int) {
	if depth > maxKeyDepth {
		io.WriteString(w, "...")
		return
	}
	if !v.IsValid() {
		io.WriteString(w, "nil")
		return
	}
	if v.Kind() != reflect.Pointer && v.Kind() != reflect.Interface && v.CanInterface() && v.Type().Implements(textMarshalerType) {
		if text, err := v.Interface().(encoding.TextMarshaler).MarshalText(); err == nil {
			io.WriteString(w, strconv.Quote(string(text)))
			return
		}
	}

	switch v.Kind() {
	case reflect.Bool:
		io.WriteString(w, strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		io.WriteString(w, strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		io.WriteString(w, strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		io.WriteString(w, strconv.FormatFloat(v.Float(), 'g', -1, 64))
	case reflect.Complex64, reflect.Complex128:
		io.WriteString(w, strconv.FormatComplex(v.Complex(), 'g', -1, 128))
	case reflect.String:
		io.WriteString(w, strconv.Quote(v.String()))
	case reflect.Pointer:
		if v.IsNil() {
			io.WriteString(w, "nil")
			return
		}
		io.WriteString(w, "&")
		writeCanonical(w, v.Elem(), depth+1)
	case reflect.Interface:
		if v.IsNil() {
			io.WriteString(w, "nil")
			return
		}
		io.WriteString(w, v.Elem().Type().String())
		io.WriteString(w, "(")
		writeCanonical(w, v.Elem(), depth+1)
		io.WriteString(w, ")")
	case reflect.Struct:
		io.WriteString(w, "{")
		t := v.Type()
		for i := range v.NumField() {
			io.WriteString(w, t.Field(i).Name)
			io.WriteString(w, ":")
			writeCanonical(w, v.Field(i), depth+1)
			io.WriteString(w, ",")
		}
		io.WriteString(w, "}")
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			io.WriteString(w, "nil")
			return
		}
		io.WriteString(w, "[")
		for i := range v.Len() {
			writeCanonical(w, v.Index(i), depth+1)
			io.WriteString(w, ",")
		}
		io.WriteString(w, "]")
	case reflect.Map:
		if v.IsNil() {
			io.WriteString(w, "nil")
			return
		}
		type entry struct{ k, v string }
		entries := make([]entry, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			var k, e strings.Builder
			writeCanonical(&k, iter.Key(), depth+1)
			writeCanonical(&e, iter.Value(), depth+1)
			entries = append(entries, entry{k.String(), e.String()})
		}
		slices.SortFunc(entries, func(a, b entry) int { return strings.Compare(a.k, b.k) })
		io.WriteString(w, "map[")
		for _, e := range entries {
			io.WriteString(w, e.k)
			io.WriteString(w, ":")
			io.WriteString(w, e.v)
			io.WriteString(w, ",")
		}
		io.WriteString(w, "]")
	default:
		// Channels and functions carry no comparable content.
		io.WriteString(w, v.Type().String())
	}
}
