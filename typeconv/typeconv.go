// Package typeconv answers which Go types can be built from request strings
// and performs those conversions.
//
// The predicates are pure: an unrecognized type yields false rather than an
// error or a panic.
package typeconv

import (
	"encoding"
	"fmt"
	"io"
	"mime/multipart"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
	durationType        = reflect.TypeFor[time.Duration]()
	readerType          = reflect.TypeFor[io.Reader]()
	fileHeadersType     = reflect.TypeFor[[]*multipart.FileHeader]()
)

// CanConvertFromString reports whether a single string value can be turned
// into a value of type t.
//
// Strings, booleans, numbers, []byte, time.Duration and any type implementing
// encoding.TextUnmarshaler (time.Time, net.IP, custom enums) qualify. A single
// level of pointer is allowed and denotes an optional value.
func CanConvertFromString(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
		if t.Kind() == reflect.Pointer {
			return false
		}
	}
	if isTextUnmarshaler(t) {
		return true
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.Uint8
	}
	return false
}

// IsCollection reports whether t is a slice, array or map whose elements
// (and keys, for maps) are string-convertible.
func IsCollection(t reflect.Type) bool {
	if t == nil {
		return false
	}
	switch t.Kind() {
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return false
		}
		return CanConvertFromString(t.Elem())
	case reflect.Array:
		return CanConvertFromString(t.Elem())
	case reflect.Map:
		return CanConvertFromString(t.Key()) && CanConvertFromString(t.Elem())
	}
	return false
}

// IsStream reports whether t is the raw body stream type io.Reader.
func IsStream(t reflect.Type) bool {
	return t == readerType
}

// IsFileSet reports whether t is a keyed set of uploaded files, i.e. a map
// from field name to []*multipart.FileHeader.
func IsFileSet(t reflect.Type) bool {
	return t != nil && t.Kind() == reflect.Map && t.Key().Kind() == reflect.String && t.Elem() == fileHeadersType
}

// IsSpecial reports whether t is filled from the request body or files rather
// than from a key.
func IsSpecial(t reflect.Type) bool {
	return IsStream(t) || IsFileSet(t)
}

// IsPlainParameterSet reports whether every type in ts is string-convertible
// or, when allowCollections is set, a collection of string-convertible values.
func IsPlainParameterSet(ts []reflect.Type, allowCollections bool) bool {
	for _, t := range ts {
		if !isPlainMember(t, allowCollections) {
			return false
		}
	}
	return true
}

// IsPlainType reports whether t is a struct (or pointer to one) whose exported
// members are all string-convertible, collections thereof, or a single
// stream/file member. Such a type can be filled from form values.
func IsPlainType(t reflect.Type, allowCollections bool) bool {
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || CanConvertFromString(t) {
		return false
	}
	special := 0
	for _, sf := range reflect.VisibleFields(t) {
		if !sf.IsExported() || sf.Anonymous {
			continue
		}
		if IsSpecial(sf.Type) {
			special++
			if special > 1 {
				return false
			}
			continue
		}
		if !isPlainMember(sf.Type, allowCollections) {
			return false
		}
	}
	return true
}

func isPlainMember(t reflect.Type, allowCollections bool) bool {
	if CanConvertFromString(t) {
		return true
	}
	return allowCollections && IsCollection(t)
}

func isTextUnmarshaler(t reflect.Type) bool {
	if t.Kind() == reflect.Interface {
		return false
	}
	return t.Implements(textUnmarshalerType) || reflect.PointerTo(t).Implements(textUnmarshalerType)
}

// ConvertString converts s into a new value of type t.
//
// For pointer types an empty string yields a nil pointer.
func ConvertString(s string, t reflect.Type) (reflect.Value, error) {
	v := reflect.New(t).Elem()
	if err := setFromString(v, s); err != nil {
		return reflect.Value{}, err
	}
	return v, nil
}

// ConvertValues converts the raw values supplied for one key into type t.
//
// Collections are filled element-wise: each supplied value becomes one
// element, and a lone value is split on commas. Map entries are written as
// "key:value". Scalars use the first value.
func ConvertValues(values []string, t reflect.Type) (reflect.Value, error) {
	if !IsCollection(t) {
		if len(values) == 0 {
			return reflect.Zero(t), nil
		}
		return ConvertString(values[0], t)
	}
	if len(values) == 1 {
		values = splitList(values[0])
	}

	switch t.Kind() {
	case reflect.Slice:
		out := reflect.MakeSlice(t, 0, len(values))
		for _, s := range values {
			ev, err := ConvertString(s, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out = reflect.Append(out, ev)
		}
		return out, nil
	case reflect.Array:
		if len(values) > t.Len() {
			return reflect.Value{}, fmt.Errorf("typeconv: %d values exceed array length %d", len(values), t.Len())
		}
		out := reflect.New(t).Elem()
		for i, s := range values {
			ev, err := ConvertString(s, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	default:
		out := reflect.MakeMapWithSize(t, len(values))
		for _, entry := range values {
			k, v, ok := strings.Cut(entry, ":")
			if !ok {
				return reflect.Value{}, fmt.Errorf("typeconv: map entry %q is not key:value", entry)
			}
			kv, err := ConvertString(strings.TrimSpace(k), t.Key())
			if err != nil {
				return reflect.Value{}, err
			}
			vv, err := ConvertString(strings.TrimSpace(v), t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(kv, vv)
		}
		return out, nil
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func setFromString(v reflect.Value, s string) error {
	if v.Kind() == reflect.Pointer {
		if s == "" {
			return nil
		}
		p := reflect.New(v.Type().Elem())
		if err := setFromString(p.Elem(), s); err != nil {
			return err
		}
		v.Set(p)
		return nil
	}

	// Prefer the pointer receiver; most custom types declare UnmarshalText on it.
	if v.CanAddr() {
		if u, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText([]byte(s))
		}
	}
	if v.Type() == durationType {
		d, err := time.ParseDuration(s)
		if err != nil {
			n, nerr := strconv.ParseInt(s, 10, 64)
			if nerr != nil {
				return err
			}
			d = time.Duration(n)
		}
		v.SetInt(int64(d))
		return nil
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.Uint8 {
			return fmt.Errorf("typeconv: unsupported type %s", v.Type())
		}
		v.SetBytes([]byte(s))
	default:
		return fmt.Errorf("typeconv: unsupported type %s", v.Type())
	}
	return nil
}
