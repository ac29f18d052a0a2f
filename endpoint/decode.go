package endpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/guoyu07/SlimWebApi/typeconv"
)

// DefaultFormLimit is the maximum amount of memory used when parsing
// multipart form data. Anything beyond it is stored in temporary files by
// net/http.
var DefaultFormLimit int64 = 32 << 20

var defaultFieldLimit = 16 * 1024

// Unmarshal populates dst (a non-nil pointer to a struct) from the request.
//
// Supported struct tags:
//   - `path:"name"`   r.PathValue(name)
//   - `query:"name"`  the URL query
//   - `form:"name"`   posted form values, or multipart files for a
//     []*multipart.FileHeader field
//   - `header:"name"` request headers
//   - `maxLength:"n"` maximum byte length of one value; 16KB by default,
//     "0" or "" for no limit
//
// A name may be followed by the flag ",json" to decode the value as JSON.
// An empty name defaults to the lowercased field name and "-" skips the
// field. With several tags on one field the first source holding a value
// wins, in the order path, query, form, header. Untagged scalar fields read
// path then query. Untagged struct fields are descended into.
//
// Values are converted with typeconv: repeated keys fill collections element
// by element and a lone value is split on commas.
//
// Posted forms are only parsed when the body is a form; document bodies are
// left unread for the caller.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}

	root := v.Elem()
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	if root.Kind() != reflect.Struct {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct (or pointer to struct)"))
	}

	q := url.Values{}
	if r.URL != nil {
		q = r.URL.Query()
	}
	form, files, err := ParseForm(r, DefaultFormLimit)
	if err != nil {
		return err
	}
	src := sources{r: r, query: q, form: form, files: files}
	return src.unmarshalStruct(root)
}

// MediaType returns the lowercased media type of the request body, or "" if
// no Content-Type was sent.
func MediaType(r *http.Request) string {
	ct := strings.TrimSpace(r.Header.Get("Content-Type"))
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(ct)
	}
	return strings.ToLower(mt)
}

// IsFormBody reports whether the request body, if any, is a posted form.
func IsFormBody(r *http.Request) bool {
	switch MediaType(r) {
	case "", "application/x-www-form-urlencoded", "multipart/form-data":
		return true
	}
	return false
}

// ParseForm returns the posted form values and uploaded files of r. It is
// safe to call repeatedly: net/http caches the parsed form on the request.
// Bodies that are not forms are left unread and yield empty values.
func ParseForm(r *http.Request, formLimit int64) (url.Values, map[string][]*multipart.FileHeader, error) {
	if r.Body == nil || r.Body == http.NoBody || !IsFormBody(r) {
		return url.Values{}, nil, nil
	}
	if MediaType(r) == "multipart/form-data" {
		if err := r.ParseMultipartForm(formLimit); err != nil {
			return url.Values{}, nil, newEndpointError(http.StatusBadRequest, "", fmt.Errorf("parse multipart form: %w", err))
		}
		if r.MultipartForm == nil {
			return url.Values{}, nil, nil
		}
		return url.Values(r.MultipartForm.Value), r.MultipartForm.File, nil
	}
	if err := r.ParseForm(); err != nil {
		return url.Values{}, nil, newEndpointError(http.StatusBadRequest, "", fmt.Errorf("parse form: %w", err))
	}
	return r.PostForm, nil, nil
}

type sources struct {
	r     *http.Request
	query url.Values
	form  url.Values
	files map[string][]*multipart.FileHeader
}

var sourceOrder = []string{"path", "query", "form", "header"}

var fileHeadersType = reflect.TypeFor[[]*multipart.FileHeader]()

func (s sources) unmarshalStruct(structVal reflect.Value) error {
	t := structVal.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := structVal.Field(i)

		tags, skip, err := parseTags(sf)
		if err != nil {
			return newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: %w", sf.Name, err))
		}
		if skip {
			continue
		}

		if len(tags) == 0 {
			if nested, ok := structTarget(fv); ok {
				if err := s.unmarshalStruct(nested); err != nil {
					return err
				}
				continue
			}
			name := strings.ToLower(sf.Name)
			tags = []sourceTag{{Source: "path", Name: name}, {Source: "query", Name: name}}
		}

		limit, err := fieldLengthLimit(sf)
		if err != nil {
			return newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: %w", sf.Name, err))
		}

		for _, tag := range tags {
			if tag.Source == "form" && fv.Type() == fileHeadersType {
				if hs := s.files[tag.Name]; len(hs) > 0 {
					fv.Set(reflect.ValueOf(hs))
					break
				}
			}
			raw := s.fetch(tag)
			if len(raw) == 0 {
				continue
			}
			if err := setField(fv, raw, tag, limit, sf.Name); err != nil {
				return err
			}
			break
		}
	}
	return nil
}

// structTarget returns the struct an untagged field should be descended
// into. Types that parse themselves from text, such as time.Time, are
// leaves.
func structTarget(fv reflect.Value) (reflect.Value, bool) {
	t := fv.Type()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || typeconv.CanConvertFromString(t) {
		return reflect.Value{}, false
	}
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			fv.Set(reflect.New(t))
		}
		return fv.Elem(), true
	}
	return fv, true
}

func (s sources) fetch(tag sourceTag) []string {
	switch tag.Source {
	case "path":
		if v := s.r.PathValue(tag.Name); v != "" {
			return []string{v}
		}
	case "query":
		return s.query[tag.Name]
	case "form":
		return s.form[tag.Name]
	case "header":
		return s.r.Header[http.CanonicalHeaderKey(tag.Name)]
	}
	return nil
}

type sourceTag struct {
	Source string
	Name   string
	JSON   bool
}

func parseTags(sf reflect.StructField) (tags []sourceTag, skip bool, err error) {
	defaultName := strings.ToLower(sf.Name)
	for _, source := range sourceOrder {
		val, has := sf.Tag.Lookup(source)
		if !has {
			continue
		}
		parts := strings.Split(val, ",")
		name := strings.TrimSpace(parts[0])
		if name == "-" {
			return nil, true, nil
		}
		if name == "" {
			name = defaultName
		}
		tag := sourceTag{Source: source, Name: name}
		for _, p := range parts[1:] {
			switch flag := strings.ToLower(strings.TrimSpace(p)); flag {
			case "":
			case "json":
				tag.JSON = true
			default:
				return nil, false, fmt.Errorf("unknown %s tag flag %q", source, flag)
			}
		}
		tags = append(tags, tag)
	}
	return tags, false, nil
}

func fieldLengthLimit(sf reflect.StructField) (int, error) {
	val, has := sf.Tag.Lookup("maxLength")
	if !has {
		return defaultFieldLimit, nil
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("maxLength: invalid integer %q", val)
	}
	if n < 0 {
		return 0, errors.New("maxLength: must be >= 0")
	}
	return n, nil
}

func setField(fv reflect.Value, raw []string, tag sourceTag, limit int, fieldName string) error {
	for _, val := range raw {
		if limit > 0 && len(val) > limit {
			return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: value exceeds max length %d", tag.Source, tag.Name, fieldName, limit))
		}
	}

	if tag.JSON {
		dec := json.NewDecoder(bytes.NewReader([]byte(raw[0])))
		if err := dec.Decode(fv.Addr().Interface()); err != nil {
			return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: %w", tag.Source, tag.Name, fieldName, err))
		}
		return nil
	}

	if !typeconv.CanConvertFromString(fv.Type()) && !typeconv.IsCollection(fv.Type()) {
		return newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: %s: unsupported type %s", fieldName, fv.Type()))
	}
	v, err := typeconv.ConvertValues(raw, fv.Type())
	if err != nil {
		return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: %w", tag.Source, tag.Name, fieldName, err))
	}
	fv.Set(v)
	return nil
}
