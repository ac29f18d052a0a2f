package api

import (
	"bytes"
	"io"
	"maps"
	"mime/multipart"
	"net/url"
	"reflect"
	"slices"
	"strings"

	"github.com/guoyu07/SlimWebApi/typeconv"
)

// Files maps form field names to uploaded files.
type Files = map[string][]*multipart.FileHeader

// Request is the transport's view of one inbound call.
type Request interface {
	// Params returns every form-style value: query string and posted fields.
	Params() url.Values
	// Query returns the query-string values only. Stream-mode decoding reads
	// just these, because the body belongs to the stream parameter.
	Query() url.Values
	// Body returns the raw request body. It is read at most once.
	Body() io.Reader
	Files() Files
	// AcceptEncoding returns the declared acceptable content codings, in
	// Accept-Encoding header syntax.
	AcceptEncoding() string
	// Description identifies the request in logs.
	Description() string
}

// Decoder turns a request into the argument set of a method.
type Decoder interface {
	Decode(m *Method, req Request) (Args, error)
}

// emptyDecoder serves methods without parameters.
type emptyDecoder struct{}

func (emptyDecoder) Decode(*Method, Request) (Args, error) {
	return Args{}, nil
}

// inlineDecoder fills string-convertible parameters from form-style values.
type inlineDecoder struct{}

func (inlineDecoder) Decode(m *Method, req Request) (Args, error) {
	args := make(Args, len(m.params))
	values := req.Params()
	if sp := m.special(); sp != nil {
		values = req.Query()
		args[sp.Name] = specialValue(sp.Kind, sp.Type, req)
	}
	for _, key := range sortedKeys(values) {
		p, ok := m.Param(key)
		if !ok || p.Kind != KindValue {
			continue
		}
		v, err := convertValues(key, values[key], p.Type)
		if err != nil {
			return nil, err
		}
		args[p.Name] = v.Interface()
	}
	return args, nil
}

func convertValues(key string, raw []string, t reflect.Type) (reflect.Value, error) {
	v, err := typeconv.ConvertValues(raw, t)
	if err != nil {
		return reflect.Value{}, &ArgumentConversionError{
			Key:   key,
			Value: strings.Join(raw, ","),
			Type:  t,
			Err:   err,
		}
	}
	return v, nil
}

func sortedKeys(values url.Values) []string {
	return slices.Sorted(maps.Keys(values))
}

// specialValue returns the body stream or file set for a special parameter.
// A nil body is replaced with an empty reader.
func specialValue(kind ParamKind, t reflect.Type, req Request) any {
	if kind == KindFiles {
		files := req.Files()
		if files == nil {
			files = Files{}
		}
		return reflect.ValueOf(files).Convert(t).Interface()
	}
	if body := req.Body(); body != nil {
		return body
	}
	return bytes.NewReader(nil)
}
