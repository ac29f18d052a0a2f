package api

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/guoyu07/SlimWebApi/codec"
	"github.com/guoyu07/SlimWebApi/typeconv"
)

// Shape classifies a method's parameter list for decoder selection.
type Shape int

const (
	// ShapeEmpty methods take no parameters.
	ShapeEmpty Shape = iota
	// ShapeInline methods take only string-convertible parameters (or
	// collections of them), plus at most one stream or files parameter.
	ShapeInline
	// ShapePlainObject methods take one struct whose members are all
	// string-convertible; it can be filled from form values.
	ShapePlainObject
	// ShapeComplexObject methods take one parameter that only a structured
	// document can express.
	ShapeComplexObject
	// ShapeDocument methods take several parameters, at least one of which
	// is not string-convertible.
	ShapeDocument
)

func (s Shape) String() string {
	switch s {
	case ShapeEmpty:
		return "empty"
	case ShapeInline:
		return "inline"
	case ShapePlainObject:
		return "plain-object"
	case ShapeComplexObject:
		return "complex-object"
	case ShapeDocument:
		return "document"
	}
	return fmt.Sprintf("Shape(%d)", int(s))
}

// FormDecodable reports whether methods of this shape accept form-style
// requests.
func (s Shape) FormDecodable() bool {
	return s == ShapeEmpty || s == ShapeInline || s == ShapePlainObject
}

// Classify decides the Shape of a parameter list. It fails only when more
// than one parameter is a stream or file set.
func Classify(params []reflect.Type) (Shape, error) {
	if len(params) == 0 {
		return ShapeEmpty, nil
	}
	special := 0
	plain := make([]reflect.Type, 0, len(params))
	for _, t := range params {
		if typeconv.IsSpecial(t) {
			special++
			continue
		}
		plain = append(plain, t)
	}
	if special > 1 {
		return 0, fmt.Errorf("only one stream/file parameter permitted, found %d", special)
	}
	if typeconv.IsPlainParameterSet(plain, true) {
		return ShapeInline, nil
	}
	if len(params) == 1 {
		if typeconv.IsPlainType(params[0], true) {
			return ShapePlainObject, nil
		}
		return ShapeComplexObject, nil
	}
	return ShapeDocument, nil
}

// Form format hints. Any of them selects the form decoder.
var formFormats = map[string]bool{"get": true, "post": true, "form": true}

// binding holds the decoders available to one method.
type binding struct {
	shape     Shape
	form      Decoder
	documents map[string]Decoder
	def       Decoder
}

func newBinding(m *Method, codecs *codec.Set, opts memberOptions) (*binding, error) {
	shape, err := Classify(m.paramTypes())
	if err != nil {
		return nil, &ConfigurationError{Method: m.name, Reason: err.Error()}
	}
	b := &binding{shape: shape, documents: make(map[string]Decoder)}

	switch shape {
	case ShapeEmpty:
		b.form = emptyDecoder{}
		for _, name := range codecs.Names() {
			b.documents[name] = emptyDecoder{}
		}
		b.def = emptyDecoder{}
	case ShapeInline:
		b.form = inlineDecoder{}
		for _, name := range codecs.Names() {
			c, _ := codecs.Lookup(name)
			b.documents[name] = documentDecoder{codec: c}
		}
		b.def = b.form
	case ShapePlainObject, ShapeComplexObject:
		for _, name := range codecs.Names() {
			c, _ := codecs.Lookup(name)
			b.documents[name] = documentDecoder{codec: c, single: true}
		}
		if shape == ShapePlainObject {
			table, err := newMemberTable(m.params[0].Type, opts)
			if err != nil {
				return nil, &ConfigurationError{Method: m.name, Reason: "build member table", Err: err}
			}
			b.form = &objectDecoder{table: table}
		}
	case ShapeDocument:
		for _, name := range codecs.Names() {
			c, _ := codecs.Lookup(name)
			b.documents[name] = documentDecoder{codec: c}
		}
	}

	if b.def == nil {
		if p := codecs.Primary(); p != nil {
			b.def = b.documents[p.Name()]
		}
	}
	if b.def == nil {
		return nil, configErr(m.name, "no decoder available for %s parameters", shape)
	}
	return b, nil
}

// decoder resolves a format hint to a decoder. An empty hint selects the
// default decoder.
func (b *binding) decoder(format string) (Decoder, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		return b.def, nil
	}
	if formFormats[format] {
		if b.form == nil {
			return nil, fmt.Errorf("%w: %q", ErrFormatNotSupported, format)
		}
		return b.form, nil
	}
	if d, ok := b.documents[format]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrFormatNotSupported, format)
}

// formats lists the format hints the binding accepts.
func (b *binding) formats() []string {
	var docs []string
	for name := range b.documents {
		docs = append(docs, name)
	}
	slices.Sort(docs)
	if b.form != nil {
		return append([]string{"form"}, docs...)
	}
	return docs
}
