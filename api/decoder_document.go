package api

import (
	"io"
	"maps"
	"reflect"
	"slices"

	"github.com/guoyu07/SlimWebApi/codec"
)

// documentDecoder parses the request body with a codec. With single set the
// whole document is the method's one parameter; otherwise the document is an
// object whose members are matched to parameters by name.
type documentDecoder struct {
	codec  codec.Codec
	single bool
}

func (d documentDecoder) Decode(m *Method, req Request) (Args, error) {
	if d.single {
		p := m.params[0]
		ptr := reflect.New(p.Type)
		if err := d.codec.Decode(req.Body(), ptr.Interface()); err != nil {
			return nil, documentErr(d.codec.Name(), err)
		}
		return Args{p.Name: ptr.Elem().Interface()}, nil
	}

	members, err := d.codec.DecodeObject(req.Body())
	if err != nil {
		return nil, documentErr(d.codec.Name(), err)
	}
	args := make(Args, len(m.params))
	if sp := m.special(); sp != nil {
		// The body holds the document, so a stream parameter sees an empty one.
		args[sp.Name] = specialValue(sp.Kind, sp.Type, emptyBodyRequest{req})
	}
	for _, key := range slices.Sorted(maps.Keys(members)) {
		raw := members[key]
		p, ok := m.Param(key)
		if !ok || p.Kind != KindValue {
			continue
		}
		ptr := reflect.New(p.Type)
		if err := d.codec.Unmarshal(raw, ptr.Interface()); err != nil {
			return nil, documentErr(d.codec.Name(), err)
		}
		args[p.Name] = ptr.Elem().Interface()
	}
	return args, nil
}

type emptyBodyRequest struct {
	Request
}

func (emptyBodyRequest) Body() io.Reader {
	return nil
}
