package codec

import (
	"errors"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var mapStringAny = reflect.TypeFor[map[string]any]()

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns the application/cbor codec.
func CBOR() Codec {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: mapStringAny,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Name() string        { return "cbor" }
func (cborCodec) ContentType() string { return "application/cbor" }

func (c cborCodec) DecodeObject(r io.Reader) (map[string][]byte, error) {
	b, err := readDocument(r)
	if err != nil {
		return nil, &Error{Codec: c.Name(), Err: err}
	}
	out := map[string][]byte{}
	if b == nil {
		return out, nil
	}
	var raw map[string]cbor.RawMessage
	if err := c.dec.Unmarshal(b, &raw); err != nil {
		return nil, c.wrap(err)
	}
	for k, v := range raw {
		out[k] = v
	}
	return out, nil
}

func (c cborCodec) Decode(r io.Reader, v any) error {
	b, err := readDocument(r)
	if err != nil {
		return &Error{Codec: c.Name(), Err: err}
	}
	if b == nil {
		return nil
	}
	return c.Unmarshal(b, v)
}

func (c cborCodec) Unmarshal(data []byte, v any) error {
	if err := c.dec.Unmarshal(data, v); err != nil {
		return c.wrap(err)
	}
	return nil
}

func (c cborCodec) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c cborCodec) wrap(err error) error {
	var typeErr *cbor.UnmarshalTypeError
	contract := errors.As(err, &typeErr)
	return &Error{Codec: c.Name(), Contract: contract, Err: err}
}
