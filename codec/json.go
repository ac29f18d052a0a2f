package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

type jsonCodec struct{}

// JSON returns the application/json codec.
func JSON() Codec {
	return jsonCodec{}
}

func (jsonCodec) Name() string        { return "json" }
func (jsonCodec) ContentType() string { return "application/json" }

// readJSON reads a document. Whitespace alone counts as no document.
func readJSON(r io.Reader) ([]byte, error) {
	b, err := readDocument(r)
	if err != nil || len(bytes.TrimSpace(b)) == 0 {
		return nil, err
	}
	return b, nil
}

func (c jsonCodec) DecodeObject(r io.Reader) (map[string][]byte, error) {
	b, err := readJSON(r)
	if err != nil {
		return nil, &Error{Codec: c.Name(), Err: err}
	}
	out := map[string][]byte{}
	if b == nil {
		return out, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, c.wrap(err)
	}
	for k, v := range raw {
		out[k] = v
	}
	return out, nil
}

func (c jsonCodec) Decode(r io.Reader, v any) error {
	b, err := readJSON(r)
	if err != nil {
		return &Error{Codec: c.Name(), Err: err}
	}
	if b == nil {
		return nil
	}
	return c.Unmarshal(b, v)
}

// Unmarshal decodes exactly one JSON value. Trailing data is malformed.
func (c jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return c.wrap(err)
	}
	return nil
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c jsonCodec) wrap(err error) error {
	var typeErr *json.UnmarshalTypeError
	contract := errors.As(err, &typeErr)
	return &Error{Codec: c.Name(), Contract: contract, Err: err}
}
