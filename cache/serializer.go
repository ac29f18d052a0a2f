package cache

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// Payload is a serialized cache value plus the format needed to decode it.
// Providers that leave the process (such as pgcache) store Payloads rather
// than live values.
type Payload struct {
	Format string
	Data   []byte
}

// Serializer converts values to and from Payloads.
type Serializer interface {
	Format() string
	Serialize(value any) (Payload, error)
	Deserialize(p Payload, out any) error
}

type jsonSerializer struct{}

// JSON serializes values with encoding/json.
var JSON Serializer = jsonSerializer{}

func (jsonSerializer) Format() string { return FormatJSON }

func (jsonSerializer) Serialize(value any) (Payload, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Format: FormatJSON, Data: b}, nil
}

func (jsonSerializer) Deserialize(p Payload, out any) error {
	return json.Unmarshal(p.Data, out)
}

type cborSerializer struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR serializes values with fxamacker/cbor, using canonical encoding so
// that equal values produce equal bytes.
var CBOR Serializer = newCBORSerializer()

func newCBORSerializer() cborSerializer {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborSerializer{enc: enc, dec: dec}
}

func (cborSerializer) Format() string { return FormatCBOR }

func (s cborSerializer) Serialize(value any) (Payload, error) {
	b, err := s.enc.Marshal(value)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Format: FormatCBOR, Data: b}, nil
}

func (s cborSerializer) Deserialize(p Payload, out any) error {
	return s.dec.Unmarshal(p.Data, out)
}

// SerializerFor returns the Serializer registered for format.
func SerializerFor(format string) (Serializer, error) {
	switch format {
	case FormatJSON:
		return JSON, nil
	case FormatCBOR:
		return CBOR, nil
	}
	return nil, fmt.Errorf("cache: unknown payload format %q", format)
}

// Decode unpacks v into out. A Payload is deserialized with its format's
// Serializer; any other value is copied when assignable to out.
func Decode(v any, out any) error {
	if p, ok := v.(Payload); ok {
		s, err := SerializerFor(p.Format)
		if err != nil {
			return err
		}
		return s.Deserialize(p, out)
	}
	if p, ok := v.(*Payload); ok && p != nil {
		return Decode(*p, out)
	}
	return assign(v, out)
}

func assign(v any, out any) error {
	dst := reflect.ValueOf(out)
	if dst.Kind() != reflect.Pointer || dst.IsNil() {
		return fmt.Errorf("cache: decode target must be a non-nil pointer, got %T", out)
	}
	dst = dst.Elem()
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	src := reflect.ValueOf(v)
	if !src.Type().AssignableTo(dst.Type()) {
		return fmt.Errorf("cache: cannot assign %T to %s", v, dst.Type())
	}
	dst.Set(src)
	return nil
}
