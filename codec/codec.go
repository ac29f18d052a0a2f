// Package codec provides the structured-document formats a method body can
// be posted in.
package codec

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Codec parses request documents.
//
// Errors returned by the decode methods are *Error values distinguishing a
// malformed document from a well-formed one that does not fit the target.
type Codec interface {
	// Name is the format hint that selects this codec, e.g. "json".
	Name() string
	ContentType() string
	// DecodeObject parses r as an object and returns its members undecoded.
	// An empty document yields an empty map.
	DecodeObject(r io.Reader) (map[string][]byte, error)
	// Decode parses r into v. An empty document leaves v untouched.
	Decode(r io.Reader, v any) error
	// Unmarshal decodes one member returned by DecodeObject into v.
	Unmarshal(data []byte, v any) error
	Marshal(v any) ([]byte, error)
}

// Error reports a document decoding failure.
type Error struct {
	Codec string
	// Contract is set when the document parsed but did not match the target
	// shape. Otherwise the document itself was malformed.
	Contract bool
	Err      error
}

func (e *Error) Error() string {
	kind := "malformed document"
	if e.Contract {
		kind = "document does not match contract"
	}
	return fmt.Sprintf("codec: %s: %s: %v", e.Codec, kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsContract reports whether err is a contract (shape) mismatch.
func IsContract(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Contract
}

func readDocument(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	return b, nil
}

// Set is a lookup of codecs by name, case-insensitively.
type Set struct {
	byName map[string]Codec
	names  []string
}

// NewSet returns a Set holding cs. Later codecs replace earlier ones with
// the same name.
func NewSet(cs ...Codec) *Set {
	s := &Set{byName: make(map[string]Codec, len(cs))}
	for _, c := range cs {
		key := strings.ToLower(c.Name())
		if _, ok := s.byName[key]; !ok {
			s.names = append(s.names, key)
		}
		s.byName[key] = c
	}
	return s
}

// Default returns the set of all built-in codecs.
func Default() *Set {
	return NewSet(JSON(), CBOR())
}

// Lookup returns the codec for name.
func (s *Set) Lookup(name string) (Codec, bool) {
	c, ok := s.byName[strings.ToLower(name)]
	return c, ok
}

// Names returns codec names in registration order.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

// Primary returns the first registered codec.
func (s *Set) Primary() Codec {
	if len(s.names) == 0 {
		return nil
	}
	return s.byName[s.names[0]]
}

// ForContentType returns the codec whose content type matches mediaType,
// ignoring parameters such as charset.
func (s *Set) ForContentType(mediaType string) (Codec, bool) {
	mt, _, _ := strings.Cut(mediaType, ";")
	mt = strings.ToLower(strings.TrimSpace(mt))
	if mt == "" {
		return nil, false
	}
	for _, name := range s.names {
		c := s.byName[name]
		if ct, _, _ := strings.Cut(c.ContentType(), ";"); strings.EqualFold(strings.TrimSpace(ct), mt) {
			return c, true
		}
	}
	return nil, false
}
