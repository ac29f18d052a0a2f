package endpoint

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jwriter"
)

// JSONRenderer serializes a value as JSON and writes it to the response.
//
// Values implementing easyjson.Marshaler are written with easyjson; anything
// else goes through encoding/json with HTML escaping disabled. Content-Type
// defaults to "application/json; charset=utf-8".
//
// Encoding happens before WriteHeader, so an encoding error is returned
// without anything having been sent.
type JSONRenderer struct {
	Status      int
	Value       any
	ContentType string
}

func (jr *JSONRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	body, err := MarshalJSON(jr.Value)
	if err != nil {
		return err
	}
	ct := jr.ContentType
	if ct == "" {
		ct = "application/json; charset=utf-8"
	}
	setContentType(w, ct)
	w.WriteHeader(statusOr(jr.Status, http.StatusOK))
	_, err = w.Write(body)
	return err
}

// MarshalJSON encodes v, preferring its easyjson marshaler.
func MarshalJSON(v any) ([]byte, error) {
	if m, ok := v.(easyjson.Marshaler); ok {
		jw := jwriter.Writer{NoEscapeHTML: true}
		m.MarshalEasyJSON(&jw)
		return jw.BuildBytes()
	}
	return marshalStd(v)
}

func marshalStd(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
