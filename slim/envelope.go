package slim

import (
	"regexp"

	"github.com/mailru/easyjson/jwriter"

	"github.com/guoyu07/SlimWebApi/api"
	"github.com/guoyu07/SlimWebApi/endpoint"
)

// Envelope is the body of every slim response.
type Envelope struct {
	Code    int
	Message string
	Data    any
}

func envelopeOf(resp *api.Response) Envelope {
	return Envelope{Code: resp.Code, Message: resp.Message, Data: resp.Data}
}

// MarshalEasyJSON implements easyjson.Marshaler. Data is encoded with its
// own easyjson marshaler when it has one.
func (e Envelope) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"Code":`)
	w.Int(e.Code)
	w.RawString(`,"Message":`)
	w.String(e.Message)
	w.RawString(`,"Data":`)
	data, err := endpoint.MarshalJSON(e.Data)
	w.Raw(data, err)
	w.RawByte('}')
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	e.MarshalEasyJSON(&w)
	return w.BuildBytes()
}

// callbackPattern accepts dotted JavaScript identifiers such as
// "jQuery123_456" or "app.handlers.done".
var callbackPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)

const maxCallbackLength = 128

// ValidCallback reports whether name may be used as a JSONP callback.
func ValidCallback(name string) bool {
	return len(name) <= maxCallbackLength && callbackPattern.MatchString(name)
}

// encodeBody serializes env, wrapped in callback(...) when callback is set.
func encodeBody(env Envelope, callback string) ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	if callback != "" {
		w.RawString(callback)
		w.RawByte('(')
	}
	env.MarshalEasyJSON(&w)
	if callback != "" {
		w.RawByte(')')
	}
	return w.BuildBytes()
}
