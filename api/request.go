package api

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
)

// ValuesRequest is a Request assembled from already-parsed parts. Transports
// without an http.Request, such as NATS or the command line, build one.
type ValuesRequest struct {
	// Form holds posted form-style values. Params merges them with Values.
	Form url.Values
	// Values holds the query-string values.
	Values   url.Values
	Payload  []byte
	Reader   io.Reader
	Uploads  Files
	Encoding string
	// Source identifies the caller in logs.
	Source string
}

// Params returns Values merged with Form.
func (r *ValuesRequest) Params() url.Values {
	if len(r.Form) == 0 {
		return r.Query()
	}
	out := make(url.Values, len(r.Values)+len(r.Form))
	for k, v := range r.Values {
		out[k] = append(out[k], v...)
	}
	for k, v := range r.Form {
		out[k] = append(out[k], v...)
	}
	return out
}

func (r *ValuesRequest) Query() url.Values {
	if r.Values == nil {
		return url.Values{}
	}
	return r.Values
}

// Body returns Reader if set, else a reader over Payload.
func (r *ValuesRequest) Body() io.Reader {
	if r.Reader != nil {
		return r.Reader
	}
	return bytes.NewReader(r.Payload)
}

func (r *ValuesRequest) Files() Files {
	return r.Uploads
}

func (r *ValuesRequest) AcceptEncoding() string {
	return r.Encoding
}

func (r *ValuesRequest) Description() string {
	src := r.Source
	if src == "" {
		src = "local"
	}
	if q := r.Query().Encode(); q != "" {
		return fmt.Sprintf("%s ?%s (%d bytes)", src, q, len(r.Payload))
	}
	return fmt.Sprintf("%s (%d bytes)", src, len(r.Payload))
}
