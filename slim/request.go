package slim

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/dustin/go-humanize"

	"github.com/guoyu07/SlimWebApi/api"
	"github.com/guoyu07/SlimWebApi/endpoint"
)

// httpRequest adapts an *http.Request to api.Request.
type httpRequest struct {
	r     *http.Request
	query url.Values
	form  url.Values
	files api.Files
	body  *countingReader
}

func newHTTPRequest(r *http.Request, formLimit int64) (*httpRequest, error) {
	form, files, err := endpoint.ParseForm(r, formLimit)
	if err != nil {
		return nil, err
	}
	req := &httpRequest{
		r:     r,
		query: r.URL.Query(),
		form:  form,
		files: files,
	}
	var src io.Reader = bytes.NewReader(nil)
	switch endpoint.MediaType(r) {
	case "application/x-www-form-urlencoded", "multipart/form-data":
	default:
		// Untyped bodies stay readable so that ~format=json works without
		// a Content-Type.
		if r.Body != nil {
			src = r.Body
		}
	}
	req.body = &countingReader{r: src}
	return req, nil
}

// Params merges the query string with posted form values. Query values come
// first.
func (h *httpRequest) Params() url.Values {
	if len(h.form) == 0 {
		return h.query
	}
	out := make(url.Values, len(h.query)+len(h.form))
	for k, v := range h.query {
		out[k] = append(out[k], v...)
	}
	for k, v := range h.form {
		out[k] = append(out[k], v...)
	}
	return out
}

func (h *httpRequest) Query() url.Values {
	return h.query
}

// Body returns the raw body. Posted forms have already been consumed and
// yield an empty reader.
func (h *httpRequest) Body() io.Reader {
	return h.body
}

func (h *httpRequest) Files() api.Files {
	return h.files
}

func (h *httpRequest) AcceptEncoding() string {
	return h.r.Header.Get("Accept-Encoding")
}

// Description identifies the request as "remote-addr raw-url", plus the
// amount of body read when there was one.
func (h *httpRequest) Description() string {
	desc := describe(h.r)
	if n := h.body.n; n > 0 {
		desc += fmt.Sprintf(" (%s)", humanize.Bytes(uint64(n)))
	}
	return desc
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
