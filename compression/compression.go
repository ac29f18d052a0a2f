// Package compression selects and applies the response content encoding for
// a dispatched method.
package compression

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/multierr"
)

// Method is the compression policy configured on a method.
type Method int

const (
	None Method = iota
	GZip
	Deflate
	Auto
)

func (m Method) String() string {
	switch m {
	case None:
		return "none"
	case GZip:
		return "gzip"
	case Deflate:
		return "deflate"
	case Auto:
		return "auto"
	}
	return "Method(" + strconv.Itoa(int(m)) + ")"
}

// UnmarshalText parses a policy name, case-insensitively.
func (m *Method) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "", "none":
		*m = None
	case "gzip":
		*m = GZip
	case "deflate":
		*m = Deflate
	case "auto":
		*m = Auto
	default:
		return fmt.Errorf("compression: unknown method %q", string(b))
	}
	return nil
}

func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Encoding is an HTTP content-coding token. The zero value means identity.
type Encoding string

const (
	Identity        Encoding = ""
	EncodingGzip    Encoding = "gzip"
	EncodingDeflate Encoding = "deflate"
)

// Select returns the content encoding to apply for method m given the
// request's Accept-Encoding header value.
//
// GZip and Deflate are unconditional. Auto prefers gzip, then deflate, and
// falls back to identity; codings listed with q=0 are treated as refused.
func Select(m Method, acceptEncoding string) Encoding {
	switch m {
	case GZip:
		return EncodingGzip
	case Deflate:
		return EncodingDeflate
	case Auto:
		accepted := parseAcceptEncoding(acceptEncoding)
		if accepts(accepted, "gzip") {
			return EncodingGzip
		}
		if accepts(accepted, "deflate") {
			return EncodingDeflate
		}
	}
	return Identity
}

func accepts(accepted map[string]float64, coding string) bool {
	if q, ok := accepted[coding]; ok {
		return q > 0
	}
	if q, ok := accepted["*"]; ok {
		return q > 0
	}
	return false
}

func parseAcceptEncoding(header string) map[string]float64 {
	out := make(map[string]float64)
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		coding, params, _ := strings.Cut(part, ";")
		q := 1.0
		for _, p := range strings.Split(params, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
			if !ok || strings.ToLower(strings.TrimSpace(k)) != "q" {
				continue
			}
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				q = f
			}
		}
		out[strings.ToLower(strings.TrimSpace(coding))] = q
	}
	return out
}

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("compression: write after close")

// Writer compresses into an underlying writer.
//
// Flush never flushes the compressor: a partially flushed deflate stream is
// not a complete payload. Close finalizes the compressed stream exactly once
// and only then flushes the destination, if it can be flushed.
type Writer struct {
	dst    io.Writer
	enc    Encoding
	zw     io.WriteCloser
	closed bool
}

// NewWriter wraps dst with the compressor for enc. Identity writes through.
func NewWriter(dst io.Writer, enc Encoding) (*Writer, error) {
	w := &Writer{dst: dst, enc: enc}
	switch enc {
	case Identity:
	case EncodingGzip:
		w.zw = gzip.NewWriter(dst)
	case EncodingDeflate:
		fw, err := flate.NewWriter(dst, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		w.zw = fw
	default:
		return nil, fmt.Errorf("compression: unsupported encoding %q", string(enc))
	}
	return w, nil
}

// Encoding returns the content coding applied by w.
func (w *Writer) Encoding() Encoding {
	return w.enc
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if w.zw == nil {
		return w.dst.Write(p)
	}
	return w.zw.Write(p)
}

// Flush is a no-op until the writer has been closed.
func (w *Writer) Flush() error {
	if !w.closed {
		return nil
	}
	return flushDst(w.dst)
}

// Close finalizes the compressed stream and flushes the destination. Calling
// Close again is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var err error
	if w.zw != nil {
		err = w.zw.Close()
	}
	return multierr.Append(err, flushDst(w.dst))
}

func flushDst(dst io.Writer) error {
	switch f := dst.(type) {
	case interface{ Flush() error }:
		return f.Flush()
	case http.Flusher:
		f.Flush()
	}
	return nil
}
