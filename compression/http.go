package compression

import (
	"net/http"
)

// ResponseWriter is an http.ResponseWriter whose body passes through a
// compressing Writer.
//
// The owner must call Close once all of the body has been written and before
// the handler returns.
type ResponseWriter struct {
	http.ResponseWriter
	zw *Writer
}

// NewResponseWriter wraps w for enc. For a non-identity encoding it sets
// Content-Encoding, adds Vary: Accept-Encoding and drops any Content-Length.
func NewResponseWriter(w http.ResponseWriter, enc Encoding) (*ResponseWriter, error) {
	zw, err := NewWriter(w, enc)
	if err != nil {
		return nil, err
	}
	if enc != Identity {
		h := w.Header()
		h.Set("Content-Encoding", string(enc))
		h.Add("Vary", "Accept-Encoding")
		h.Del("Content-Length")
	}
	return &ResponseWriter{ResponseWriter: w, zw: zw}, nil
}

func (w *ResponseWriter) Write(p []byte) (int, error) {
	return w.zw.Write(p)
}

// Flush implements http.Flusher. It only reaches the transport after Close.
func (w *ResponseWriter) Flush() {
	_ = w.zw.Flush()
}

// Close finalizes the compressed body exactly once.
func (w *ResponseWriter) Close() error {
	return w.zw.Close()
}

// Encoding returns the applied content coding.
func (w *ResponseWriter) Encoding() Encoding {
	return w.zw.Encoding()
}

// Unwrap supports http.ResponseController.
func (w *ResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
