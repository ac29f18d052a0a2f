// Package endpoint holds the HTTP plumbing shared by the API transports.
//
// A request passes through three phases:
//
//  1. Unmarshal: the EndpointHandler decodes the path, query, form and
//     headers into a typed parameters struct using struct tags.
//  2. Endpoint: the EndpointFunc receives the decoded parameters, runs the
//     call and returns a Renderer. It does not write to the response.
//  3. Render: the returned Renderer writes the status code, headers and body.
//
// Processors can be chained as middleware to intercept requests before they
// reach the EndpointFunc.
package endpoint

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// EndpointError is a client-visible error that maps directly to an HTTP
// status code.
type EndpointError struct {
	Status int
	// Message is a short, human-readable description suitable for an HTTP error body.
	Message string
	Cause   error
}

func (e *EndpointError) Error() string {
	if e == nil {
		return "endpoint: error: <nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *EndpointError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Error creates a new EndpointError.
func Error(status int, message string, err error) error {
	return newEndpointError(status, message, err)
}

func newEndpointError(status int, message string, err error) error {
	var ee *EndpointError
	if errors.As(err, &ee) {
		return err
	}
	return &EndpointError{Status: status, Message: message, Cause: err}
}

// StatusOf returns the HTTP status and message carried by err. Errors that
// are not EndpointErrors map to 500 with err's text.
func StatusOf(err error) (int, string) {
	var ee *EndpointError
	if errors.As(err, &ee) && ee != nil {
		status := http.StatusInternalServerError
		if ee.Status >= 100 {
			status = ee.Status
		}
		if ee.Message == "" {
			return status, http.StatusText(status)
		}
		return status, ee.Message
	}
	return http.StatusInternalServerError, err.Error()
}

// Renderer writes a response into an http.ResponseWriter.
//
// Renderers MUST call w.WriteHeader() before writing the body and may set
// headers beforehand. A non-nil error reports a failure to write the
// response; the caller decides what, if anything, can still be sent.
//
// A Renderer that also implements io.Closer is closed after Render returns.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// Processor is middleware-style logic that runs before the Renderer.
//
// Processors MUST call next(...) unless they intend to short-circuit the
// request, and MUST NOT write the status or body. If a processor returns a
// non-nil error the chain stops and the error is rendered.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error

func (f ProcessorFunc) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	return f(w, r, next)
}

// EndpointFunc runs one call. It receives the decoded params and returns the
// Renderer for the response, or an error.
type EndpointFunc[P any] func(w http.ResponseWriter, r *http.Request, params P) (Renderer, error)

// ErrorHandler writes the response for a failed request.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// EndpointHandler is the http.Handler wrapper for an EndpointFunc.
//
// It runs the processors in order, decodes params with Unmarshal, calls
// Endpoint and renders the result. Errors from any phase go to OnError, or
// to a plain-text http.Error response when OnError is nil.
type EndpointHandler[P any] struct {
	Endpoint   EndpointFunc[P]
	Processors []Processor
	OnError    ErrorHandler
	// Logger records render failures. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Handler constructs an EndpointHandler.
//
// This helper exists to enable type inference for the params type P.
func Handler[P any](fn EndpointFunc[P], processors ...Processor) *EndpointHandler[P] {
	return &EndpointHandler[P]{
		Endpoint:   fn,
		Processors: processors,
	}
}

// HandleFunc adapts an EndpointFunc into an http.HandlerFunc.
func HandleFunc[P any](fn EndpointFunc[P], processors ...Processor) http.HandlerFunc {
	return Handler(fn, processors...).ServeHTTP
}

// ServeHTTP implements http.Handler.
func (h *EndpointHandler[P]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Endpoint == nil {
		http.Error(w, "endpoint: nil EndpointFunc", http.StatusInternalServerError)
		return
	}

	rendered := false
	var run func(i int, w2 http.ResponseWriter, r2 *http.Request) error
	run = func(i int, w2 http.ResponseWriter, r2 *http.Request) error {
		if i < len(h.Processors) {
			if h.Processors[i] == nil {
				return errors.New("endpoint: nil processor")
			}
			return h.Processors[i].Process(w2, r2, func(w3 http.ResponseWriter, r3 *http.Request) error {
				return run(i+1, w3, r3)
			})
		}

		var params P
		if err := Unmarshal(r2, &params); err != nil {
			return err
		}
		renderer, err := h.Endpoint(w2, r2, params)
		if err != nil {
			return err
		}
		if renderer == nil {
			return errors.New("endpoint: nil renderer")
		}
		if c, ok := renderer.(io.Closer); ok {
			defer c.Close()
		}
		rendered = true
		return renderer.Render(w2, r2)
	}

	err := run(0, w, r)
	if err == nil {
		return
	}
	if rendered {
		// The status may already be out, in which case the error response
		// below only reaches the log.
		h.logger().Warn("render failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	if h.OnError != nil {
		h.OnError(w, r, err)
		return
	}
	status, message := StatusOf(err)
	http.Error(w, message, status)
}

func (h *EndpointHandler[P]) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}
