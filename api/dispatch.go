package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/guoyu07/SlimWebApi/compression"
)

// Failure messages carried by dispatch responses.
const (
	MessageMethodNotSpecified = "method name not specified"
	MessageMethodNotFound     = "method not found"
	MessageFormatNotSupported = "format not supported"
	MessageInvalidParameter   = "invalid parameter"
	MessageMalformedBody      = "malformed body"
	MessageUnhandled          = "unhandled error"
)

// Response is the outcome of one dispatch. Transports serialize it; the
// dispatcher never writes anything itself.
type Response struct {
	// Status is an HTTP status code: 200, 400 or 500.
	Status int
	// Code is 0 on success, the application code of a translated error, or
	// Status on failure.
	Code    int
	Message string
	Data    any
	// Encoding is the content coding selected for the response body.
	Encoding compression.Encoding
	// Method is the resolved method, nil if resolution failed.
	Method *Method
	// Err is the underlying error of a failed or translated dispatch.
	Err error
}

// OK reports whether the dispatch reached the method and it succeeded.
func (r *Response) OK() bool {
	return r.Status == http.StatusOK && r.Err == nil
}

func failure(status int, message string, m *Method, err error) *Response {
	return &Response{Status: status, Code: status, Message: message, Method: m, Err: err}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatch logger.
func WithLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithLogLevels sets the levels used to log successful dispatches and
// client (4xx) failures. Server (5xx) failures always log at error level.
func WithLogLevels(success, clientError zapcore.Level) DispatcherOption {
	return func(d *Dispatcher) {
		d.successLevel = success
		d.clientErrorLevel = clientError
	}
}

// WithErrorTranslator replaces the error translator. nil disables
// translation.
func WithErrorTranslator(t ErrorTranslator) DispatcherOption {
	return func(d *Dispatcher) {
		d.translate = t
	}
}

// WithHooks adds dispatch hooks, called in order on start and in reverse
// order on end.
func WithHooks(hooks ...DispatchHook) DispatcherOption {
	return func(d *Dispatcher) {
		d.hooks = append(d.hooks, hooks...)
	}
}

// Dispatcher drives one request through method resolution, decoder
// selection, argument decoding and invocation, and maps the outcome to a
// Response.
type Dispatcher struct {
	registry         *Registry
	logger           *zap.Logger
	successLevel     zapcore.Level
	clientErrorLevel zapcore.Level
	translate        ErrorTranslator
	hooks            []DispatchHook
}

// NewDispatcher creates a Dispatcher over reg. The default error translator
// is TranslateAPIError.
func NewDispatcher(reg *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:         reg,
		logger:           zap.NewNop(),
		successLevel:     zapcore.DebugLevel,
		clientErrorLevel: zapcore.WarnLevel,
		translate:        TranslateAPIError,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the dispatcher's registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch handles one request for method in format. It never panics and
// always returns exactly one Response.
func (d *Dispatcher) Dispatch(ctx context.Context, method, format string, req Request) *Response {
	return d.DispatchWith(ctx, DispatchInfo{Method: method, Format: format}, req)
}

// DispatchWith is Dispatch with transport metadata for hooks.
func (d *Dispatcher) DispatchWith(ctx context.Context, info DispatchInfo, req Request) *Response {
	if req == nil {
		req = &ValuesRequest{}
	}
	start := time.Now()

	tokens := make([]HookToken, len(d.hooks))
	for i, h := range d.hooks {
		ctx, tokens[i] = d.startHook(ctx, h, info)
	}

	resp := d.safeDispatch(ctx, info, req)

	for i := len(d.hooks) - 1; i >= 0; i-- {
		d.endHook(ctx, d.hooks[i], tokens[i], info, resp)
	}
	d.log(info, req, resp, time.Since(start))
	return resp
}

// startHook runs h.OnDispatchStart. A panicking hook is logged and skipped;
// the dispatch continues with ctx unchanged.
func (d *Dispatcher) startHook(ctx context.Context, h DispatchHook, info DispatchInfo) (next context.Context, token HookToken) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch hook panicked", zap.String("method", info.Method), zap.String("phase", "start"), zap.Any("panic", r))
			next, token = ctx, nil
		}
	}()
	return h.OnDispatchStart(ctx, info)
}

func (d *Dispatcher) endHook(ctx context.Context, h DispatchHook, token HookToken, info DispatchInfo, resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch hook panicked", zap.String("method", info.Method), zap.String("phase", "end"), zap.Any("panic", r))
		}
	}()
	h.OnDispatchEnd(ctx, token, info, resp)
}

func (d *Dispatcher) safeDispatch(ctx context.Context, info DispatchInfo, req Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = failure(http.StatusInternalServerError, MessageUnhandled, nil, fmt.Errorf("api: dispatch %s: panic: %v", info.Method, r))
		}
	}()
	return d.dispatch(ctx, info, req)
}

func (d *Dispatcher) dispatch(ctx context.Context, info DispatchInfo, req Request) *Response {
	name := strings.TrimSpace(info.Method)
	if name == "" {
		return failure(http.StatusBadRequest, MessageMethodNotSpecified, nil, ErrMethodNotSpecified)
	}
	e, ok := d.registry.lookup(name)
	if !ok {
		return failure(http.StatusBadRequest, MessageMethodNotFound, nil, fmt.Errorf("%w: %q", ErrMethodNotFound, name))
	}
	m := e.method

	dec, err := e.binding.decoder(info.Format)
	if err != nil {
		return failure(http.StatusBadRequest, MessageFormatNotSupported, m, err)
	}

	args, err := decode(dec, m, req)
	if err != nil {
		return d.failed(m, err)
	}

	result, err := Invoke(ctx, m, args)
	if err != nil {
		if d.translate != nil {
			if code, msg, ok := d.translate(err); ok {
				return &Response{Status: http.StatusOK, Code: code, Message: msg, Method: m, Err: err}
			}
		}
		return d.failed(m, err)
	}

	return &Response{
		Status:   http.StatusOK,
		Data:     result,
		Method:   m,
		Encoding: compression.Select(m.compression, req.AcceptEncoding()),
	}
}

func decode(dec Decoder, m *Method, req Request) (args Args, err error) {
	defer func() {
		if r := recover(); r != nil {
			args, err = nil, fmt.Errorf("api: decode %s: panic: %v", m.name, r)
		}
	}()
	return dec.Decode(m, req)
}

func (d *Dispatcher) failed(m *Method, err error) *Response {
	var convErr *ArgumentConversionError
	var docErr *DocumentError
	switch {
	case errors.As(err, &convErr):
		return failure(http.StatusBadRequest, MessageInvalidParameter, m, err)
	case errors.As(err, &docErr):
		return failure(http.StatusBadRequest, MessageMalformedBody, m, err)
	}
	return failure(http.StatusInternalServerError, MessageUnhandled, m, err)
}

func (d *Dispatcher) log(info DispatchInfo, req Request, resp *Response, elapsed time.Duration) {
	level := d.successLevel
	msg := "dispatch completed"
	switch {
	case resp.Status >= 500:
		level = zapcore.ErrorLevel
		msg = "dispatch failed"
	case resp.Status >= 400:
		level = d.clientErrorLevel
		msg = "dispatch rejected"
	}
	ce := d.logger.Check(level, msg)
	if ce == nil {
		return
	}
	fields := []zap.Field{
		zap.String("method", info.Method),
		zap.String("format", info.Format),
		zap.String("request", req.Description()),
		zap.Int("status", resp.Status),
		zap.Int("code", resp.Code),
		zap.String("message", resp.Message),
		zap.Duration("elapsed", elapsed),
	}
	if info.Transport != "" {
		fields = append(fields, zap.String("transport", info.Transport))
	}
	if resp.Encoding != compression.Identity {
		fields = append(fields, zap.String("encoding", string(resp.Encoding)))
	}
	if resp.Err != nil {
		fields = append(fields, zap.Error(resp.Err))
	}
	ce.Write(fields...)
}
