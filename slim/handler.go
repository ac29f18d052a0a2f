// Package slim serves registered methods over plain HTTP.
//
// A call names its method in the {method} path segment or in the ~method
// parameter, optionally selects an input format with ~format and asks for
// JSONP output with ~callback. Meta parameters are read from the path, then
// the query string, then a posted form. Every response is an envelope
//
//	{"Code": 0, "Message": "", "Data": ...}
//
// whose HTTP status mirrors the outcome: 200, 400 or 500.
package slim

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/guoyu07/SlimWebApi/api"
	"github.com/guoyu07/SlimWebApi/endpoint"
	"github.com/guoyu07/SlimWebApi/middleware"
)

// Meta parameter names.
const (
	MetaMethod   = "~method"
	MetaFormat   = "~format"
	MetaCallback = "~callback"
)

// callParams holds the meta parameters of one call.
type callParams struct {
	Method   string `path:"method" query:"~method" form:"~method"`
	Format   string `query:"~format" form:"~format"`
	Callback string `query:"~callback" form:"~callback"`
}

// Options configures a Handler.
type Options struct {
	// Setup registers the methods. It runs once, before the first request is
	// served. A failed setup is retried by the next request.
	Setup func(reg *api.Registry) error
	// Registry configures the registry passed to Setup.
	Registry api.Options
	// Dispatcher options are applied after the handler's own logger option.
	Dispatcher []api.DispatcherOption
	// Processors run before every call. nil installs an APIHeadersProcessor
	// with its defaults; an empty slice installs none.
	Processors []endpoint.Processor
	// FormLimit caps the memory used for multipart forms. Defaults to
	// endpoint.DefaultFormLimit.
	FormLimit int64
	Logger    *zap.Logger
}

type state struct {
	dispatcher *api.Dispatcher
	handler    *endpoint.EndpointHandler[callParams]
}

// Handler is an http.Handler dispatching slim calls.
//
// The registry is built lazily on first use and sealed afterwards; Init
// forces it earlier.
type Handler struct {
	opts  Options
	mu    sync.Mutex
	state atomic.Pointer[state]
}

// New creates a Handler.
func New(opts Options) *Handler {
	return &Handler{opts: opts}
}

// Init runs the setup if it has not run yet and returns the dispatcher.
// It is safe for concurrent use; setup runs at most once successfully.
func (h *Handler) Init() (*api.Dispatcher, error) {
	st, err := h.init()
	if err != nil {
		return nil, err
	}
	return st.dispatcher, nil
}

func (h *Handler) init() (*state, error) {
	if st := h.state.Load(); st != nil {
		return st, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if st := h.state.Load(); st != nil {
		return st, nil
	}

	regOpts := h.opts.Registry
	if regOpts.Logger == nil {
		regOpts.Logger = h.opts.Logger
	}
	reg := api.NewRegistry(regOpts)
	if h.opts.Setup != nil {
		if err := h.opts.Setup(reg); err != nil {
			return nil, fmt.Errorf("slim: setup: %w", err)
		}
	}
	reg.Seal()

	dopts := append([]api.DispatcherOption{api.WithLogger(h.logger())}, h.opts.Dispatcher...)
	d := api.NewDispatcher(reg, dopts...)

	processors := h.opts.Processors
	if processors == nil {
		processors = []endpoint.Processor{middleware.NewAPIHeadersProcessor()}
	}
	eh := endpoint.Handler(h.call(d), processors...)
	eh.OnError = h.writeError
	eh.Logger = h.logger()

	st := &state{dispatcher: d, handler: eh}
	h.state.Store(st)
	return st, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st, err := h.init()
	if err != nil {
		h.writeError(w, r, endpoint.Error(http.StatusInternalServerError, api.MessageUnhandled, err))
		return
	}
	st.handler.ServeHTTP(w, r)
}

func (h *Handler) call(d *api.Dispatcher) endpoint.EndpointFunc[callParams] {
	return func(_ http.ResponseWriter, r *http.Request, p callParams) (endpoint.Renderer, error) {
		if r.Method == http.MethodOptions {
			return &endpoint.NoContentRenderer{}, nil
		}
		if p.Callback != "" && !ValidCallback(p.Callback) {
			return nil, endpoint.Error(http.StatusBadRequest, "invalid callback", nil)
		}

		req, err := newHTTPRequest(r, h.formLimit())
		if err != nil {
			return nil, err
		}

		format := p.Format
		if format == "" && !endpoint.IsFormBody(r) {
			// A document body without ~format is decoded by its content type.
			if c, ok := d.Registry().Codecs().ForContentType(r.Header.Get("Content-Type")); ok {
				format = c.Name()
			}
		}

		info := api.DispatchInfo{
			Method:    p.Method,
			Format:    format,
			Transport: "http",
			Metadata:  metadata(r),
		}
		resp := d.DispatchWith(r.Context(), info, req)
		return &responseRenderer{resp: resp, callback: p.Callback}, nil
	}
}

// propagatedHeaders are copied into the dispatch metadata for hooks.
var propagatedHeaders = []string{"traceparent", "tracestate", "baggage"}

func metadata(r *http.Request) map[string]string {
	md := map[string]string{"remote_addr": r.RemoteAddr}
	if ua := r.UserAgent(); ua != "" {
		md["user_agent"] = ua
	}
	for _, k := range propagatedHeaders {
		if v := r.Header.Get(k); v != "" {
			md[k] = v
		}
	}
	return md
}

func describe(r *http.Request) string {
	return fmt.Sprintf("%-15s %s", r.RemoteAddr, r.URL.RequestURI())
}

func (h *Handler) formLimit() int64 {
	if h.opts.FormLimit > 0 {
		return h.opts.FormLimit
	}
	return endpoint.DefaultFormLimit
}

func (h *Handler) logger() *zap.Logger {
	if h.opts.Logger == nil {
		return zap.NewNop()
	}
	return h.opts.Logger
}
