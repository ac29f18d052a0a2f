// Package natsrpc serves registered methods over NATS request/reply.
//
// A request is a JSON Request envelope published to the service subject, or
// to "<subject>.<method>" in which case the method may be omitted from the
// envelope. The reply is a JSON Response mirroring the slim HTTP envelope,
// plus the status the HTTP transport would have used.
package natsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/guoyu07/SlimWebApi/api"
	"github.com/guoyu07/SlimWebApi/endpoint"
)

// DefaultTimeout bounds one call when neither the server nor the caller
// sets a shorter limit.
const DefaultTimeout = 30 * time.Second

// DefaultMaxInFlight bounds the calls one server runs at once.
const DefaultMaxInFlight = 256

const drainPoll = 10 * time.Millisecond

// Request is the envelope of one call.
type Request struct {
	Method string `json:"method,omitempty"`
	Format string `json:"format,omitempty"`
	// Params holds form-style values, as if from a query string.
	Params url.Values `json:"params,omitempty"`
	// Body is the document for document formats. It defaults the format to
	// "json" when Format is empty.
	Body json.RawMessage `json:"body,omitempty"`
	// TimeoutMs shortens the server timeout for this call.
	TimeoutMs int64 `json:"timeoutMs,omitempty"`
}

// Response is the reply to one call.
type Response struct {
	Status  int             `json:"status"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// OK reports whether the call succeeded.
func (r *Response) OK() bool {
	return r.Status == http.StatusOK && r.Code == 0
}

// Option configures a Server.
type Option func(*Server)

// WithQueue makes the server join a queue group, so that several instances
// share the load.
func WithQueue(queue string) Option {
	return func(s *Server) {
		s.queue = queue
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxInFlight bounds the number of calls running at once. When the
// limit is reached, delivery of further requests waits for a free slot.
func WithMaxInFlight(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.slots = make(chan struct{}, n)
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server answers NATS requests with a dispatcher.
type Server struct {
	nc         *nats.Conn
	dispatcher *api.Dispatcher
	subject    string
	queue      string
	timeout    time.Duration
	logger     *zap.Logger

	mu   sync.Mutex
	subs []*nats.Subscription

	slots    chan struct{}
	flightMu sync.Mutex
	stopping bool
	inflight sync.WaitGroup
}

// NewServer creates a Server for subject. It does not subscribe until Start.
func NewServer(nc *nats.Conn, d *api.Dispatcher, subject string, opts ...Option) *Server {
	s := &Server{
		nc:         nc,
		dispatcher: d,
		subject:    subject,
		timeout:    DefaultTimeout,
		logger:     zap.NewNop(),
		slots:      make(chan struct{}, DefaultMaxInFlight),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes to the service subject and its per-method subjects. Each
// call runs on its own goroutine with a context derived from ctx.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) > 0 {
		return errors.New("natsrpc: server already started")
	}
	s.flightMu.Lock()
	s.stopping = false
	s.flightMu.Unlock()

	for _, subj := range []string{s.subject, s.subject + ".>"} {
		sub, err := s.nc.QueueSubscribe(subj, s.queue, func(msg *nats.Msg) {
			s.serve(ctx, msg)
		})
		if err != nil {
			return multierr.Append(fmt.Errorf("natsrpc: subscribe %s: %w", subj, err), s.unsubscribe())
		}
		s.subs = append(s.subs, sub)
	}
	if err := s.nc.Flush(); err != nil {
		return multierr.Append(fmt.Errorf("natsrpc: flush: %w", err), s.unsubscribe())
	}
	s.logger.Info("natsrpc subscribed", zap.String("subject", s.subject), zap.String("queue", s.queue))
	return nil
}

// Stop drains the subscriptions and waits for in-flight calls to finish.
// Requests still queued when the drain outlasts the call timeout are
// dropped.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	for _, sub := range s.subs {
		err = multierr.Append(err, sub.Drain())
	}
	deadline := time.Now().Add(s.timeout)
	for _, sub := range s.subs {
		for sub.IsValid() && time.Now().Before(deadline) {
			time.Sleep(drainPoll)
		}
	}
	s.subs = nil

	s.flightMu.Lock()
	s.stopping = true
	s.flightMu.Unlock()
	s.inflight.Wait()
	return err
}

// serve runs on the subscription's delivery goroutine. It hands msg to a
// call goroutine once a slot is free.
func (s *Server) serve(ctx context.Context, msg *nats.Msg) {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		s.respond(msg, &Response{Status: http.StatusServiceUnavailable, Code: http.StatusServiceUnavailable, Message: "server shutting down"})
		return
	}

	s.flightMu.Lock()
	if s.stopping {
		s.flightMu.Unlock()
		<-s.slots
		return
	}
	s.inflight.Add(1)
	s.flightMu.Unlock()

	go func() {
		defer func() {
			<-s.slots
			s.inflight.Done()
		}()
		s.handle(ctx, msg)
	}()
}

func (s *Server) unsubscribe() error {
	var err error
	for _, sub := range s.subs {
		err = multierr.Append(err, sub.Unsubscribe())
	}
	s.subs = nil
	return err
}

func (s *Server) handle(ctx context.Context, msg *nats.Msg) {
	if msg.Reply == "" {
		// Nobody is waiting; the call still runs.
		s.logger.Debug("natsrpc request without reply subject", zap.String("subject", msg.Subject))
	}

	var req Request
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.logger.Warn("natsrpc malformed request", zap.String("subject", msg.Subject), zap.Error(err))
			s.respond(msg, &Response{Status: http.StatusBadRequest, Code: http.StatusBadRequest, Message: api.MessageMalformedBody})
			return
		}
	}
	if req.Method == "" {
		req.Method = strings.TrimPrefix(strings.TrimPrefix(msg.Subject, s.subject), ".")
	}
	format := req.Format
	if format == "" && len(req.Body) > 0 {
		format = "json"
	}

	timeout := s.timeout
	if req.TimeoutMs > 0 {
		if d := time.Duration(req.TimeoutMs) * time.Millisecond; d < timeout {
			timeout = d
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	info := api.DispatchInfo{
		Method:    req.Method,
		Format:    format,
		Transport: "nats",
		Metadata:  metadata(msg),
	}
	resp := s.dispatcher.DispatchWith(callCtx, info, &api.ValuesRequest{
		Values:  req.Params,
		Payload: req.Body,
		Source:  "nats:" + msg.Subject,
	})
	s.respond(msg, responseOf(resp))
}

func responseOf(resp *api.Response) *Response {
	out := &Response{Status: resp.Status, Code: resp.Code, Message: resp.Message}
	if resp.Data == nil {
		return out
	}
	data, err := endpoint.MarshalJSON(resp.Data)
	if err != nil {
		return &Response{Status: http.StatusInternalServerError, Code: http.StatusInternalServerError, Message: api.MessageUnhandled}
	}
	out.Data = data
	return out
}

func (s *Server) respond(msg *nats.Msg, resp *Response) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("natsrpc encode response", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("natsrpc respond", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

func metadata(msg *nats.Msg) map[string]string {
	md := map[string]string{"subject": msg.Subject}
	for _, k := range []string{"traceparent", "tracestate", "baggage"} {
		if v := msg.Header.Get(k); v != "" {
			md[k] = v
		}
	}
	return md
}

// Call sends req to subject and waits for the reply. hdr is optional.
func Call(ctx context.Context, nc *nats.Conn, subject string, req Request, hdr nats.Header) (*Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("natsrpc: encode request: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header[k] = v
	}
	reply, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("natsrpc: request %s: %w", subject, err)
	}
	var resp Response
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return nil, fmt.Errorf("natsrpc: decode response: %w", err)
	}
	return &resp, nil
}

// Connect opens a NATS connection that logs its lifecycle events.
func Connect(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsrpc: connect %s: %w", url, err)
	}
	logger.Info("nats connected", zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}
