package natsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/guoyu07/SlimWebApi/api"
)

const subject = "slimapi.test"

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// startTestServer starts an in-process NATS server on a random port.
func startTestServer(t *testing.T) *nats.Conn {
	t.Helper()

	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   natsserver.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("nats server failed to start")
	}

	nc, err := Connect(ns.ClientURL(), "natsrpc-test", zap.NewNop())
	if err != nil {
		ns.Shutdown()
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

func newDispatcher(t *testing.T, opts ...api.DispatcherOption) *api.Dispatcher {
	t.Helper()
	reg := api.NewRegistry(api.Options{})
	reg.MustRegister(func(a, b int) int { return a + b }, api.Setting{Name: "Sum", Params: []string{"a", "b"}})
	reg.MustRegister(func(p point) int { return p.X * p.Y }, api.Setting{Name: "geo.Area", Params: []string{"p"}})
	reg.MustRegister(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, api.Setting{Name: "Block"})
	reg.MustRegister(func() error { return errors.New("boom") }, api.Setting{Name: "Fail"})
	reg.Seal()
	return api.NewDispatcher(reg, opts...)
}

func startService(t *testing.T, nc *nats.Conn, d *api.Dispatcher, opts ...Option) *Server {
	t.Helper()
	s := NewServer(nc, d, subject, opts...)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func call(t *testing.T, nc *nats.Conn, subj string, req Request) *Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := Call(ctx, nc, subj, req, nil)
	require.NoError(t, err)
	return resp
}

func TestServer_Params(t *testing.T) {
	nc := startTestServer(t)
	startService(t, nc, newDispatcher(t))

	resp := call(t, nc, subject, Request{Method: "Sum", Params: url.Values{"a": {"2"}, "b": {"40"}}})
	assert.True(t, resp.OK())
	assert.JSONEq(t, `42`, string(resp.Data))
}

func TestServer_MethodFromSubject(t *testing.T) {
	nc := startTestServer(t)
	startService(t, nc, newDispatcher(t))

	resp := call(t, nc, subject+".geo.Area", Request{Body: json.RawMessage(`{"x":3,"y":4}`)})
	require.True(t, resp.OK(), resp.Message)
	assert.JSONEq(t, `12`, string(resp.Data))

	resp = call(t, nc, subject+".sum", Request{Format: "json", Body: json.RawMessage(`{"a":1,"b":1}`)})
	assert.JSONEq(t, `2`, string(resp.Data))
}

func TestServer_Failures(t *testing.T) {
	nc := startTestServer(t)
	startService(t, nc, newDispatcher(t))

	tests := []struct {
		name    string
		subj    string
		req     Request
		status  int
		message string
	}{
		{"no method", subject, Request{}, http.StatusBadRequest, api.MessageMethodNotSpecified},
		{"unknown method", subject, Request{Method: "Nope"}, http.StatusBadRequest, api.MessageMethodNotFound},
		{"bad value", subject, Request{Method: "Sum", Params: url.Values{"a": {"x"}}}, http.StatusBadRequest, api.MessageInvalidParameter},
		{"bad document", subject + ".geo.Area", Request{Body: json.RawMessage(`{"x":"y"}`)}, http.StatusBadRequest, api.MessageMalformedBody},
		{"method error", subject, Request{Method: "Fail"}, http.StatusInternalServerError, api.MessageUnhandled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, nc, tt.subj, tt.req)
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.status, resp.Code)
			assert.Equal(t, tt.message, resp.Message)
			assert.False(t, resp.OK())
		})
	}
}

func TestServer_MalformedEnvelope(t *testing.T) {
	nc := startTestServer(t)
	startService(t, nc, newDispatcher(t))

	reply, err := nc.Request(subject, []byte(`{not json`), 5*time.Second)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(reply.Data, &resp))
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, api.MessageMalformedBody, resp.Message)
}

func TestServer_CallerTimeout(t *testing.T) {
	nc := startTestServer(t)
	startService(t, nc, newDispatcher(t), WithTimeout(5*time.Second))

	start := time.Now()
	resp := call(t, nc, subject, Request{Method: "Block", TimeoutMs: 50})
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
}

func TestServer_SlowCallDoesNotBlockSubject(t *testing.T) {
	nc := startTestServer(t)
	startService(t, nc, newDispatcher(t), WithTimeout(10*time.Second))

	// Nobody waits for the reply; the call holds its slot for up to 3s.
	data, err := json.Marshal(Request{Method: "Block", TimeoutMs: 3000})
	require.NoError(t, err)
	require.NoError(t, nc.Publish(subject, data))
	require.NoError(t, nc.Flush())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := Call(ctx, nc, subject, Request{Method: "Sum", Params: url.Values{"a": {"1"}, "b": {"2"}}}, nil)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.JSONEq(t, `3`, string(resp.Data))
}

func TestServer_StopWaitsForCalls(t *testing.T) {
	nc := startTestServer(t)
	s := NewServer(nc, newDispatcher(t), subject, WithMaxInFlight(1))
	require.NoError(t, s.Start(context.Background()))

	data, err := json.Marshal(Request{Method: "Block", TimeoutMs: 200})
	require.NoError(t, err)
	require.NoError(t, nc.Publish(subject, data))
	require.NoError(t, nc.Flush())
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Stop())
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestServer_Logging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	nc := startTestServer(t)
	startService(t, nc, newDispatcher(t, api.WithLogger(zap.New(core))))

	call(t, nc, subject+".Sum", Request{Params: url.Values{"a": {"1"}, "b": {"2"}}})

	entries := logs.FilterMessage("dispatch completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "nats", fields["transport"])
	assert.Contains(t, fields["request"], "nats:"+subject+".Sum")
}

func TestServer_StartTwice(t *testing.T) {
	nc := startTestServer(t)
	s := startService(t, nc, newDispatcher(t))
	assert.Error(t, s.Start(context.Background()))
}

func TestServer_QueueGroup(t *testing.T) {
	nc := startTestServer(t)
	d := newDispatcher(t)
	startService(t, nc, d, WithQueue("workers"))
	startService(t, nc, d, WithQueue("workers"))

	// Queue members share requests, so exactly one reply arrives.
	for i := 0; i < 5; i++ {
		resp := call(t, nc, subject, Request{Method: "Sum", Params: url.Values{"a": {"1"}, "b": {"1"}}})
		assert.JSONEq(t, `2`, string(resp.Data))
	}
}
