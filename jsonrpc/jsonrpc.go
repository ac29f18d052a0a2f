package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/mailru/easyjson/jwriter"

	"github.com/guoyu07/SlimWebApi/api"
	"github.com/guoyu07/SlimWebApi/endpoint"
)

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// DefaultMaxBodyBytes caps the size of a request body.
const DefaultMaxBodyBytes int64 = 4 << 20

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// JSONRPCEndpoint serves the methods of a dispatcher over JSON-RPC 2.0.
// Use endpoint.Handler(e.Endpoint, processors...) to create an http.Handler.
type JSONRPCEndpoint struct {
	dispatcher *api.Dispatcher
	// MaxBodyBytes caps the request body. Defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// NewEndpoint creates a JSON-RPC endpoint over d.
func NewEndpoint(d *api.Dispatcher) *JSONRPCEndpoint {
	return &JSONRPCEndpoint{dispatcher: d, MaxBodyBytes: DefaultMaxBodyBytes}
}

// rpcParams is empty: the body is parsed inside the endpoint, because
// JSON-RPC reports malformed JSON as a protocol error rather than an HTTP
// error.
type rpcParams struct{}

// Endpoint is the endpoint function that processes JSON-RPC requests.
// Pass to endpoint.Handler() to create an http.Handler.
func (e *JSONRPCEndpoint) Endpoint(w http.ResponseWriter, r *http.Request, _ rpcParams) (endpoint.Renderer, error) {
	if r.Method != http.MethodPost {
		return nil, endpoint.Error(http.StatusMethodNotAllowed, "JSON-RPC requires POST method", nil)
	}

	// Per JSON-RPC over HTTP, Content-Type must be application/json.
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		return nil, endpoint.Error(http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil)
	}

	limit := e.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, endpoint.Error(http.StatusRequestEntityTooLarge, "", err)
		}
		return nil, endpoint.Error(http.StatusBadRequest, "", err)
	}

	return e.handleBody(r.Context(), r.RemoteAddr, body), nil
}

// handleBody processes a single or batch request body.
func (e *JSONRPCEndpoint) handleBody(ctx context.Context, remote string, body []byte) endpoint.Renderer {
	body = bytes.TrimSpace(body)

	var reqs []json.RawMessage
	single := false
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &reqs); err != nil {
			return errorRenderer(NewError(CodeParseError, "parse error"))
		}
		if len(reqs) == 0 {
			return errorRenderer(NewError(CodeInvalidRequest, "invalid request"))
		}
	} else {
		if !json.Valid(body) {
			return errorRenderer(NewError(CodeParseError, "parse error"))
		}
		reqs = []json.RawMessage{body}
		single = true
	}

	responses := make([]response, 0, len(reqs))
	for _, rawReq := range reqs {
		var req request
		if err := json.Unmarshal(rawReq, &req); err != nil {
			responses = append(responses, response{Error: NewError(CodeInvalidRequest, "invalid request")})
			continue
		}
		if req.JSONRPC != "2.0" {
			responses = append(responses, response{Error: NewError(CodeInvalidRequest, "invalid request"), ID: req.ID})
			continue
		}
		if req.Method == "" {
			responses = append(responses, response{Error: NewError(CodeInvalidRequest, "method required"), ID: req.ID})
			continue
		}

		result, rpcErr := e.call(ctx, remote, req)

		// Notification: no id means no response expected.
		if req.ID == nil {
			continue
		}
		responses = append(responses, response{Result: result, Error: rpcErr, ID: req.ID})
	}

	// No responses means all requests were notifications.
	if len(responses) == 0 {
		return &endpoint.NoContentRenderer{}
	}
	if single {
		return &endpoint.JSONRenderer{Value: responses[0], ContentType: "application/json"}
	}
	return &endpoint.JSONRenderer{Value: responses, ContentType: "application/json"}
}

// call dispatches one request as a JSON document.
func (e *JSONRPCEndpoint) call(ctx context.Context, remote string, req request) (any, *Error) {
	payload, rpcErr := e.payload(req.Method, req.Params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	info := api.DispatchInfo{
		Method:    req.Method,
		Format:    "json",
		Transport: "jsonrpc",
		Metadata:  map[string]string{"remote_addr": remote},
	}
	resp := e.dispatcher.DispatchWith(ctx, info, &api.ValuesRequest{Payload: payload, Source: remote})
	return resultOf(req.Method, resp)
}

// payload turns JSON-RPC params into the document the method's decoder
// expects. Positional params are matched to parameter names by order; a
// method taking a single object receives its only element.
func (e *JSONRPCEndpoint) payload(name string, params json.RawMessage) ([]byte, *Error) {
	params = bytes.TrimSpace(params)
	if len(params) == 0 || bytes.Equal(params, []byte("null")) {
		return nil, nil
	}
	switch params[0] {
	case '{':
		return params, nil
	case '[':
	default:
		return nil, NewError(CodeInvalidParams, "params must be an array or object")
	}

	var list []json.RawMessage
	if err := json.Unmarshal(params, &list); err != nil {
		return nil, NewError(CodeInvalidParams, "invalid params")
	}
	m, ok := e.dispatcher.Registry().Lookup(name)
	if !ok {
		// Let the dispatcher report the unknown method.
		return nil, nil
	}

	var names []string
	types := make([]reflect.Type, 0, len(m.Params()))
	for _, p := range m.Params() {
		types = append(types, p.Type)
		if p.Kind == api.KindValue {
			names = append(names, p.Name)
		}
	}
	shape, err := api.Classify(types)
	if err != nil {
		return nil, NewError(CodeInternalError, "internal error")
	}
	if shape == api.ShapePlainObject || shape == api.ShapeComplexObject {
		if len(list) != 1 {
			return nil, NewError(CodeInvalidParams, "invalid number of params")
		}
		return list[0], nil
	}
	if len(list) != len(names) {
		return nil, NewError(CodeInvalidParams, "invalid number of params")
	}
	obj := make(map[string]json.RawMessage, len(list))
	for i, raw := range list {
		obj[names[i]] = raw
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, NewError(CodeInvalidParams, "invalid params")
	}
	return b, nil
}

// resultOf maps a dispatch response to a JSON-RPC result or error.
func resultOf(name string, resp *api.Response) (any, *Error) {
	switch {
	case resp.OK():
		return resp.Data, nil
	case resp.Status == http.StatusOK:
		// Translated application error.
		return nil, NewError(resp.Code, resp.Message)
	case resp.Message == api.MessageMethodNotFound:
		return nil, NewError(CodeMethodNotFound, "method not found: "+name)
	case resp.Message == api.MessageMethodNotSpecified:
		return nil, NewError(CodeInvalidRequest, "method required")
	case resp.Status < http.StatusInternalServerError:
		return nil, NewError(CodeInvalidParams, resp.Message)
	}
	return nil, NewError(CodeInternalError, "internal error")
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// response always carries "id", and "result" unless it carries "error".
type response struct {
	Result any
	Error  *Error
	ID     json.RawMessage
}

func (r response) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"jsonrpc":"2.0",`)
	if r.Error != nil {
		w.RawString(`"error":`)
		b, err := json.Marshal(r.Error)
		w.Raw(b, err)
	} else {
		w.RawString(`"result":`)
		b, err := endpoint.MarshalJSON(r.Result)
		w.Raw(b, err)
	}
	w.RawString(`,"id":`)
	if len(r.ID) == 0 {
		w.RawString("null")
	} else {
		w.Raw(r.ID, nil)
	}
	w.RawByte('}')
}

func (r response) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	r.MarshalEasyJSON(&w)
	return w.BuildBytes()
}

func errorRenderer(err *Error) endpoint.Renderer {
	return &endpoint.JSONRenderer{Value: response{Error: err}, ContentType: "application/json"}
}
