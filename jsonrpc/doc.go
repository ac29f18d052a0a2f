// Package jsonrpc serves registered methods over JSON-RPC 2.0.
//
// This package implements the JSON-RPC 2.0 specification (https://www.jsonrpc.org/specification)
// and JSON-RPC over HTTP (https://www.simple-is-better.org/json-rpc/transport_http.html)
// on top of an api.Dispatcher, so the same methods can be reached through
// the slim HTTP protocol and through JSON-RPC.
//
// # Basic Usage
//
//	reg := api.NewRegistry(api.Options{})
//	reg.MustRegister(func(a, b int) int { return a + b }, api.Setting{Name: "math.Add", Params: []string{"a", "b"}})
//	reg.Seal()
//
//	e := jsonrpc.NewEndpoint(api.NewDispatcher(reg))
//	http.Handle("/rpc", endpoint.Handler(e.Endpoint))
//
// # Parameters
//
// Named params (an object) are passed to the method's document decoder as
// is. Positional params (an array) are matched to the method's parameter
// names by position; a method taking a single object receives the only
// array element.
//
// # Error Handling
//
// Dispatch failures map to the standard codes:
//   - CodeParseError (-32700): malformed JSON
//   - CodeInvalidRequest (-32600): not a JSON-RPC request, or no method
//   - CodeMethodNotFound (-32601)
//   - CodeInvalidParams (-32602): params that do not decode
//   - CodeInternalError (-32603): the method failed
//
// A method returning *api.Error produces an error object with that code
// and message.
//
// # Processor Integration
//
// Processors can be passed to endpoint.Handler for cross-cutting concerns:
//
//	http.Handle("/rpc", endpoint.Handler(e.Endpoint, middleware.NewAPIHeadersProcessor()))
//
// Processor errors return HTTP error responses (not JSON-RPC errors).
package jsonrpc
