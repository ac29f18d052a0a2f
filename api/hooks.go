package api

import "context"

// DispatchHook provides observability callpoints around dispatch.
// Implementations must be safe for concurrent use.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, resp *Response)
}

// HookToken is an opaque value returned by OnDispatchStart and passed back to
// OnDispatchEnd. Only meaningful to the DispatchHook that created it.
type HookToken interface{}

// DispatchInfo carries request metadata passed to hooks.
type DispatchInfo struct {
	Method    string
	Format    string
	Transport string
	// Metadata holds transport-level values such as trace propagation
	// headers or the remote address.
	Metadata map[string]string
}
