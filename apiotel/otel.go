// Package apiotel provides OpenTelemetry instrumentation for the dispatcher.
// It implements api.DispatchHook to trace and measure every dispatch,
// whichever transport it came from.
//
// Usage:
//
//	hook, err := apiotel.NewHook(apiotel.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	d := api.NewDispatcher(reg, api.WithHooks(hook))
package apiotel

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/guoyu07/SlimWebApi/api"
)

const instrumentationName = "github.com/guoyu07/SlimWebApi"

const rpcSystem = "slimapi"

// Config configures the instrumentation.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// Propagator extracts trace context from transport metadata.
	// Defaults to otel.GetTextMapPropagator().
	Propagator propagation.TextMapPropagator
	// EnableTracing enables span creation.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording.
	EnableMetrics bool
	// RecordErrors calls RecordError on the span for failed dispatches.
	RecordErrors bool
	// ServiceName is the rpc.service attribute value. Defaults to "slimapi".
	ServiceName string
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig enables tracing, metrics and error recording. Providers
// and the propagator are resolved from the global SDK by NewHook.
func DefaultConfig() Config {
	return Config{
		EnableTracing: true,
		EnableMetrics: true,
		RecordErrors:  true,
	}
}

type hook struct {
	cfg               Config
	tracer            trace.Tracer
	requestCounter    metric.Int64Counter
	durationHistogram metric.Float64Histogram
}

// NewHook creates a dispatch hook for cfg.
func NewHook(cfg Config) (api.DispatchHook, error) {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.Propagator == nil {
		cfg.Propagator = otel.GetTextMapPropagator()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = rpcSystem
	}

	h := &hook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}
	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		var err error
		h.requestCounter, err = meter.Int64Counter("rpc.server.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of dispatched requests"),
		)
		if err != nil {
			return nil, fmt.Errorf("apiotel: request counter: %w", err)
		}
		h.durationHistogram, err = meter.Float64Histogram("rpc.server.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of dispatched requests"),
		)
		if err != nil {
			return nil, fmt.Errorf("apiotel: duration histogram: %w", err)
		}
	}
	return h, nil
}

type spanToken struct {
	span      trace.Span
	startTime time.Time
}

// OnDispatchStart extracts the parent trace context and starts a server span.
func (h *hook) OnDispatchStart(ctx context.Context, info api.DispatchInfo) (context.Context, api.HookToken) {
	if h.cfg.Propagator != nil && info.Metadata != nil {
		ctx = h.cfg.Propagator.Extract(ctx, propagation.MapCarrier(info.Metadata))
	}

	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", rpcSystem),
		attribute.String("rpc.service", h.cfg.ServiceName),
		attribute.String("rpc.method", info.Method),
		attribute.String("slimapi.format", info.Format),
		attribute.String("slimapi.transport", info.Transport),
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)
	if v := info.Metadata["remote_addr"]; v != "" {
		attrs = append(attrs, attribute.String("net.peer.ip", v))
	}
	if v := info.Metadata["user_agent"]; v != "" {
		attrs = append(attrs, attribute.String("user_agent.original", v))
	}

	ctx, span := h.tracer.Start(ctx, rpcSystem+"/"+info.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnDispatchEnd records metrics and ends the span.
func (h *hook) OnDispatchEnd(ctx context.Context, token api.HookToken, info api.DispatchInfo, resp *api.Response) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}
	duration := time.Since(st.startTime)
	status := outcome(resp)

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("rpc.system", rpcSystem),
			attribute.String("rpc.service", h.cfg.ServiceName),
			attribute.String("rpc.method", info.Method),
			attribute.String("slimapi.transport", info.Transport),
			attribute.String("status", status),
		)
		if h.requestCounter != nil {
			h.requestCounter.Add(ctx, 1, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, duration.Seconds(), metricAttrs)
		}
	}

	if st.span == nil {
		return
	}
	defer st.span.End()
	if !st.span.IsRecording() {
		return
	}
	st.span.SetAttributes(
		attribute.Int("slimapi.status", resp.Status),
		attribute.Int("slimapi.code", resp.Code),
	)
	if resp.Encoding != "" {
		st.span.SetAttributes(attribute.String("slimapi.encoding", string(resp.Encoding)))
	}
	switch status {
	case "ok":
		st.span.SetStatus(codes.Ok, "")
	case "app_error":
		// Translated errors are part of the method contract.
		st.span.SetAttributes(attribute.String("slimapi.error_code", strconv.Itoa(resp.Code)))
		st.span.SetStatus(codes.Ok, "")
	default:
		st.span.SetStatus(codes.Error, resp.Message)
		if resp.Err != nil {
			if h.cfg.RecordErrors {
				st.span.RecordError(resp.Err)
			}
			st.span.SetAttributes(attribute.String("slimapi.error_type", fmt.Sprintf("%T", resp.Err)))
		}
	}
}

// outcome classifies a response for the status attribute.
func outcome(resp *api.Response) string {
	switch {
	case resp.OK():
		return "ok"
	case resp.Status < 400:
		return "app_error"
	case resp.Status < 500:
		return "client_error"
	}
	return "error"
}
