// Package observability wires OpenTelemetry tracing/logging and Prometheus
// metrics for the scheduling core. It is adapted from the teacher's
// observability package (recovered here from its test-only contract, since
// only tests survived the distillation) and retargeted from MoQT
// track/broadcast attributes to simulation attributes: window, host,
// worker, graph vertex, and cache outcome.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	otlptracegrpc "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controls what Setup wires up. The zero value disables every
// feature — Setup(ctx, Config{}) is a valid no-op configuration.
type Config struct {
	// Service names the resource reported to the collector (tracer/logger
	// name fall back to this when non-empty).
	Service string
	// TraceAddr is the OTLP/gRPC collector address for spans. Tracing is
	// disabled when empty.
	TraceAddr string
	// LogAddr is the OTLP/gRPC collector address for the slog bridge.
	// Defaults to TraceAddr when empty and TraceAddr is set.
	LogAddr string
	// Metrics enables the Prometheus collectors (window-advance duration,
	// path-cache hit/miss counters, live-host gauge).
	Metrics bool
}

var (
	mu            sync.Mutex
	tracingOn     bool
	metricsOn     bool
	tracer        trace.Tracer
	shutdownFuncs []func(context.Context) error
)

// Setup wires tracing, the slog bridge, and Prometheus metrics per cfg. It
// is safe to call with a zero Config (everything stays disabled). Call
// Shutdown to release whatever this call started.
func Setup(ctx context.Context, cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	service := cfg.Service
	if service == "" {
		service = "shadowsim"
	}
	tracer = otel.Tracer(service)

	if cfg.TraceAddr != "" {
		res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
		if err != nil {
			return fmt.Errorf("observability: build resource: %w", err)
		}

		traceExp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.TraceAddr), otlptracegrpc.WithInsecure())
		if err != nil {
			return fmt.Errorf("observability: dial trace collector: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
		otel.SetTracerProvider(tp)
		tracer = tp.Tracer(service)
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)

		logAddr := cfg.LogAddr
		if logAddr == "" {
			logAddr = cfg.TraceAddr
		}
		logExp, err := otellog.New(ctx, otellog.WithEndpoint(logAddr), otellog.WithInsecure())
		if err != nil {
			return fmt.Errorf("observability: dial log collector: %w", err)
		}
		lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)), sdklog.WithResource(res))
		shutdownFuncs = append(shutdownFuncs, lp.Shutdown)

		slog.SetDefault(slog.New(otelslog.NewHandler(service, otelslog.WithLoggerProvider(lp))))

		tracingOn = true
	}

	if cfg.Metrics {
		registerMetrics()
		metricsOn = true
	}

	return nil
}

// Shutdown tears down every exporter Setup started, in reverse order,
// returning the first error encountered (if any).
func Shutdown(ctx context.Context) error {
	mu.Lock()
	funcs := shutdownFuncs
	shutdownFuncs = nil
	tracingOn = false
	metricsOn = false
	mu.Unlock()

	var firstErr error
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	resetMetrics()
	return firstErr
}

// Enabled reports whether tracing (and the OTel log bridge) is active.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return tracingOn
}

// MetricsEnabled reports whether Prometheus collectors are registered.
func MetricsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return metricsOn
}

func currentTracer() trace.Tracer {
	mu.Lock()
	defer mu.Unlock()
	if tracer == nil {
		return otel.Tracer("shadowsim")
	}
	return tracer
}

// Span wraps a trace.Span so callers never have to nil-check it: Start and
// StartWith always return a usable Span, tracing on or off, because
// otel.Tracer() hands back a no-op implementation with no provider set.
type Span struct {
	span  trace.Span
	onEnd func()
}

// End completes the span, invoking any OnEnd callback registered via
// StartWith first.
func (s *Span) End() {
	s.span.End()
	if s.onEnd != nil {
		s.onEnd()
	}
}

// Error records err on the span and marks it failed. A nil err is a no-op
// beyond the message, matching the teacher's "never panic without a
// tracer" contract.
func (s *Span) Error(err error, msg string) {
	if err != nil {
		s.span.RecordError(err)
	}
	s.span.AddEvent(msg)
}

// Event adds a named event with the given attributes.
func (s *Span) Event(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Set attaches attributes directly to the span.
func (s *Span) Set(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}

// Start begins a span named name under ctx's current trace, returning the
// derived context and the new Span.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	ctx, span := currentTracer().Start(ctx, name)
	return ctx, &Span{span: span}
}

// Option configures StartWith.
type Option func(*startOpts)

type startOpts struct {
	attrs   []attribute.KeyValue
	onStart func()
	onEnd   func()
}

// Attrs attaches the given attributes at span creation.
func Attrs(attrs ...attribute.KeyValue) Option {
	return func(o *startOpts) { o.attrs = append(o.attrs, attrs...) }
}

// OnStart registers a callback invoked synchronously once the span starts.
func OnStart(f func()) Option {
	return func(o *startOpts) { o.onStart = f }
}

// OnEnd registers a callback invoked synchronously when Span.End runs.
func OnEnd(f func()) Option {
	return func(o *startOpts) { o.onEnd = f }
}

// StartWith begins a span named name with the given Options applied.
func StartWith(ctx context.Context, name string, opts ...Option) (context.Context, *Span) {
	var o startOpts
	for _, opt := range opts {
		opt(&o)
	}

	spanOpts := make([]trace.SpanStartOption, 0, 1)
	if len(o.attrs) > 0 {
		spanOpts = append(spanOpts, trace.WithAttributes(o.attrs...))
	}
	ctx, span := currentTracer().Start(ctx, name, spanOpts...)

	if o.onStart != nil {
		o.onStart()
	}

	return ctx, &Span{span: span, onEnd: o.onEnd}
}
