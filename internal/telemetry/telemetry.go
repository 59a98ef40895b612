// Package telemetry provides OpenTelemetry traces and metrics for tool calls,
// JSON-RPC requests and transport sessions.
package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scopeName = "github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/telemetry"

// Tool call statuses recorded on spans and metrics.
const (
	StatusOK        = "ok"
	StatusToolError = "tool_error"
	StatusError     = "error"
)

var (
	AttrToolName  = attribute.Key("mcp.tool.name")
	AttrStatus    = attribute.Key("mcp.status")
	AttrMethod    = attribute.Key("rpc.method")
	AttrErrorCode = attribute.Key("rpc.jsonrpc.error_code")
	AttrTransport = attribute.Key("mcp.transport")
)

// Config selects whether spans and metrics are exported.
type Config struct {
	Enabled     bool
	ServiceName string
}

// Instruments holds the OTEL instruments used across the server.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	ToolCalls      metric.Int64Counter
	ToolDuration   metric.Float64Histogram
	Requests       metric.Int64Counter
	ActiveSessions metric.Int64UpDownCounter
}

// Init sets up OTLP HTTP trace and metric exporters configured from the
// standard OTEL_* environment variables. When cfg.Enabled is false it
// returns no-op instruments. The returned shutdown func flushes exporters.
func Init(ctx context.Context, cfg Config) (*Instruments, func(context.Context) error, error) {
	if !cfg.Enabled {
		return NewNoop(), func(context.Context) error { return nil }, nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = "index-mcp"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(name)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := New(tp, mp)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
		)
	}
	return inst, shutdown, nil
}

// NewNoop returns instruments that record nothing.
func NewNoop() *Instruments {
	inst, err := New(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	if err != nil {
		// noop providers never fail to create instruments
		panic(err)
	}
	return inst
}

// New creates instruments from explicit providers.
func New(tp trace.TracerProvider, mp metric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter(scopeName)

	toolCalls, err := meter.Int64Counter("mcp.tool.calls",
		metric.WithDescription("Tool call count"),
		metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}

	toolDuration, err := meter.Float64Histogram("mcp.tool.duration",
		metric.WithDescription("Tool call duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	requests, err := meter.Int64Counter("mcp.rpc.requests",
		metric.WithDescription("JSON-RPC request count"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	sessions, err := meter.Int64UpDownCounter("mcp.sessions.active",
		metric.WithDescription("Open transport sessions"),
		metric.WithUnit("{session}"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:         tp.Tracer(scopeName),
		Meter:          meter,
		ToolCalls:      toolCalls,
		ToolDuration:   toolDuration,
		Requests:       requests,
		ActiveSessions: sessions,
	}, nil
}

// StartToolCall opens a span for a tool call. The returned func must be
// called exactly once with the outcome status and any execution error.
func (i *Instruments) StartToolCall(ctx context.Context, name string) (context.Context, func(status string, err error)) {
	ctx, span := i.Tracer.Start(ctx, "tool.call", trace.WithAttributes(
		AttrToolName.String(name),
	))
	start := time.Now()

	return ctx, func(status string, err error) {
		durationMs := float64(time.Since(start).Microseconds()) / 1000
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(AttrStatus.String(status))
		span.End()

		i.ToolCalls.Add(ctx, 1, metric.WithAttributes(
			AttrToolName.String(name),
			AttrStatus.String(status),
		))
		i.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
			AttrToolName.String(name),
		))
	}
}

// RecordRequest counts one JSON-RPC request. errorCode is 0 on success.
func (i *Instruments) RecordRequest(ctx context.Context, method string, errorCode int) {
	i.Requests.Add(ctx, 1, metric.WithAttributes(
		AttrMethod.String(method),
		AttrErrorCode.Int(errorCode),
	))
}

// SessionOpened and SessionClosed track live transport sessions.
func (i *Instruments) SessionOpened(ctx context.Context, transport string) {
	i.ActiveSessions.Add(ctx, 1, metric.WithAttributes(AttrTransport.String(transport)))
}

func (i *Instruments) SessionClosed(ctx context.Context, transport string) {
	i.ActiveSessions.Add(ctx, -1, metric.WithAttributes(AttrTransport.String(transport)))
}
