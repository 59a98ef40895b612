package telemetry

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestInstruments(t *testing.T) (*Instruments, *sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	inst, err := New(tp, mp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return inst, reader, rec
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %s not recorded", name)
	return metricdata.Metrics{}
}

func TestStartToolCallRecordsSpanAndMetrics(t *testing.T) {
	inst, reader, rec := newTestInstruments(t)
	ctx := context.Background()

	_, end := inst.StartToolCall(ctx, "ide_find_files")
	end(StatusOK, nil)
	_, end = inst.StartToolCall(ctx, "ide_find_files")
	end(StatusError, errors.New("boom"))

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Name() != "tool.call" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if len(spans[1].Events()) == 0 {
		t.Error("error should be recorded on the span")
	}

	calls := findMetric(t, reader, "mcp.tool.calls")
	sum, ok := calls.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("mcp.tool.calls data = %T", calls.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("tool calls = %d, want 2", total)
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("expected one data point per status, got %d", len(sum.DataPoints))
	}
}

func TestSessionGauge(t *testing.T) {
	inst, reader, _ := newTestInstruments(t)
	ctx := context.Background()

	inst.SessionOpened(ctx, "sse")
	inst.SessionOpened(ctx, "sse")
	inst.SessionClosed(ctx, "sse")

	m := findMetric(t, reader, "mcp.sessions.active")
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 {
		t.Fatalf("sessions data = %+v", m.Data)
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("active sessions = %d, want 1", sum.DataPoints[0].Value)
	}
}

func TestInitDisabledIsNoop(t *testing.T) {
	inst, shutdown, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	_, end := inst.StartToolCall(context.Background(), "x")
	end(StatusOK, nil)
	inst.RecordRequest(context.Background(), "ping", 0)
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
