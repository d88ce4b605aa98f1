package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestNewTracerNoEndpoint(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{
		ServiceName: "opsbench-test",
	})
	defer shutdown(context.Background())

	if tracer == nil {
		t.Fatal("NewTracer() returned nil")
	}

	// No-op tracer must still produce usable spans.
	ctx, span := tracer.Start(context.Background(), "test_operation")
	if span == nil {
		t.Fatal("Start() returned nil span")
	}
	span.End()

	if ctx == nil {
		t.Fatal("Start() returned nil context")
	}
}

func TestNewTracerDefaultServiceName(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	defer shutdown(context.Background())

	if tracer.config.ServiceName != "opsbench" {
		t.Errorf("default service name = %q, want opsbench", tracer.config.ServiceName)
	}
}

func TestTracerStartWithOptions(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test"})
	defer shutdown(context.Background())

	_, span := tracer.Start(context.Background(), "op", SpanOptions{
		Attributes: []attribute.KeyValue{
			attribute.String("tool.name", "echo"),
		},
	})
	span.End()
}

func TestTracerRecordError(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test"})
	defer shutdown(context.Background())

	_, span := tracer.Start(context.Background(), "op")
	defer span.End()

	tracer.RecordError(span, errors.New("boom"))
	tracer.RecordError(span, nil) // must not panic
}

func TestTracerSetAttributesAndAddEvent(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test"})
	defer shutdown(context.Background())

	_, span := tracer.Start(context.Background(), "op")
	defer span.End()

	tracer.SetAttributes(span,
		"tool", "run_diagnostic",
		"duration_ms", int64(120),
		"success", true,
		42, "ignored-non-string-key",
	)
	tracer.AddEvent(span, "confirmation", "confirmed", true)
}

func TestDomainSpanHelpers(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test"})
	defer shutdown(context.Background())

	ctx := context.Background()

	ctx, turnSpan := tracer.TraceTurn(ctx, "sess-1", "turn-1")
	defer turnSpan.End()

	_, llmSpan := tracer.TraceLLMRequest(ctx, "openai", "gpt-4o")
	llmSpan.End()

	_, toolSpan := tracer.TraceToolExecution(ctx, "echo")
	toolSpan.End()

	_, appendSpan := tracer.TraceEventAppend(ctx, "tool_call_result")
	appendSpan.End()
}

func TestWithSpan(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test"})
	defer shutdown(context.Background())

	called := false
	err := WithSpan(context.Background(), tracer, "op", func(ctx context.Context, span trace.Span) error {
		called = true
		return nil
	})
	if err != nil {
		t.Errorf("WithSpan returned error: %v", err)
	}
	if !called {
		t.Error("WithSpan did not invoke fn")
	}

	wantErr := errors.New("inner failure")
	err = WithSpan(context.Background(), tracer, "op", func(ctx context.Context, span trace.Span) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("WithSpan error = %v, want %v", err, wantErr)
	}
}

func TestGetTraceIDNoSpan(t *testing.T) {
	if id := GetTraceID(context.Background()); id != "" {
		t.Errorf("GetTraceID without span = %q, want empty", id)
	}
}

func TestAttributeFromValue(t *testing.T) {
	tests := []struct {
		name string
		val  any
	}{
		{"string", "x"},
		{"int", 1},
		{"int64", int64(2)},
		{"float64", 3.5},
		{"bool", true},
		{"string slice", []string{"a", "b"}},
		{"fallback", struct{ A int }{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := attributeFromValue("k", tt.val)
			if kv.Key != "k" {
				t.Errorf("key = %q, want k", kv.Key)
			}
		})
	}
}
