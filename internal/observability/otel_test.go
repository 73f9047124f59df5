package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitTracerDisabled(t *testing.T) {
	shutdown, err := InitTracer(Config{Enabled: false})
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown func is nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("no-op shutdown returned %v", err)
	}
}

func TestInitTracerStdoutExporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := InitTracer(Config{
		Enabled: true,
		Scope:   "test",
		Backend: "badger",
	})
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if got := otel.GetTracerProvider(); got == prev {
		t.Error("global tracer provider not replaced")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInitTracerNormalizesSampleRatio(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	for _, ratio := range []float64{-1, 0, 2} {
		shutdown, err := InitTracer(Config{Enabled: true, SampleRatio: ratio})
		if err != nil {
			t.Fatalf("InitTracer(ratio=%v): %v", ratio, err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown(ratio=%v): %v", ratio, err)
		}
	}
}
