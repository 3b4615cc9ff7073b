package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup_NoopWhenDisabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty", Config{}},
		{"endpoint but disabled", Config{Endpoint: "http://localhost:4318"}},
		{"enabled without endpoint", Config{Enabled: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := Setup(context.Background(), tt.cfg)
			if err != nil {
				t.Fatalf("Setup() error = %v", err)
			}
			if IsEnabled() {
				t.Error("IsEnabled() = true, want false")
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("shutdown error = %v", err)
			}
		})
	}
}

func TestSetup_CreatesProviderWhenConfigured(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	// Non-routable address so no actual export happens.
	shutdown, err := Setup(context.Background(), Config{
		Enabled:     true,
		Endpoint:    "http://192.0.2.1:4318",
		SampleRatio: 0.5,
	})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !IsEnabled() {
		t.Error("IsEnabled() = false after Setup")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}
	if IsEnabled() {
		t.Error("IsEnabled() = true after shutdown")
	}
}

func TestStartSpan_RecordsAttributesAndErrors(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	_, ok := StartSpan(context.Background(), "sync.push", attribute.String("table", "exercises"))
	End(ok, nil)
	_, bad := StartSpan(context.Background(), "media.fetch")
	End(bad, errors.New("timeout"))

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Name() != "sync.push" || len(spans[0].Attributes()) != 1 {
		t.Errorf("span[0] = %s %v", spans[0].Name(), spans[0].Attributes())
	}
	if spans[0].Status().Code != codes.Unset {
		t.Errorf("span[0] status = %v, want unset", spans[0].Status().Code)
	}
	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != "timeout" {
		t.Errorf("span[1] status = %+v", spans[1].Status())
	}
}
