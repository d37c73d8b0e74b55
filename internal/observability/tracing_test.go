package observability

import (
	"context"
	"testing"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("WIFISIM_TRACING_ENABLED", "TRUE")
	t.Setenv("WIFISIM_TRACING_EXPORTER", "OTLP")
	t.Setenv("WIFISIM_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("WIFISIM_OTLP_ENDPOINT", "collector:4317")

	cfg, err := TracingConfigFromEnv()
	if err != nil {
		t.Fatalf("TracingConfigFromEnv: %v", err)
	}
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("config = %+v", cfg)
	}
	if cfg.ServiceName != "wifisim" {
		t.Fatalf("ServiceName = %q, want default", cfg.ServiceName)
	}
}

func TestTracingConfigIgnoresBadRatio(t *testing.T) {
	t.Setenv("WIFISIM_TRACING_SAMPLE_RATIO", "2")
	cfg, err := TracingConfigFromEnv()
	if err != nil {
		t.Fatalf("TracingConfigFromEnv: %v", err)
	}
	if cfg.SampleRatio != 1 || cfg.Enabled {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestTracingConfigRejectsMalformedValues(t *testing.T) {
	t.Setenv("WIFISIM_TRACING_ENABLED", "sometimes")
	if _, err := TracingConfigFromEnv(); err == nil {
		t.Fatalf("expected an error for a malformed boolean")
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := StartSpan(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatalf("disabled tracing produced a sampled span")
	}
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
}
