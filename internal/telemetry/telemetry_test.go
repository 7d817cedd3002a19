package telemetry

import (
	"context"
	"testing"
)

func TestParseSampleRate(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"", 0.1},
		{"  ", 0.1},
		{"0", 0},
		{"1", 1},
		{"0.25", 0.25},
		{"1.5", 0.1},
		{"-0.1", 0.1},
		{"half", 0.1},
	}
	for _, tc := range tests {
		if got := parseSampleRate(tc.raw); got != tc.want {
			t.Errorf("parseSampleRate(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", " http://collector:4318 ")
	t.Setenv("OTEL_TRACE_SAMPLE_RATE", "0.5")

	cfg := ConfigFromEnv("swarmstream", "dev")
	if cfg.Endpoint != "http://collector:4318" {
		t.Fatalf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.SampleRate != 0.5 {
		t.Fatalf("SampleRate = %v", cfg.SampleRate)
	}
	if got := stripScheme(cfg.Endpoint); got != "collector:4318" {
		t.Fatalf("stripScheme = %q", got)
	}
}

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "swarmstream"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
