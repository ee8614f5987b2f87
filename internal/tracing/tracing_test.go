package tracing

import (
	"context"
	"os"
	"testing"
)

func TestGetOTLPEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected string
	}{
		{name: "default when unset", envValue: "", expected: "localhost:4318"},
		{name: "strips http scheme", envValue: "http://collector:4318", expected: "collector:4318"},
		{name: "strips https scheme", envValue: "https://collector:4318", expected: "collector:4318"},
		{name: "bare host passes through", envValue: "collector:4318", expected: "collector:4318"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", tt.envValue)
				defer os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")
			}
			if got := getOTLPEndpoint(); got != tt.expected {
				t.Errorf("getOTLPEndpoint() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestGetTraceIDWithoutSpan(t *testing.T) {
	if id := GetTraceID(context.Background()); id != "" {
		t.Errorf("GetTraceID() on empty context = %q, want empty", id)
	}
}

func TestStartSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.span")
	if ctx == nil {
		t.Error("StartSpan() returned nil context")
	}
	if span == nil {
		t.Fatal("StartSpan() returned nil span")
	}
	span.End()
}
