package telemetry_test

import (
	"context"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/jensholdgaard/sealedbid/internal/config"
	"github.com/jensholdgaard/sealedbid/internal/telemetry"
)

func TestNewNopProvider(t *testing.T) {
	p := telemetry.NewNopProvider()

	if p.TracerProvider == nil {
		t.Fatal("TracerProvider is nil")
	}
	if p.MeterProvider == nil {
		t.Fatal("MeterProvider is nil")
	}
	if p.LoggerProvider == nil {
		t.Fatal("LoggerProvider is nil")
	}
	if p.Logger == nil {
		t.Fatal("Logger is nil")
	}
}

func TestSetup_NoEndpoint(t *testing.T) {
	p, err := telemetry.Setup(context.Background(), config.TelemetryConfig{ServiceName: "test"})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestNopProvider_Shutdown(t *testing.T) {
	p := telemetry.NewNopProvider()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestLogWithTrace_NoSpan(t *testing.T) {
	logger := slog.Default()
	if got := telemetry.LogWithTrace(context.Background(), logger); got != logger {
		t.Error("LogWithTrace() without a span should return the same logger")
	}
}

func TestLogWithTrace_WithSpan(t *testing.T) {
	p := telemetry.NewNopProvider()
	ctx, span := p.TracerProvider.Tracer("test").Start(context.Background(), "test-span")
	defer span.End()

	logger := slog.Default()
	if got := telemetry.LogWithTrace(ctx, logger); got == logger {
		t.Error("LogWithTrace() with a recording span should return an enriched logger")
	}
}

func TestNewInstruments(t *testing.T) {
	in, err := telemetry.NewInstruments(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewInstruments(noop) error = %v", err)
	}
	in.BidsAccepted.Add(context.Background(), 1)

	sdk := telemetry.NewNopProvider()
	if _, err := telemetry.NewInstruments(sdk.MeterProvider); err != nil {
		t.Fatalf("NewInstruments(sdk) error = %v", err)
	}
}
