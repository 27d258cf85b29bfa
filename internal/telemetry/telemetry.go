// Package telemetry provides OpenTelemetry integration for reef.
//
// Telemetry is disabled by default (zero runtime overhead when off).
//
// # Configuration
//
//	REEF_OTEL_ENABLED=true            enable telemetry (default: off)
//	REEF_OTEL_STDOUT=true             write metrics to stderr (dev mode)
//	OTEL_EXPORTER_OTLP_ENDPOINT=...   OTLP gRPC endpoint (e.g. localhost:4317)
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationScope = "github.com/codereef/reef"

var shutdownFns []func(context.Context) error

// Enabled reports whether telemetry is active (REEF_OTEL_ENABLED=true).
func Enabled() bool {
	return os.Getenv("REEF_OTEL_ENABLED") == "true"
}

// Init configures the OTel meter provider. When REEF_OTEL_ENABLED is not
// "true" this installs a no-op provider and returns immediately.
func Init(ctx context.Context, serviceName, version string) error {
	if !Enabled() {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	var readers []sdkmetric.Option
	if os.Getenv("REEF_OTEL_STDOUT") == "true" {
		exp, err := stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		exp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	mp := sdkmetric.NewMeterProvider(append(readers, sdkmetric.WithResource(res))...)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)
	return nil
}

// Shutdown flushes and stops all providers installed by Init.
func Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, fn := range shutdownFns {
		_ = fn(ctx)
	}
	shutdownFns = nil
}

// Meter returns the reef meter.
func Meter() metric.Meter {
	return otel.Meter(instrumentationScope)
}
