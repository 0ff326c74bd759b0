// Package telemetry wires the process's OpenTelemetry TracerProvider.
// It is a noop by default: spec.md treats distributed tracing as an
// operational nicety, not a correctness requirement, so the subprocess
// supervisor's spans (internal/subprocess) are real regardless of
// whether an exporter is configured, and simply go nowhere until one is.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Shutdown flushes and stops the configured TracerProvider.
type Shutdown func(ctx context.Context) error

// Setup installs a TracerProvider as the global default. With no
// exporter configured it still samples and batches spans in-process
// (so internal/subprocess's span attributes are exercised in tests)
// but never ships them anywhere.
func Setup(serviceName string) (Shutdown, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
