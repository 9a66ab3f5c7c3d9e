package telemetry

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/core-tools/hsu-pilot/pkg/errors"
)

const ServiceName = "hsu-pilot"

type Config struct {
	Enabled bool
	Output  io.Writer
	Pretty  bool
}

// ShutdownFunc flushes pending spans and releases the exporter
type ShutdownFunc func(ctx context.Context) error

// Setup installs a global tracer provider that writes spans to config.Output.
// When tracing is disabled the global no-op provider stays in place.
func Setup(config Config) (ShutdownFunc, error) {
	if !config.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if config.Output == nil {
		return nil, errors.NewValidationError("trace output is required", nil)
	}

	opts := []stdouttrace.Option{stdouttrace.WithWriter(config.Output)}
	if config.Pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, errors.NewInternalError("failed to create trace exporter", err)
	}

	provider := NewProvider(exporter)
	otel.SetTracerProvider(provider)

	return func(ctx context.Context) error {
		if err := provider.Shutdown(ctx); err != nil {
			return errors.NewIOError("failed to flush traces", err)
		}
		return nil
	}, nil
}

// NewProvider builds a synchronous provider so spans are written even when
// the process exits right after a run.
func NewProvider(exporter sdktrace.SpanExporter) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(attribute.String("service.name", ServiceName))
	return sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
	)
}
