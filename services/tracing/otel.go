// Package tracing configures the global OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/trezcool/roofest/core"
)

// Setup installs the propagators and, when enabled, an OTLP/gRPC exporter.
// Call the returned shutdown func during graceful shutdown.
func Setup(ctx context.Context, conf *core.Config) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !conf.Otel.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(conf.Otel.Endpoint),
		otlptracegrpc.WithTimeout(3 * time.Second),
	}
	if conf.Otel.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating trace exporter")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", conf.AppName),
			attribute.String("service.version", conf.Build),
			attribute.String("deployment.environment", conf.Env),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating trace resource")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(conf.Otel.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
