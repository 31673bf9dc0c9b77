// Package tracing installs the OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// ShutdownFunc flushes pending spans and stops the exporter
type ShutdownFunc func(ctx context.Context) error

// Config holds tracing configuration
type Config struct {
	ServiceName string
	Environment string
	// CollectorURL is the Jaeger collector endpoint. Empty disables tracing.
	CollectorURL string
	// SampleRatio is the fraction of root spans kept, 0 < r <= 1
	SampleRatio float64
}

// Setup registers a global tracer provider exporting to Jaeger. With no
// collector configured the global provider is left as the no-op default.
func Setup(cfg Config, logger *zap.Logger) (ShutdownFunc, error) {
	if cfg.CollectorURL == "" {
		logger.Info("Tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.CollectorURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create jaeger exporter: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		)),
	)
	otel.SetTracerProvider(tp)

	logger.Info("Tracing enabled",
		zap.String("collector", cfg.CollectorURL),
		zap.Float64("sampleRatio", ratio),
	)
	return tp.Shutdown, nil
}
