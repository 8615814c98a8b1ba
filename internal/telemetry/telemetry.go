// Package telemetry installs the OpenTelemetry meter provider that backs
// internal/metrics. Exporters are opt-in: OTLP over gRPC when an endpoint is
// configured, JSON on a writer when stdout export is enabled.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"student-sandbox/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const defaultExportInterval = 10 * time.Second

type options struct {
	writer  io.Writer
	readers []metric.Reader
}

// Option customizes InitMeterProvider.
type Option func(*options)

// WithWriter sets where the stdout exporter writes. Defaults to os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithReader attaches an extra reader, e.g. a ManualReader in tests.
func WithReader(r metric.Reader) Option {
	return func(o *options) { o.readers = append(o.readers, r) }
}

// InitMeterProvider builds a meter provider for serviceName and installs it
// as the global provider.
func InitMeterProvider(ctx context.Context, cfg config.TelemetryConfig, serviceName, serviceVersion string, logger *slog.Logger, opts ...Option) (*metric.MeterProvider, error) {
	o := &options{writer: os.Stderr}
	for _, opt := range opts {
		opt(o)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	interval := defaultExportInterval
	if cfg.ExportIntervalSeconds > 0 {
		interval = time.Duration(cfg.ExportIntervalSeconds) * time.Second
	}

	providerOpts := []metric.Option{metric.WithResource(res)}

	if cfg.OTLPEndpoint != "" {
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp metric exporter: %w", err)
		}
		providerOpts = append(providerOpts, metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(interval))))
		logger.InfoContext(ctx, "exporting metrics over otlp", "endpoint", cfg.OTLPEndpoint, "interval", interval)
	}

	if cfg.Stdout {
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(o.writer))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
		}
		providerOpts = append(providerOpts, metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(interval))))
		logger.DebugContext(ctx, "exporting metrics to writer", "interval", interval)
	}

	for _, r := range o.readers {
		providerOpts = append(providerOpts, metric.WithReader(r))
	}

	meterProvider := metric.NewMeterProvider(providerOpts...)
	otel.SetMeterProvider(meterProvider)

	return meterProvider, nil
}

// Shutdown flushes pending exports and stops the provider.
func Shutdown(ctx context.Context, meterProvider *metric.MeterProvider, logger *slog.Logger) error {
	if meterProvider == nil {
		return nil
	}
	logger.DebugContext(ctx, "shutting down meter provider")
	if err := meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	return nil
}
