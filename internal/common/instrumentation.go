package common

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	metric2 "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

// InitInstrumentation setups otel.
// Without an exporter endpoint, the global noop providers are kept.
func InitInstrumentation(serviceName, serviceVersion, serviceEnvironment, exporterEndpoint string) (func(ctx context.Context), error) {

	if exporterEndpoint == "" {
		return func(ctx context.Context) {}, nil
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
			semconv.DeploymentEnvironmentName(serviceEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to merge otel resource: %w", err)
	}

	// Metric exporter
	metricExporter, err := otlpmetricgrpc.New(
		context.Background(),
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithEndpoint(exporterEndpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	// Metric periodic reader
	metricPeriodicReader := metric.NewPeriodicReader(metricExporter, metric.WithInterval(30*time.Second))

	// Metric provider
	metricsProvider := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metricPeriodicReader),
	)

	// Register metric provider
	otel.SetMeterProvider(metricsProvider)

	err = createCustomMeters(serviceName, serviceVersion, serviceEnvironment)
	if err != nil {
		_ = metricsProvider.Shutdown(context.Background())
		_ = metricExporter.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create custom meters: %w", err)
	}

	// Trace exporter
	traceExporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(exporterEndpoint),
	)
	if err != nil {
		_ = metricsProvider.Shutdown(context.Background())
		_ = metricExporter.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	// Trace provider
	traceProvider := trace.NewTracerProvider(
		trace.WithBatcher(traceExporter),
		trace.WithResource(res),
	)

	// Register trace provider
	otel.SetTracerProvider(traceProvider)

	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(propagator)

	return func(ctx context.Context) {
		_ = metricsProvider.Shutdown(ctx)
		_ = metricExporter.Shutdown(ctx)
		_ = traceProvider.Shutdown(ctx)
		_ = traceExporter.Shutdown(ctx)
	}, nil
}

// CatalogRequestsTotal counts catalog queries by result (loaded, empty, failed)
var CatalogRequestsTotal metric2.Int64Counter = noop.Int64Counter{}

// PlayAttemptsTotal counts playback resolutions by result (success, error)
var PlayAttemptsTotal metric2.Int64Counter = noop.Int64Counter{}

// ClientEventsTotal counts analytics events by name
var ClientEventsTotal metric2.Int64Counter = noop.Int64Counter{}

var commonAttributes = metric2.WithAttributes()

func createCustomMeters(serviceName, serviceVersion, serviceEnvironment string) error {
	meter := otel.Meter(serviceName)
	var err error

	commonAttributes = metric2.WithAttributes(
		attribute.String(string(semconv.DeploymentEnvironmentNameKey), serviceEnvironment),
		attribute.String(string(semconv.ServiceVersionKey), serviceVersion),
	)

	CatalogRequestsTotal, err = meter.Int64Counter("catalog_requests_total")
	if err != nil {
		return fmt.Errorf("failed to create custom meter: %w", err)
	}
	PlayAttemptsTotal, err = meter.Int64Counter("play_attempts_total")
	if err != nil {
		return fmt.Errorf("failed to create custom meter: %w", err)
	}
	ClientEventsTotal, err = meter.Int64Counter("client_events_total")
	if err != nil {
		return fmt.Errorf("failed to create custom meter: %w", err)
	}

	return nil
}

// CatalogRequestsTotalIncr increases in 1 the catalog requests metric
func CatalogRequestsTotalIncr(ctx context.Context, result string) {
	CatalogRequestsTotal.Add(ctx, 1, commonAttributes, metric2.WithAttributes(attribute.String("result", result)))
}

// PlayAttemptsTotalIncr increases in 1 the play attempts metric
func PlayAttemptsTotalIncr(ctx context.Context, result string) {
	PlayAttemptsTotal.Add(ctx, 1, commonAttributes, metric2.WithAttributes(attribute.String("result", result)))
}

// MeterTracker records analytics events as otel counter increments.
type MeterTracker struct{}

// Track implements session.Tracker.
func (MeterTracker) Track(ctx context.Context, event string, _ map[string]any) {
	ClientEventsTotal.Add(ctx, 1, commonAttributes, metric2.WithAttributes(attribute.String("event", event)))
}
