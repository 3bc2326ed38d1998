package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/hibiki-dev/hibikid/internal/config"
)

// setupTelemetry installs the global tracer and meter providers. It returns
// a shutdown func and the Prometheus scrape handler; the handler is nil when
// the exporter could not be created, in which case metrics stay in-process.
func setupTelemetry(cfg config.Config, logger *slog.Logger) (func(context.Context) error, http.Handler, error) {
	ctx := context.Background()

	res, err := resource.New(ctx, resource.WithAttributes(daemonAttributes(cfg)...))
	if err != nil {
		return nil, nil, err
	}

	exporter, exporterName, err := newTraceExporter(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	tracer := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracer)
	logger.Info("telemetry initialized", slog.String("exporter", exporterName))

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	var scrape http.Handler
	if promExporter, err := prometheus.New(); err != nil {
		logger.Warn("prometheus exporter unavailable, metrics stay in-process",
			slog.String("error", err.Error()))
	} else {
		meterOpts = append(meterOpts, sdkmetric.WithReader(promExporter))
		scrape = promhttp.Handler()
	}
	meter := sdkmetric.NewMeterProvider(meterOpts...)
	otel.SetMeterProvider(meter)

	shutdown := func(ctx context.Context) error {
		return errors.Join(meter.Shutdown(ctx), tracer.Shutdown(ctx))
	}
	return shutdown, scrape, nil
}

// daemonAttributes tags every span and metric with what distinguishes one
// hibikid instance from another.
func daemonAttributes(cfg config.Config) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.ServiceName(cfg.DaemonName),
		attribute.String("deployment.environment", cfg.Environment),
		attribute.String("hibiki.engine.mode", cfg.Engine.Mode),
		attribute.String("hibiki.history.retention", cfg.History.RetentionMode),
	}
}

// newTraceExporter prefers OTLP when an endpoint is configured and falls
// back to pretty-printed stdout spans for local development.
func newTraceExporter(ctx context.Context, cfg config.Config) (sdktrace.SpanExporter, string, error) {
	if endpoint := strings.TrimSpace(cfg.Telemetry.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Telemetry.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, "", err
		}
		return exporter, "otlp " + endpoint, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, "", err
	}
	return exporter, "stdout", nil
}
