package daemon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type serverMetrics struct {
	requests    metric.Int64Counter
	synthMillis metric.Float64Histogram
	loads       metric.Int64Counter
	unloads     metric.Int64Counter
	connections metric.Int64UpDownCounter
}

func newServerMetrics() (*serverMetrics, error) {
	meter := otel.Meter("github.com/hibiki-dev/hibikid/daemon")

	requests, err := meter.Int64Counter("hibiki.requests",
		metric.WithDescription("Requests handled, by type and outcome"))
	if err != nil {
		return nil, err
	}
	synthMillis, err := meter.Float64Histogram("hibiki.synthesis.duration_ms",
		metric.WithDescription("Wall time of successful synthesis requests"))
	if err != nil {
		return nil, err
	}
	loads, err := meter.Int64Counter("hibiki.models.loads",
		metric.WithDescription("Model loads at the engine boundary"))
	if err != nil {
		return nil, err
	}
	unloads, err := meter.Int64Counter("hibiki.models.unloads",
		metric.WithDescription("Model unloads at the engine boundary"))
	if err != nil {
		return nil, err
	}
	connections, err := meter.Int64UpDownCounter("hibiki.connections.active",
		metric.WithDescription("Currently open client connections"))
	if err != nil {
		return nil, err
	}

	return &serverMetrics{
		requests:    requests,
		synthMillis: synthMillis,
		loads:       loads,
		unloads:     unloads,
		connections: connections,
	}, nil
}

func (m *serverMetrics) request(ctx context.Context, reqType, outcome string) {
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", reqType),
		attribute.String("outcome", outcome),
	))
}

func (m *serverMetrics) synthesisDuration(ctx context.Context, d time.Duration) {
	m.synthMillis.Record(ctx, float64(d.Milliseconds()))
}

func (m *serverMetrics) modelLoaded(ctx context.Context)   { m.loads.Add(ctx, 1) }
func (m *serverMetrics) modelUnloaded(ctx context.Context) { m.unloads.Add(ctx, 1) }

func (m *serverMetrics) connOpened(ctx context.Context)  { m.connections.Add(ctx, 1) }
func (m *serverMetrics) connClosed(ctx context.Context)  { m.connections.Add(ctx, -1) }
