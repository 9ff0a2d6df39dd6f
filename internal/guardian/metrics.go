package guardian

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/GalSened/RoamWise-sub002/internal/guardian"

// guardianMetrics holds the OpenTelemetry instruments for the actor loop.
// Instruments are no-ops until a meter provider is installed.
type guardianMetrics struct {
	fixes       metric.Int64Counter
	alerts      metric.Int64Counter
	transitions metric.Int64Counter
	fixDuration metric.Float64Histogram
}

func newGuardianMetrics() (*guardianMetrics, error) {
	meter := otel.Meter(meterName)

	fixes, err := meter.Int64Counter(
		"guardian.fixes",
		metric.WithDescription("Total number of GPS fixes processed"),
		metric.WithUnit("{fix}"),
	)
	if err != nil {
		return nil, err
	}

	alerts, err := meter.Int64Counter(
		"guardian.alerts",
		metric.WithDescription("Total number of safety alerts raised"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"guardian.transitions",
		metric.WithDescription("Total number of lifecycle state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	fixDuration, err := meter.Float64Histogram(
		"guardian.fix_duration_ms",
		metric.WithDescription("Time spent processing one GPS fix in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &guardianMetrics{
		fixes:       fixes,
		alerts:      alerts,
		transitions: transitions,
		fixDuration: fixDuration,
	}, nil
}

// Metric recording uses a background context so an expiring request context
// cannot drop data points.

func (m *guardianMetrics) recordFix(d time.Duration) {
	ctx := context.TODO()
	m.fixes.Add(ctx, 1)
	m.fixDuration.Record(ctx, float64(d.Nanoseconds())/1e6)
}

func (m *guardianMetrics) recordAlert(typ AlertType) {
	m.alerts.Add(context.TODO(), 1, metric.WithAttributes(
		attribute.String("type", string(typ)),
	))
}

func (m *guardianMetrics) recordTransition(from, to string) {
	m.transitions.Add(context.TODO(), 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
