// Package observability exposes OpenTelemetry instruments for the
// allocation protocol. A nil *Allocation records nothing.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "gigline/allocation"

const (
	OutcomeHired     = "hired"
	OutcomeExhausted = "capacity_exhausted"
	OutcomeConflict  = "conflict"
	OutcomeForbidden = "forbidden"
	OutcomeNotFound  = "not_found"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

type Allocation struct {
	attempts   metric.Int64Counter
	rollbacks  metric.Int64Counter
	cascaded   metric.Int64Counter
	invariants metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewAllocation registers the instruments on meter, or on the global
// provider's meter when nil.
func NewAllocation(meter metric.Meter) (*Allocation, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	a := &Allocation{}
	var err error
	a.attempts, err = meter.Int64Counter("gigline.hire.attempts",
		metric.WithDescription("Hire attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}
	a.rollbacks, err = meter.Int64Counter("gigline.hire.rollbacks",
		metric.WithDescription("Compensating capacity releases after a lost bid transition"),
		metric.WithUnit("{release}"),
	)
	if err != nil {
		return nil, err
	}
	a.cascaded, err = meter.Int64Counter("gigline.cascade.rejections",
		metric.WithDescription("Pending bids rejected because a gig filled"),
		metric.WithUnit("{bid}"),
	)
	if err != nil {
		return nil, err
	}
	a.invariants, err = meter.Int64Counter("gigline.invariant.violations",
		metric.WithDescription("Capacity invariant violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, err
	}
	a.duration, err = meter.Float64Histogram("gigline.hire.duration",
		metric.WithDescription("Hire protocol duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Allocation) RecordAttempt(ctx context.Context, outcome string, elapsed time.Duration) {
	if a == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	a.attempts.Add(ctx, 1, attrs)
	a.duration.Record(ctx, elapsed.Seconds(), attrs)
}

func (a *Allocation) RecordRollback(ctx context.Context) {
	if a == nil {
		return
	}
	a.rollbacks.Add(ctx, 1)
}

func (a *Allocation) RecordCascade(ctx context.Context, rejected int) {
	if a == nil || rejected == 0 {
		return
	}
	a.cascaded.Add(ctx, int64(rejected))
}

func (a *Allocation) RecordInvariantViolation(ctx context.Context, op string) {
	if a == nil {
		return
	}
	a.invariants.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
