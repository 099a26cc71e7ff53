package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/hackgods/hospital-scheduling"

// Metrics holds the scheduling counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	BookingsTotal      metric.Int64Counter
	BookingFallbacks   metric.Int64Counter
	TransitionsTotal   metric.Int64Counter
	ReassignmentsTotal metric.Int64Counter
	DispatchTotal      metric.Int64Counter
	DispatchDurationMs metric.Float64Histogram
}

// NewMetrics registers the instruments on the given provider, or on the
// global provider when mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	bookings, err := meter.Int64Counter("appointment_bookings_total",
		metric.WithDescription("Booking attempts by outcome"),
		metric.WithUnit("{booking}"))
	if err != nil {
		return nil, err
	}

	fallbacks, err := meter.Int64Counter("appointment_booking_fallbacks_total",
		metric.WithDescription("Bookings redirected away from the requested practitioner"),
		metric.WithUnit("{booking}"))
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter("appointment_transitions_total",
		metric.WithDescription("Applied status transitions"),
		metric.WithUnit("{transition}"))
	if err != nil {
		return nil, err
	}

	reassignments, err := meter.Int64Counter("appointment_reassignments_total",
		metric.WithDescription("Practitioner cancellations resolved by reassignment or cancellation"),
		metric.WithUnit("{appointment}"))
	if err != nil {
		return nil, err
	}

	dispatch, err := meter.Int64Counter("reminder_dispatch_total",
		metric.WithDescription("Reminder dispatch attempts by outcome"),
		metric.WithUnit("{attempt}"))
	if err != nil {
		return nil, err
	}

	dispatchDur, err := meter.Float64Histogram("reminder_dispatch_duration_ms",
		metric.WithDescription("Reminder dispatch latency in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		BookingsTotal:      bookings,
		BookingFallbacks:   fallbacks,
		TransitionsTotal:   transitions,
		ReassignmentsTotal: reassignments,
		DispatchTotal:      dispatch,
		DispatchDurationMs: dispatchDur,
	}, nil
}

func (m *Metrics) RecordBooking(ctx context.Context, outcome, priority string) {
	if m == nil {
		return
	}
	m.BookingsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("priority", priority),
	))
}

func (m *Metrics) RecordFallback(ctx context.Context) {
	if m == nil {
		return
	}
	m.BookingFallbacks.Add(ctx, 1)
}

func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *Metrics) RecordReassignment(ctx context.Context, reassigned bool) {
	if m == nil {
		return
	}
	outcome := "cancelled"
	if reassigned {
		outcome = "reassigned"
	}
	m.ReassignmentsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordDispatch(ctx context.Context, channel, outcome string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("outcome", outcome),
	)
	m.DispatchTotal.Add(ctx, 1, attrs)
	m.DispatchDurationMs.Record(ctx, durationMs, attrs)
}
