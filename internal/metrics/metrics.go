// Package metrics holds the application's OpenTelemetry instruments.
package metrics

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/YeonwooSung/ticketing-system/pkg/telemetry"
)

var (
	// Reservation counters
	ReservationsCreated   *telemetry.Counter
	ReservationsExpired   *telemetry.Counter
	ReservationsCancelled *telemetry.Counter
	ReservationsFailed    *telemetry.Counter

	// Booking counters
	BookingsCreated   *telemetry.Counter
	BookingsConfirmed *telemetry.Counter
	BookingsCancelled *telemetry.Counter
	BookingsFailed    *telemetry.Counter

	// Queue counters
	QueueEnqueued     *telemetry.Counter
	QueueDeadLettered *telemetry.Counter

	// Histograms
	QueueProcessingDuration *telemetry.Histogram
	LockWaitDuration        *telemetry.Histogram

	// Gauges
	ActiveReservations *telemetry.UpDownCounter

	initOnce sync.Once
	initErr  error
)

// Init initializes all instruments
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	var err error

	ReservationsCreated, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reservations_created_total",
		Description: "Total number of seat reservations created",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	ReservationsExpired, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reservations_expired_total",
		Description: "Total number of reservations returned by the sweeper",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	ReservationsCancelled, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reservations_cancelled_total",
		Description: "Total number of reservations cancelled by users",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	ReservationsFailed, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reservations_failed_total",
		Description: "Total number of failed reservation attempts",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	BookingsCreated, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "bookings_created_total",
		Description: "Total number of bookings created",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	BookingsConfirmed, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "bookings_confirmed_total",
		Description: "Total number of bookings confirmed",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	BookingsCancelled, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "bookings_cancelled_total",
		Description: "Total number of bookings cancelled",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	BookingsFailed, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "bookings_failed_total",
		Description: "Total number of bookings failed by payment",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	QueueEnqueued, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "queue_enqueued_total",
		Description: "Total number of requests admitted to the priority queue",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	QueueDeadLettered, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "queue_dead_lettered_total",
		Description: "Total number of requests moved to the dead-letter stream",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	QueueProcessingDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "queue_processing_duration_seconds",
		Description: "Time from dequeue to terminal status",
		Unit:        "s",
	}, []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
	if err != nil {
		return err
	}

	LockWaitDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "lock_wait_duration_seconds",
		Description: "Time spent acquiring seat locks",
		Unit:        "s",
	}, []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5})
	if err != nil {
		return err
	}

	ActiveReservations, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "active_reservations",
		Description: "Current number of active reservations",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	return nil
}

func eventAttr(eventID int64) attribute.KeyValue {
	return attribute.String("event_id", strconv.FormatInt(eventID, 10))
}

// RecordReservation records created reservations
func RecordReservation(ctx context.Context, eventID int64, count int) {
	if ReservationsCreated != nil {
		ReservationsCreated.Add(ctx, int64(count), eventAttr(eventID))
	}
	if ActiveReservations != nil {
		ActiveReservations.Add(ctx, int64(count))
	}
}

// RecordExpiration records reservations returned by the sweeper
func RecordExpiration(ctx context.Context, eventID int64, count int64) {
	if ReservationsExpired != nil {
		ReservationsExpired.Add(ctx, count, eventAttr(eventID))
	}
	if ActiveReservations != nil {
		ActiveReservations.Add(ctx, -count)
	}
}

// RecordCancellation records a user-cancelled reservation
func RecordCancellation(ctx context.Context, eventID int64) {
	if ReservationsCancelled != nil {
		ReservationsCancelled.Inc(ctx, eventAttr(eventID))
	}
	if ActiveReservations != nil {
		ActiveReservations.Dec(ctx)
	}
}

// RecordReservationFailure records a failed reservation attempt
func RecordReservationFailure(ctx context.Context, eventID int64, reason string) {
	if ReservationsFailed != nil {
		ReservationsFailed.Inc(ctx, eventAttr(eventID), attribute.String("reason", reason))
	}
}

// RecordEnqueue records a request admitted to the queue
func RecordEnqueue(ctx context.Context, eventID int64, priority string) {
	if QueueEnqueued != nil {
		QueueEnqueued.Inc(ctx, eventAttr(eventID), attribute.String("priority", priority))
	}
}

// RecordDeadLetter records a request moved to the dead-letter stream
func RecordDeadLetter(ctx context.Context, eventID int64) {
	if QueueDeadLettered != nil {
		QueueDeadLettered.Inc(ctx, eventAttr(eventID))
	}
}

// RecordProcessing records how long a queued request took to reach a terminal state
func RecordProcessing(ctx context.Context, eventID int64, seconds float64, outcome string) {
	if QueueProcessingDuration != nil {
		QueueProcessingDuration.Record(ctx, seconds, eventAttr(eventID), attribute.String("outcome", outcome))
	}
}

// RecordLockWait records time spent acquiring seat locks
func RecordLockWait(ctx context.Context, seconds float64) {
	if LockWaitDuration != nil {
		LockWaitDuration.Record(ctx, seconds)
	}
}
