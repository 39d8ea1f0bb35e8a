package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
	"github.com/YeonwooSung/ticketing-system/internal/repository"
	"github.com/YeonwooSung/ticketing-system/pkg/telemetry"
)

// EventAvailability summarizes seat counts per status for one event
type EventAvailability struct {
	Event  *domain.Event
	Counts map[domain.SeatStatus]int
}

// EventService manages events and their seat maps
type EventService interface {
	Create(ctx context.Context, event *domain.Event) error
	Get(ctx context.Context, eventID int64) (*domain.Event, error)
	List(ctx context.Context, status domain.EventStatus, limit, offset int) ([]*domain.Event, error)
	Update(ctx context.Context, event *domain.Event) error
	StartSale(ctx context.Context, eventID int64) (*domain.Event, error)
	CreateSeats(ctx context.Context, eventID int64, seats []*domain.Seat) error
	ListSeats(ctx context.Context, eventID int64, status domain.SeatStatus, limit, offset int) ([]*domain.Seat, error)
	Availability(ctx context.Context, eventID int64) (*EventAvailability, error)
}

type eventService struct {
	events repository.EventRepository
	seats  repository.SeatRepository
	tx     repository.TxRunner
}

// NewEventService creates an EventService
func NewEventService(events repository.EventRepository, seats repository.SeatRepository, tx repository.TxRunner) EventService {
	return &eventService{events: events, seats: seats, tx: tx}
}

// Create registers a new event. Events start in Upcoming with no seats.
func (s *eventService) Create(ctx context.Context, event *domain.Event) error {
	ctx, span := telemetry.StartSpan(ctx, "service.event.create")
	defer span.End()

	if event.Name == "" || event.Venue == "" {
		return domain.ErrInvalidEventID
	}
	event.Status = domain.EventUpcoming
	event.TotalSeats = 0
	event.AvailableSeats = 0

	if err := s.events.Create(ctx, event); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(attribute.Int64("event_id", event.ID))
	span.SetStatus(codes.Ok, "")
	return nil
}

// Get retrieves one event
func (s *eventService) Get(ctx context.Context, eventID int64) (*domain.Event, error) {
	return s.events.GetByID(ctx, eventID)
}

// List retrieves events, optionally filtered by status
func (s *eventService) List(ctx context.Context, status domain.EventStatus, limit, offset int) ([]*domain.Event, error) {
	return s.events.List(ctx, status, limit, offset)
}

// Update modifies event metadata
func (s *eventService) Update(ctx context.Context, event *domain.Event) error {
	return s.events.Update(ctx, event)
}

// StartSale transitions an upcoming event to OnSale. The sale start time must
// have passed; flipping early is rejected so clients cannot jump the gate.
func (s *eventService) StartSale(ctx context.Context, eventID int64) (*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.event.start_sale")
	defer span.End()

	span.SetAttributes(attribute.Int64("event_id", eventID))

	var event *domain.Event
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		e, err := s.events.GetForUpdateTx(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if e.Status == domain.EventOnSale {
			event = e
			return nil
		}
		if e.Status != domain.EventUpcoming {
			return domain.ErrEventNotOnSale
		}
		if time.Now().UTC().Before(e.SaleStartTime) {
			return domain.ErrSaleNotStarted
		}

		if err := s.events.UpdateStatusTx(ctx, tx, eventID, domain.EventOnSale); err != nil {
			return err
		}
		e.Status = domain.EventOnSale
		event = e
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return event, nil
}

// CreateSeats bulk-creates seats for an event and grows its availability
func (s *eventService) CreateSeats(ctx context.Context, eventID int64, seats []*domain.Seat) error {
	ctx, span := telemetry.StartSpan(ctx, "service.event.create_seats")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
		attribute.Int("seat_count", len(seats)),
	)

	if len(seats) == 0 {
		return domain.ErrNoSeatsRequested
	}
	for _, seat := range seats {
		seat.EventID = eventID
		seat.Status = domain.SeatAvailable
		if seat.Type == "" {
			seat.Type = domain.SeatRegular
		}
	}

	// Seats are batch-inserted outside the event transaction; the totals
	// update below is what reservations read, so a failed insert leaves the
	// event's counts untouched.
	if err := s.seats.CreateBatch(ctx, seats); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := s.events.GetForUpdateTx(ctx, tx, eventID); err != nil {
			return err
		}
		return s.events.AddSeatsTx(ctx, tx, eventID, len(seats))
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ListSeats retrieves an event's seats, optionally filtered by status
func (s *eventService) ListSeats(ctx context.Context, eventID int64, status domain.SeatStatus, limit, offset int) ([]*domain.Seat, error) {
	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		return nil, err
	}
	return s.seats.ListByEvent(ctx, eventID, status, limit, offset)
}

// Availability returns the event with seat counts broken down by status
func (s *eventService) Availability(ctx context.Context, eventID int64) (*EventAvailability, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.event.availability")
	defer span.End()

	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	counts := make(map[domain.SeatStatus]int, 4)
	for _, status := range []domain.SeatStatus{
		domain.SeatAvailable, domain.SeatReserved, domain.SeatBooked, domain.SeatBlocked,
	} {
		count, err := s.seats.CountByStatus(ctx, eventID, status)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		counts[status] = count
	}

	span.SetStatus(codes.Ok, "")
	return &EventAvailability{Event: event, Counts: counts}, nil
}
