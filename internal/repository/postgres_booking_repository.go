package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
	"github.com/YeonwooSung/ticketing-system/pkg/telemetry"
)

// PostgresBookingRepository implements BookingRepository using PostgreSQL with pgxpool
type PostgresBookingRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresBookingRepository creates a new PostgresBookingRepository
func NewPostgresBookingRepository(pool *pgxpool.Pool) *PostgresBookingRepository {
	return &PostgresBookingRepository{pool: pool}
}

const bookingColumns = `id, event_id, user_id, booking_reference, total_amount, status, payment_status, payment_id, created_at, updated_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	booking := &domain.Booking{}
	var status, paymentStatus string
	err := row.Scan(
		&booking.ID,
		&booking.EventID,
		&booking.UserID,
		&booking.Reference,
		&booking.TotalAmount,
		&status,
		&paymentStatus,
		&booking.PaymentID,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	booking.Status = domain.BookingStatus(status)
	booking.PaymentStatus = domain.PaymentStatus(paymentStatus)
	return booking, nil
}

// GetByID retrieves a booking with its seat lines
func (r *PostgresBookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.Int64("booking_id", id))

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	booking, err := scanBooking(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrBookingNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	if err := r.loadSeats(ctx, booking); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return booking, nil
}

// GetByReference retrieves a booking by its external reference
func (r *PostgresBookingRepository) GetByReference(ctx context.Context, reference string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get_by_reference")
	defer span.End()

	span.SetAttributes(attribute.String("booking_reference", reference))

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE booking_reference = $1`

	booking, err := scanBooking(r.pool.QueryRow(ctx, query, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrBookingNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get booking by reference: %w", err)
	}

	if err := r.loadSeats(ctx, booking); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return booking, nil
}

// ListByUser retrieves a user's bookings, newest first
func (r *PostgresBookingRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_by_user")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(bookings)))
	span.SetStatus(codes.Ok, "")
	return bookings, nil
}

// CreateTx inserts a booking and its seat lines inside a transaction
func (r *PostgresBookingRepository) CreateTx(ctx context.Context, tx pgx.Tx, booking *domain.Booking) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.create")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", booking.EventID),
		attribute.String("user_id", booking.UserID),
		attribute.String("booking_reference", booking.Reference),
	)

	query := `
		INSERT INTO bookings (event_id, user_id, booking_reference, total_amount, status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		booking.EventID,
		booking.UserID,
		booking.Reference,
		booking.TotalAmount,
		string(booking.Status),
		string(booking.PaymentStatus),
	).Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create booking: %w", err)
	}

	lineQuery := `
		INSERT INTO booking_seats (booking_id, seat_id, price)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	for i := range booking.Seats {
		line := &booking.Seats[i]
		line.BookingID = booking.ID
		if err := tx.QueryRow(ctx, lineQuery, booking.ID, line.SeatID, line.Price).Scan(&line.ID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to create booking seat line: %w", err)
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetForUpdateTx locks and returns a booking with its seat lines
func (r *PostgresBookingRepository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id int64) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get_for_update")
	defer span.End()

	span.SetAttributes(attribute.Int64("booking_id", id))

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`

	booking, err := scanBooking(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrBookingNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to lock booking: %w", err)
	}

	seats, err := r.querySeats(ctx, tx, booking.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	booking.Seats = seats

	span.SetStatus(codes.Ok, "")
	return booking, nil
}

// UpdateStatusTx updates a booking's status and payment fields
func (r *PostgresBookingRepository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id int64, status domain.BookingStatus, paymentStatus domain.PaymentStatus, paymentID *string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.update_status")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("booking_id", id),
		attribute.String("status", string(status)),
		attribute.String("payment_status", string(paymentStatus)),
	)

	query := `
		UPDATE bookings
		SET status = $2, payment_status = $3, payment_id = COALESCE($4, payment_id), updated_at = NOW()
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, query, id, string(status), string(paymentStatus), paymentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

type seatQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PostgresBookingRepository) loadSeats(ctx context.Context, booking *domain.Booking) error {
	seats, err := r.querySeats(ctx, r.pool, booking.ID)
	if err != nil {
		return err
	}
	booking.Seats = seats
	return nil
}

func (r *PostgresBookingRepository) querySeats(ctx context.Context, q seatQuerier, bookingID int64) ([]domain.BookingSeat, error) {
	rows, err := q.Query(ctx,
		`SELECT id, booking_id, seat_id, price FROM booking_seats WHERE booking_id = $1 ORDER BY id`,
		bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query booking seats: %w", err)
	}
	defer rows.Close()

	var seats []domain.BookingSeat
	for rows.Next() {
		var line domain.BookingSeat
		if err := rows.Scan(&line.ID, &line.BookingID, &line.SeatID, &line.Price); err != nil {
			return nil, fmt.Errorf("failed to scan booking seat: %w", err)
		}
		seats = append(seats, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate booking seats: %w", err)
	}
	return seats, nil
}
