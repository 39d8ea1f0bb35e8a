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

// PostgresSeatRepository implements SeatRepository using PostgreSQL with pgxpool
type PostgresSeatRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresSeatRepository creates a new PostgresSeatRepository
func NewPostgresSeatRepository(pool *pgxpool.Pool) *PostgresSeatRepository {
	return &PostgresSeatRepository{pool: pool}
}

const seatColumns = `id, event_id, section, seat_row, seat_number, seat_type, price, status, version, holder_id, hold_expires_at, booking_id, created_at, updated_at`

func scanSeat(row pgx.Row) (*domain.Seat, error) {
	seat := &domain.Seat{}
	var status, seatType string
	err := row.Scan(
		&seat.ID,
		&seat.EventID,
		&seat.Section,
		&seat.Row,
		&seat.SeatNumber,
		&seatType,
		&seat.Price,
		&status,
		&seat.Version,
		&seat.HolderID,
		&seat.HoldExpiresAt,
		&seat.BookingID,
		&seat.CreatedAt,
		&seat.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	seat.Status = domain.SeatStatus(status)
	seat.Type = domain.SeatType(seatType)
	return seat, nil
}

// CreateBatch inserts seats for an event in a single round trip
func (r *PostgresSeatRepository) CreateBatch(ctx context.Context, seats []*domain.Seat) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.seat.create_batch")
	defer span.End()

	span.SetAttributes(attribute.Int("count", len(seats)))

	batch := &pgx.Batch{}
	query := `
		INSERT INTO seats (event_id, section, seat_row, seat_number, seat_type, price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, version, created_at, updated_at
	`
	for _, seat := range seats {
		batch.Queue(query,
			seat.EventID, seat.Section, seat.Row, seat.SeatNumber,
			string(seat.Type), seat.Price, string(seat.Status))
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for _, seat := range seats {
		if err := results.QueryRow().Scan(&seat.ID, &seat.Version, &seat.CreatedAt, &seat.UpdatedAt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to create seat %s-%s: %w", seat.Section, seat.SeatNumber, err)
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetByID retrieves a seat by its ID
func (r *PostgresSeatRepository) GetByID(ctx context.Context, id int64) (*domain.Seat, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.seat.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.Int64("seat_id", id))

	query := `SELECT ` + seatColumns + ` FROM seats WHERE id = $1`

	seat, err := scanSeat(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrSeatNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get seat: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return seat, nil
}

// ListByEvent retrieves an event's seats, optionally filtered by status
func (r *PostgresSeatRepository) ListByEvent(ctx context.Context, eventID int64, status domain.SeatStatus, limit, offset int) ([]*domain.Seat, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.seat.list_by_event")
	defer span.End()

	span.SetAttributes(attribute.Int64("event_id", eventID))

	if limit <= 0 {
		limit = 500
	}

	var rows pgx.Rows
	var err error
	if status == "" {
		query := `SELECT ` + seatColumns + ` FROM seats WHERE event_id = $1 ORDER BY id LIMIT $2 OFFSET $3`
		rows, err = r.pool.Query(ctx, query, eventID, limit, offset)
	} else {
		query := `SELECT ` + seatColumns + ` FROM seats WHERE event_id = $1 AND status = $2 ORDER BY id LIMIT $3 OFFSET $4`
		rows, err = r.pool.Query(ctx, query, eventID, string(status), limit, offset)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list seats: %w", err)
	}
	defer rows.Close()

	var seats []*domain.Seat
	for rows.Next() {
		seat, err := scanSeat(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan seat: %w", err)
		}
		seats = append(seats, seat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate seats: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(seats)))
	span.SetStatus(codes.Ok, "")
	return seats, nil
}

// CountByStatus counts an event's seats in a given status
func (r *PostgresSeatRepository) CountByStatus(ctx context.Context, eventID int64, status domain.SeatStatus) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.seat.count_by_status")
	defer span.End()

	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM seats WHERE event_id = $1 AND status = $2`,
		eventID, string(status)).Scan(&count)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to count seats: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return count, nil
}

// GetForUpdateTx locks seat rows in ascending id order and returns them.
// Missing ids surface as domain.ErrSeatNotFound.
func (r *PostgresSeatRepository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, seatIDs []int64) ([]*domain.Seat, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.seat.get_for_update")
	defer span.End()

	span.SetAttributes(attribute.Int("seat_count", len(seatIDs)))

	query := `SELECT ` + seatColumns + ` FROM seats WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	rows, err := tx.Query(ctx, query, seatIDs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to lock seats: %w", err)
	}
	defer rows.Close()

	var seats []*domain.Seat
	for rows.Next() {
		seat, err := scanSeat(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan seat: %w", err)
		}
		seats = append(seats, seat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate seats: %w", err)
	}

	if len(seats) != len(seatIDs) {
		span.SetStatus(codes.Error, "missing seats")
		return nil, domain.ErrSeatNotFound
	}

	span.SetStatus(codes.Ok, "")
	return seats, nil
}

// UpdateStateTx applies a versioned seat state transition
func (r *PostgresSeatRepository) UpdateStateTx(ctx context.Context, tx pgx.Tx, update *SeatStateUpdate) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.seat.update_state")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("seat_id", update.SeatID),
		attribute.String("status", string(update.Status)),
		attribute.Int64("expected_version", update.ExpectedVersion),
	)

	query := `
		UPDATE seats
		SET status = $3, holder_id = $4, hold_expires_at = $5, booking_id = $6,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
	`

	tag, err := tx.Exec(ctx, query,
		update.SeatID,
		update.ExpectedVersion,
		string(update.Status),
		update.HolderID,
		update.HoldExpiresAt,
		update.BookingID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update seat state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "version conflict")
		return domain.ErrOptimisticConflict
	}

	span.SetStatus(codes.Ok, "")
	return nil
}
