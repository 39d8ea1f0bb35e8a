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

// PostgresEventRepository implements EventRepository using PostgreSQL with pgxpool
type PostgresEventRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresEventRepository creates a new PostgresEventRepository
func NewPostgresEventRepository(pool *pgxpool.Pool) *PostgresEventRepository {
	return &PostgresEventRepository{pool: pool}
}

const eventColumns = `id, name, venue, status, total_seats, available_seats, sale_start_time, event_date, created_at, updated_at`

func scanEvent(row pgx.Row) (*domain.Event, error) {
	event := &domain.Event{}
	var status string
	err := row.Scan(
		&event.ID,
		&event.Name,
		&event.Venue,
		&status,
		&event.TotalSeats,
		&event.AvailableSeats,
		&event.SaleStartTime,
		&event.EventDate,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	event.Status = domain.EventStatus(status)
	return event, nil
}

// Create inserts a new event
func (r *PostgresEventRepository) Create(ctx context.Context, event *domain.Event) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.event.create")
	defer span.End()

	query := `
		INSERT INTO events (name, venue, status, total_seats, available_seats, sale_start_time, event_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		event.Name,
		event.Venue,
		string(event.Status),
		event.TotalSeats,
		event.AvailableSeats,
		event.SaleStartTime,
		event.EventDate,
	).Scan(&event.ID, &event.CreatedAt, &event.UpdatedAt)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create event: %w", err)
	}

	span.SetAttributes(attribute.Int64("event_id", event.ID))
	span.SetStatus(codes.Ok, "")
	return nil
}

// GetByID retrieves an event by its ID
func (r *PostgresEventRepository) GetByID(ctx context.Context, id int64) (*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.event.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.Int64("event_id", id))

	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`

	event, err := scanEvent(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrEventNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return event, nil
}

// List retrieves events, optionally filtered by status
func (r *PostgresEventRepository) List(ctx context.Context, status domain.EventStatus, limit, offset int) ([]*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.event.list")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}

	var rows pgx.Rows
	var err error
	if status == "" {
		query := `SELECT ` + eventColumns + ` FROM events ORDER BY event_date LIMIT $1 OFFSET $2`
		rows, err = r.pool.Query(ctx, query, limit, offset)
	} else {
		query := `SELECT ` + eventColumns + ` FROM events WHERE status = $1 ORDER BY event_date LIMIT $2 OFFSET $3`
		rows, err = r.pool.Query(ctx, query, string(status), limit, offset)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(events)))
	span.SetStatus(codes.Ok, "")
	return events, nil
}

// Update updates mutable event fields
func (r *PostgresEventRepository) Update(ctx context.Context, event *domain.Event) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.event.update")
	defer span.End()

	span.SetAttributes(attribute.Int64("event_id", event.ID))

	query := `
		UPDATE events
		SET name = $2, venue = $3, sale_start_time = $4, event_date = $5, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		event.ID, event.Name, event.Venue, event.SaleStartTime, event.EventDate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// UpdateStatus sets an event's sale status
func (r *PostgresEventRepository) UpdateStatus(ctx context.Context, id int64, status domain.EventStatus) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.event.update_status")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", id),
		attribute.String("status", string(status)),
	)

	tag, err := r.pool.Exec(ctx,
		`UPDATE events SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetForUpdateTx locks and returns an event row inside a transaction
func (r *PostgresEventRepository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id int64) (*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.event.get_for_update")
	defer span.End()

	span.SetAttributes(attribute.Int64("event_id", id))

	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1 FOR UPDATE`

	event, err := scanEvent(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrEventNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to lock event: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return event, nil
}

// AdjustAvailableSeatsTx changes available_seats by delta and returns the new count
func (r *PostgresEventRepository) AdjustAvailableSeatsTx(ctx context.Context, tx pgx.Tx, id int64, delta int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.event.adjust_available")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", id),
		attribute.Int("delta", delta),
	)

	query := `
		UPDATE events
		SET available_seats = available_seats + $2, updated_at = NOW()
		WHERE id = $1 AND available_seats + $2 >= 0
		RETURNING available_seats
	`

	var remaining int
	err := tx.QueryRow(ctx, query, id, delta).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "would go negative")
			return 0, domain.ErrSeatUnavailable
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to adjust available seats: %w", err)
	}

	span.SetAttributes(attribute.Int("available_seats", remaining))
	span.SetStatus(codes.Ok, "")
	return remaining, nil
}

// AddSeatsTx grows an event's seat map by count inside a transaction
func (r *PostgresEventRepository) AddSeatsTx(ctx context.Context, tx pgx.Tx, id int64, count int) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.event.add_seats")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", id),
		attribute.Int("count", count),
	)

	tag, err := tx.Exec(ctx,
		`UPDATE events
		 SET total_seats = total_seats + $2, available_seats = available_seats + $2, updated_at = NOW()
		 WHERE id = $1`,
		id, count)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to add seats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// UpdateStatusTx sets an event's status inside a transaction
func (r *PostgresEventRepository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id int64, status domain.EventStatus) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.event.update_status_tx")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", id),
		attribute.String("status", string(status)),
	)

	tag, err := tx.Exec(ctx,
		`UPDATE events SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}
