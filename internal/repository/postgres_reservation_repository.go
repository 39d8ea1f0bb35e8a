package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
	"github.com/YeonwooSung/ticketing-system/pkg/telemetry"
)

// PostgresReservationRepository implements ReservationRepository using PostgreSQL
type PostgresReservationRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresReservationRepository creates a new PostgresReservationRepository
func NewPostgresReservationRepository(pool *pgxpool.Pool) *PostgresReservationRepository {
	return &PostgresReservationRepository{pool: pool}
}

const reservationColumns = `id, event_id, seat_id, user_id, status, expires_at, created_at, updated_at`

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	res := &domain.Reservation{}
	var status string
	err := row.Scan(
		&res.ID,
		&res.EventID,
		&res.SeatID,
		&res.UserID,
		&status,
		&res.ExpiresAt,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	res.Status = domain.ReservationStatus(status)
	return res, nil
}

// GetByID retrieves a reservation by its ID
func (r *PostgresReservationRepository) GetByID(ctx context.Context, id int64) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.Int64("reservation_id", id))

	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`

	res, err := scanReservation(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrReservationNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return res, nil
}

// ListByUser retrieves a user's reservations, newest first
func (r *PostgresReservationRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.list_by_user")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	defer rows.Close()

	var reservations []*domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reservations: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(reservations)))
	span.SetStatus(codes.Ok, "")
	return reservations, nil
}

// CreateTx inserts a reservation inside a transaction
func (r *PostgresReservationRepository) CreateTx(ctx context.Context, tx pgx.Tx, reservation *domain.Reservation) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.create")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", reservation.EventID),
		attribute.Int64("seat_id", reservation.SeatID),
		attribute.String("user_id", reservation.UserID),
	)

	query := `
		INSERT INTO reservations (event_id, seat_id, user_id, status, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		reservation.EventID,
		reservation.SeatID,
		reservation.UserID,
		string(reservation.Status),
		reservation.ExpiresAt,
	).Scan(&reservation.ID, &reservation.CreatedAt, &reservation.UpdatedAt)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetForUpdateTx locks and returns a reservation row inside a transaction
func (r *PostgresReservationRepository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id int64) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.get_for_update")
	defer span.End()

	span.SetAttributes(attribute.Int64("reservation_id", id))

	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1 FOR UPDATE`

	res, err := scanReservation(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrReservationNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to lock reservation: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return res, nil
}

// UpdateStatusTx transitions a reservation from one status to another.
// Zero affected rows means the reservation was not in the expected status.
func (r *PostgresReservationRepository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id int64, from, to domain.ReservationStatus) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.update_status")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("reservation_id", id),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	)

	tag, err := tx.Exec(ctx,
		`UPDATE reservations SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update reservation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "status conflict")
		return domain.ErrReservationNotActive
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ExtendTx pushes an active reservation's expiry forward
func (r *PostgresReservationRepository) ExtendTx(ctx context.Context, tx pgx.Tx, id int64, expiresAt time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.extend")
	defer span.End()

	span.SetAttributes(attribute.Int64("reservation_id", id))

	tag, err := tx.Exec(ctx,
		`UPDATE reservations SET expires_at = $2, updated_at = NOW() WHERE id = $1 AND status = 'active'`,
		id, expiresAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to extend reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReservationNotActive
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ListExpired returns up to limit lapsed active reservations ordered by
// expiry. This is only a candidate scan; rows are not locked here because
// the sweeper revalidates each reservation under its seat's lock.
func (r *PostgresReservationRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.list_expired")
	defer span.End()

	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list expired reservations: %w", err)
	}
	defer rows.Close()

	var reservations []*domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reservations: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(reservations)))
	span.SetStatus(codes.Ok, "")
	return reservations, nil
}
