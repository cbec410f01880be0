package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"humgo/internal/domain"
	"humgo/internal/repository"
)

// TripRepository is a PostgreSQL implementation of repository.TripRepository.
type TripRepository struct {
	q Querier
}

// NewTripRepository creates a trip repository on q, which is the pool or an
// open transaction.
func NewTripRepository(q Querier) *TripRepository {
	return &TripRepository{q: q}
}

// uniqueViolation is the SQLSTATE of a duplicate key.
const uniqueViolation = "23505"

const tripColumns = `id, user_id, pickup_lat, pickup_lng, pickup_address,
	dropoff_lat, dropoff_lng, dropoff_address, vehicle_type, estimated_price,
	status, created_at, updated_at`

// Create persists a new trip.
func (r *TripRepository) Create(ctx context.Context, trip *domain.Trip) error {
	query := `
		INSERT INTO trips (` + tripColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.q.ExecContext(ctx, query,
		trip.ID,
		trip.UserID,
		trip.Pickup.Latitude,
		trip.Pickup.Longitude,
		trip.Pickup.Address,
		trip.Dropoff.Latitude,
		trip.Dropoff.Longitude,
		trip.Dropoff.Address,
		string(trip.VehicleType),
		trip.EstimatedPrice,
		string(trip.Status),
		trip.CreatedAt,
		trip.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("trip %s: %w", trip.ID, repository.ErrAlreadyExists)
	}
	return err
}

// GetByID retrieves a trip by ID.
func (r *TripRepository) GetByID(ctx context.Context, id string) (*domain.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1`

	trip, err := scanTrip(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return trip, nil
}

// GetForUpdate retrieves a trip with a row lock held until the transaction
// ends.
func (r *TripRepository) GetForUpdate(ctx context.Context, id string) (*domain.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1 FOR UPDATE`

	trip, err := scanTrip(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return trip, nil
}

// LockUser takes a transaction-scoped advisory lock on the user id, so two
// instances cannot both find no open trip and insert one.
func (r *TripRepository) LockUser(ctx context.Context, userID string) error {
	_, err := r.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID)
	return err
}

// UpdateStatus sets the status and updated_at of a trip.
func (r *TripRepository) UpdateStatus(ctx context.Context, id string, status domain.TripStatus, at time.Time) error {
	query := `UPDATE trips SET status = $1, updated_at = $2 WHERE id = $3`

	result, err := r.q.ExecContext(ctx, query, string(status), at, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListByUser retrieves a user's trips in the given statuses, newest first.
func (r *TripRepository) ListByUser(ctx context.Context, userID string, statuses []domain.TripStatus, limit int) ([]*domain.Trip, error) {
	query := `
		SELECT ` + tripColumns + `
		FROM trips
		WHERE user_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC, seq DESC
		LIMIT $3
	`
	return r.list(ctx, query, userID, pq.Array(statusStrings(statuses)), limitArg(limit))
}

// ListByStatus retrieves trips in the given statuses, newest first.
func (r *TripRepository) ListByStatus(ctx context.Context, statuses []domain.TripStatus, limit int) ([]*domain.Trip, error) {
	query := `
		SELECT ` + tripColumns + `
		FROM trips
		WHERE status = ANY($1)
		ORDER BY created_at DESC, seq DESC
		LIMIT $2
	`
	return r.list(ctx, query, pq.Array(statusStrings(statuses)), limitArg(limit))
}

func (r *TripRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Trip, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []*domain.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}
	return trips, rows.Err()
}

func scanTrip(row rowScanner) (*domain.Trip, error) {
	var trip domain.Trip
	var vehicle, status string

	if err := row.Scan(
		&trip.ID,
		&trip.UserID,
		&trip.Pickup.Latitude,
		&trip.Pickup.Longitude,
		&trip.Pickup.Address,
		&trip.Dropoff.Latitude,
		&trip.Dropoff.Longitude,
		&trip.Dropoff.Address,
		&vehicle,
		&trip.EstimatedPrice,
		&status,
		&trip.CreatedAt,
		&trip.UpdatedAt,
	); err != nil {
		return nil, err
	}

	trip.VehicleType = domain.VehicleType(vehicle)
	trip.Status = domain.TripStatus(status)
	return &trip, nil
}

func statusStrings(statuses []domain.TripStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// limitArg maps "no limit" to NULL, which Postgres treats as LIMIT ALL.
func limitArg(limit int) sql.NullInt64 {
	if limit <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(limit), Valid: true}
}

// Ensure TripRepository implements repository.TripRepository.
var _ repository.TripRepository = (*TripRepository)(nil)
