package postgres

import (
	"context"
	"database/sql"
	"errors"

	"humgo/internal/domain"
	"humgo/internal/repository"
)

// MatchRepository is a PostgreSQL implementation of repository.MatchRepository.
type MatchRepository struct {
	q Querier
}

// NewMatchRepository creates a match repository on q.
func NewMatchRepository(q Querier) *MatchRepository {
	return &MatchRepository{q: q}
}

const matchColumns = `id, trip_a, trip_b, riders, distance_km, eta_minutes,
	pickup_address, dropoff_address, status, created_at`

// Upsert stores a match keyed by its pair id.
func (r *MatchRepository) Upsert(ctx context.Context, match *domain.Match) error {
	if match.TripA == match.TripB {
		return repository.ErrSelfMatch
	}

	query := `
		INSERT INTO matches (` + matchColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			trip_a = EXCLUDED.trip_a,
			trip_b = EXCLUDED.trip_b,
			riders = EXCLUDED.riders,
			distance_km = EXCLUDED.distance_km,
			eta_minutes = EXCLUDED.eta_minutes,
			pickup_address = EXCLUDED.pickup_address,
			dropoff_address = EXCLUDED.dropoff_address
	`

	_, err := r.q.ExecContext(ctx, query,
		match.ID,
		match.TripA,
		match.TripB,
		match.Riders,
		match.DistanceKm,
		match.EtaMinutes,
		match.PickupAddress,
		match.DropoffAddress,
		string(match.Status),
		match.CreatedAt,
	)
	return err
}

// GetByID retrieves a match by ID.
func (r *MatchRepository) GetByID(ctx context.Context, id string) (*domain.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

	match, err := scanMatch(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return match, nil
}

// DeleteByTripA removes every match initiated by the trip.
func (r *MatchRepository) DeleteByTripA(ctx context.Context, tripID string) (int, error) {
	result, err := r.q.ExecContext(ctx, `DELETE FROM matches WHERE trip_a = $1`, tripID)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ListByTrip retrieves matches where the trip is either side, closest first.
func (r *MatchRepository) ListByTrip(ctx context.Context, tripID string) ([]*domain.Match, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE trip_a = $1 OR trip_b = $1
		ORDER BY distance_km ASC, id ASC
	`

	rows, err := r.q.QueryContext(ctx, query, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*domain.Match
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, match)
	}
	return matches, rows.Err()
}

func scanMatch(row rowScanner) (*domain.Match, error) {
	var match domain.Match
	var status string

	if err := row.Scan(
		&match.ID,
		&match.TripA,
		&match.TripB,
		&match.Riders,
		&match.DistanceKm,
		&match.EtaMinutes,
		&match.PickupAddress,
		&match.DropoffAddress,
		&status,
		&match.CreatedAt,
	); err != nil {
		return nil, err
	}

	match.Status = domain.MatchStatus(status)
	return &match, nil
}

// Ensure MatchRepository implements repository.MatchRepository.
var _ repository.MatchRepository = (*MatchRepository)(nil)
