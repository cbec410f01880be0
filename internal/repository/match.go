package repository

import (
	"context"

	"humgo/internal/domain"
)

// MatchRepository defines the persistence operations for matches.
type MatchRepository interface {
	// Upsert stores a match keyed by its pair id. Recomputing an existing
	// pair overwrites its scoring fields but keeps status and created_at.
	Upsert(ctx context.Context, match *domain.Match) error

	// GetByID retrieves a match by ID.
	GetByID(ctx context.Context, id string) (*domain.Match, error)

	// DeleteByTripA removes every match initiated by the trip and returns
	// how many were removed.
	DeleteByTripA(ctx context.Context, tripID string) (int, error)

	// ListByTrip retrieves matches where the trip is either side, closest first.
	ListByTrip(ctx context.Context, tripID string) ([]*domain.Match, error)
}
