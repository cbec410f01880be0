package repository

import (
	"context"
	"time"

	"humgo/internal/domain"
)

// TripRepository defines the persistence operations for trips.
type TripRepository interface {
	// Create persists a new trip.
	Create(ctx context.Context, trip *domain.Trip) error

	// GetByID retrieves a trip by ID.
	GetByID(ctx context.Context, id string) (*domain.Trip, error)

	// GetForUpdate retrieves a trip and, inside a transaction, holds its row
	// until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*domain.Trip, error)

	// LockUser serialises trip writes of one user until the surrounding
	// transaction ends. Outside a transaction it is a no-op.
	LockUser(ctx context.Context, userID string) error

	// UpdateStatus sets the status and updated_at of a trip.
	UpdateStatus(ctx context.Context, id string, status domain.TripStatus, at time.Time) error

	// ListByUser retrieves the trips of a user whose status is one of
	// statuses, newest first. A limit <= 0 means no limit.
	ListByUser(ctx context.Context, userID string, statuses []domain.TripStatus, limit int) ([]*domain.Trip, error)

	// ListByStatus retrieves trips whose status is one of statuses, newest first.
	ListByStatus(ctx context.Context, statuses []domain.TripStatus, limit int) ([]*domain.Trip, error)
}
