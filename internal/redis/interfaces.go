package redis

import (
	"context"
	"time"
)

// TripCacheInterface defines the interface for trip read-through caching.
type TripCacheInterface interface {
	GetTrip(ctx context.Context, tripID string) (*CachedTrip, error)
	SetTrip(ctx context.Context, trip *CachedTrip) error
	InvalidateTrip(ctx context.Context, tripID string) error
	InvalidateTrips(ctx context.Context, tripIDs []string) error
}

// LockStoreInterface defines the interface for distributed locking.
type LockStoreInterface interface {
	AcquireTripCreateLock(ctx context.Context, userID string, ttl time.Duration) (bool, error)
	ReleaseTripCreateLock(ctx context.Context, userID string) error
}

// Ensure concrete types implement interfaces.
var (
	_ TripCacheInterface = (*CacheStore)(nil)
	_ LockStoreInterface = (*LockStore)(nil)
)
