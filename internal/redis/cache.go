package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStore handles entity caching in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// TripCacheTTL bounds how stale a cached trip can be if an invalidation is lost.
const TripCacheTTL = 60 * time.Second

const tripCachePrefix = "cache:trip:"

// CachedTrip represents a cached trip entity.
type CachedTrip struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	PickupLat      float64   `json:"pickup_lat"`
	PickupLng      float64   `json:"pickup_lng"`
	PickupAddress  string    `json:"pickup_address"`
	DropoffLat     float64   `json:"dropoff_lat"`
	DropoffLng     float64   `json:"dropoff_lng"`
	DropoffAddress string    `json:"dropoff_address"`
	VehicleType    string    `json:"vehicle_type"`
	EstimatedPrice float64   `json:"estimated_price"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GetTrip retrieves a trip from cache. A miss returns nil, nil.
func (s *CacheStore) GetTrip(ctx context.Context, tripID string) (*CachedTrip, error) {
	data, err := s.client.Get(ctx, tripCachePrefix+tripID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var trip CachedTrip
	if err := json.Unmarshal(data, &trip); err != nil {
		return nil, err
	}
	return &trip, nil
}

// SetTrip stores a trip in cache.
func (s *CacheStore) SetTrip(ctx context.Context, trip *CachedTrip) error {
	data, err := json.Marshal(trip)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, tripCachePrefix+trip.ID, data, TripCacheTTL).Err()
}

// InvalidateTrip removes a trip from cache.
func (s *CacheStore) InvalidateTrip(ctx context.Context, tripID string) error {
	return s.client.Del(ctx, tripCachePrefix+tripID).Err()
}

// InvalidateTrips removes several trips in one pipeline.
func (s *CacheStore) InvalidateTrips(ctx context.Context, tripIDs []string) error {
	if len(tripIDs) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, id := range tripIDs {
		pipe.Del(ctx, tripCachePrefix+id)
	}

	_, err := pipe.Exec(ctx)
	return err
}
