package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockStore handles distributed locking in Redis.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

// AcquireTripCreateLock serialises trip creation for one user across server
// instances. Returns true if the lock was acquired, false if already held.
func (s *LockStore) AcquireTripCreateLock(ctx context.Context, userID string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:trip_create:%s", userID)

	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

// ReleaseTripCreateLock releases the trip creation lock for the user.
func (s *LockStore) ReleaseTripCreateLock(ctx context.Context, userID string) error {
	key := fmt.Sprintf("lock:trip_create:%s", userID)

	return s.client.Del(ctx, key).Err()
}
