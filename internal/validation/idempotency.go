package validation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"humgo/internal/clock"
)

// IdempotencyWindow is the width of the time bucket folded into idempotency
// keys. Identical operations in different windows are distinct.
const IdempotencyWindow = time.Minute

// GenerateIdempotencyKey composes op, args and the current window number.
func GenerateIdempotencyKey(now time.Time, op string, args ...string) string {
	bucket := now.UnixMilli() / IdempotencyWindow.Milliseconds()
	return fmt.Sprintf("%s:%s:%d", op, strings.Join(args, ":"), bucket)
}

// IdempotencyTracker remembers processed operation keys.
type IdempotencyTracker interface {
	// IsOperationProcessed reports true if key was already seen; otherwise it
	// records key and reports false.
	IsOperationProcessed(ctx context.Context, key string) (bool, error)

	// Release forgets key so a failed operation can be retried.
	Release(ctx context.Context, key string) error
}

// MemoryIdempotencyTracker is a bounded TTL cache of processed keys.
// Expired keys are dropped first; when the cache is still full the entries
// closest to expiry are evicted.
type MemoryIdempotencyTracker struct {
	mu       sync.Mutex
	clock    clock.Clock
	ttl      time.Duration
	capacity int
	expires  map[string]time.Time
}

// NewMemoryIdempotencyTracker creates a tracker. Keys live for two windows,
// which covers any key generated by GenerateIdempotencyKey.
func NewMemoryIdempotencyTracker(clk clock.Clock, capacity int) *MemoryIdempotencyTracker {
	if clk == nil {
		clk = clock.System{}
	}
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryIdempotencyTracker{
		clock:    clk,
		ttl:      2 * IdempotencyWindow,
		capacity: capacity,
		expires:  make(map[string]time.Time),
	}
}

// IsOperationProcessed implements IdempotencyTracker.
func (t *MemoryIdempotencyTracker) IsOperationProcessed(_ context.Context, key string) (bool, error) {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if exp, ok := t.expires[key]; ok && now.Before(exp) {
		return true, nil
	}

	if len(t.expires) >= t.capacity {
		t.evict(now)
	}
	t.expires[key] = now.Add(t.ttl)
	return false, nil
}

// Release implements IdempotencyTracker.
func (t *MemoryIdempotencyTracker) Release(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.expires, key)
	return nil
}

// Len returns the number of tracked keys.
func (t *MemoryIdempotencyTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.expires)
}

func (t *MemoryIdempotencyTracker) evict(now time.Time) {
	for k, exp := range t.expires {
		if !now.Before(exp) {
			delete(t.expires, k)
		}
	}
	for len(t.expires) >= t.capacity {
		var oldestKey string
		var oldest time.Time
		for k, exp := range t.expires {
			if oldestKey == "" || exp.Before(oldest) {
				oldestKey, oldest = k, exp
			}
		}
		delete(t.expires, oldestKey)
	}
}

// RedisIdempotencyTracker stores processed keys in Redis with a TTL.
type RedisIdempotencyTracker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotencyTracker creates a Redis-backed tracker.
func NewRedisIdempotencyTracker(client *redis.Client) *RedisIdempotencyTracker {
	return &RedisIdempotencyTracker{client: client, ttl: 2 * IdempotencyWindow}
}

// IsOperationProcessed implements IdempotencyTracker.
func (t *RedisIdempotencyTracker) IsOperationProcessed(ctx context.Context, key string) (bool, error) {
	ok, err := t.client.SetNX(ctx, "idempotency:op:"+key, "1", t.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Release implements IdempotencyTracker.
func (t *RedisIdempotencyTracker) Release(ctx context.Context, key string) error {
	return t.client.Del(ctx, "idempotency:op:"+key).Err()
}

var (
	_ IdempotencyTracker = (*MemoryIdempotencyTracker)(nil)
	_ IdempotencyTracker = (*RedisIdempotencyTracker)(nil)
)
