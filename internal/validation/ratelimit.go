package validation

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"humgo/internal/clock"
)

// RateLimiter throttles repeated actions under a key.
type RateLimiter interface {
	// IsRateLimited reports true (block) when less than cooldown has elapsed
	// since the last allowed action under key. Otherwise it records the action
	// and reports false.
	IsRateLimited(ctx context.Context, key string, cooldown time.Duration) (bool, error)

	// Reset forgets the last action recorded under key.
	Reset(ctx context.Context, key string) error
}

// limiterPruneThreshold is the map size above which stale keys are swept.
const limiterPruneThreshold = 10000

// MemoryRateLimiter is an in-process limiter. State lives as long as the
// value and is lost on restart.
type MemoryRateLimiter struct {
	mu        sync.Mutex
	clock     clock.Clock
	last      map[string]time.Time
	retention time.Duration
}

// NewMemoryRateLimiter creates a limiter using clk for time.
func NewMemoryRateLimiter(clk clock.Clock) *MemoryRateLimiter {
	if clk == nil {
		clk = clock.System{}
	}
	return &MemoryRateLimiter{
		clock:     clk,
		last:      make(map[string]time.Time),
		retention: 10 * time.Minute,
	}
}

// IsRateLimited implements RateLimiter.
func (l *MemoryRateLimiter) IsRateLimited(_ context.Context, key string, cooldown time.Duration) (bool, error) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if last, ok := l.last[key]; ok && now.Sub(last) < cooldown {
		return true, nil
	}
	l.last[key] = now

	if len(l.last) > limiterPruneThreshold {
		l.prune(now)
	}
	return false, nil
}

// Reset implements RateLimiter.
func (l *MemoryRateLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.last, key)
	return nil
}

func (l *MemoryRateLimiter) prune(now time.Time) {
	for k, t := range l.last {
		if now.Sub(t) > l.retention {
			delete(l.last, k)
		}
	}
}

// RedisRateLimiter shares cooldowns across server instances. A key is held
// with SET NX PX for the cooldown, so the first caller wins and the rest are
// blocked until it expires.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisRateLimiter creates a Redis-backed limiter.
func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, prefix: "ratelimit:"}
}

// IsRateLimited implements RateLimiter.
func (l *RedisRateLimiter) IsRateLimited(ctx context.Context, key string, cooldown time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, "1", cooldown).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Reset implements RateLimiter.
func (l *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.prefix+key).Err()
}

var (
	_ RateLimiter = (*MemoryRateLimiter)(nil)
	_ RateLimiter = (*RedisRateLimiter)(nil)
)
