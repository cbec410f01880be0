package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"humgo/internal/clock"
	"humgo/internal/events"
	"humgo/internal/live"
	"humgo/internal/redis"
	"humgo/internal/repository"
	"humgo/internal/validation"
)

const (
	// DefaultWriteTimeout bounds user-initiated writes such as trip creation.
	DefaultWriteTimeout = 15 * time.Second

	eventPublishTimeout = 5 * time.Second
)

// Deps contains the collaborators shared by the services. Store and Hub are
// required; the rest fall back to in-process defaults when nil.
type Deps struct {
	Store       repository.Store
	Hub         *live.Hub
	Limiter     validation.RateLimiter
	Idempotency validation.IdempotencyTracker
	TripCache   redis.TripCacheInterface
	Locks       redis.LockStoreInterface
	Publisher   events.Publisher
	Clock       clock.Clock
	Logger      *zap.Logger

	// WriteTimeout overrides DefaultWriteTimeout when positive.
	WriteTimeout time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Hub == nil {
		d.Hub = live.NewHub()
	}
	if d.Limiter == nil {
		d.Limiter = validation.NewMemoryRateLimiter(d.Clock)
	}
	if d.Idempotency == nil {
		d.Idempotency = validation.NewMemoryIdempotencyTracker(d.Clock, 0)
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.WriteTimeout <= 0 {
		d.WriteTimeout = DefaultWriteTimeout
	}
	return d
}

// publishEvents writes events in the background. Failures are logged only.
func publishEvents(pub events.Publisher, logger *zap.Logger, evts ...events.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
		defer cancel()

		if err := pub.Publish(ctx, evts...); err != nil {
			logger.Warn("failed to publish events", zap.Int("count", len(evts)), zap.Error(err))
		}
	}()
}
