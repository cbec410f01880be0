package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"humgo/internal/config"
)

// redisKeyspaces maps key prefixes to the collection reported to New Relic.
// Longer prefixes come first.
var redisKeyspaces = []struct {
	prefix     string
	collection string
}{
	{"idempotency:op:", "idempotency"},
	{"idempotency:", "http_responses"},
	{"cache:trip:", "trip_cache"},
	{"lock:trip_create:", "trip_create_lock"},
	{"ratelimit:", "ratelimit"},
	{"live:changes", "live_relay"},
}

// NewRedisClient creates the Redis client used for cooldowns, idempotency,
// the trip cache, trip-create locks and the live relay.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, nrApp *newrelic.Application) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if nrApp != nil {
		client.AddHook(nrRedisHook{})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// redisCollection names the keyspace a command touches.
func redisCollection(cmd redis.Cmder) string {
	args := cmd.Args()
	if len(args) < 2 {
		return "other"
	}
	key, ok := args[1].(string)
	if !ok {
		return "other"
	}
	for _, ks := range redisKeyspaces {
		if strings.HasPrefix(key, ks.prefix) {
			return ks.collection
		}
	}
	return "other"
}

// nrRedisHook records a datastore segment per command on the request's
// New Relic transaction.
type nrRedisHook struct{}

func (nrRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (nrRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if txn := newrelic.FromContext(ctx); txn != nil {
			segment := newrelic.DatastoreSegment{
				StartTime:  txn.StartSegmentNow(),
				Product:    newrelic.DatastoreRedis,
				Operation:  cmd.Name(),
				Collection: redisCollection(cmd),
			}
			defer segment.End()
		}
		return next(ctx, cmd)
	}
}

func (nrRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if txn := newrelic.FromContext(ctx); txn != nil && len(cmds) > 0 {
			segment := newrelic.DatastoreSegment{
				StartTime:  txn.StartSegmentNow(),
				Product:    newrelic.DatastoreRedis,
				Operation:  "pipeline",
				Collection: redisCollection(cmds[0]),
			}
			defer segment.End()
		}
		return next(ctx, cmds)
	}
}
