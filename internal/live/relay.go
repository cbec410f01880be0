package live

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	relayChannel        = "live:changes"
	relayPublishTimeout = 2 * time.Second
)

// RedisRelay shares hub publishes between server instances over Redis
// pub/sub. Messages carry the sender's origin id so an instance ignores its
// own echoes.
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
	origin string
	logger *zap.Logger
}

// NewRedisRelay attaches a relay to hub.
func NewRedisRelay(client *redis.Client, hub *Hub, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &RedisRelay{
		client: client,
		hub:    hub,
		origin: uuid.NewString(),
		logger: logger.Named("live_relay"),
	}
	hub.SetForwarder(r.forward)
	return r
}

// Run receives changes from other instances until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, relayChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	r.logger.Info("live relay subscribed", zap.String("channel", relayChannel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			origin, topic, found := strings.Cut(msg.Payload, "|")
			if !found || origin == r.origin {
				continue
			}
			r.hub.Notify(topic)
		}
	}
}

func (r *RedisRelay) forward(topic string) {
	ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
	defer cancel()

	if err := r.client.Publish(ctx, relayChannel, r.origin+"|"+topic).Err(); err != nil {
		r.logger.Warn("failed to relay change", zap.String("topic", topic), zap.Error(err))
	}
}
