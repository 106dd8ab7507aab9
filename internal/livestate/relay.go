package livestate

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DefaultRelayChannel is the Redis channel carrying live messages.
const DefaultRelayChannel = "coldchain:live"

// RedisRelay shares live messages between instances. Messages are published
// to Redis only; every instance, including the sender, delivers them to its
// hub when they come back on the subscription.
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *zap.Logger
	ready   chan struct{}
}

// NewRedisRelay constructs a relay.
func NewRedisRelay(client *redis.Client, channel string, hub *Hub, logger *zap.Logger) (*RedisRelay, error) {
	if client == nil {
		return nil, errors.New("live relay: nil redis client")
	}
	if hub == nil {
		return nil, errors.New("live relay: nil hub")
	}
	if channel == "" {
		channel = DefaultRelayChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{client: client, channel: channel, hub: hub, logger: logger, ready: make(chan struct{})}, nil
}

// Broadcast implements Broadcaster. When Redis is unreachable the message is
// still delivered to local subscribers.
func (r *RedisRelay) Broadcast(ctx context.Context, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Warn("live relay marshal failed", zap.Error(err))
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("live relay publish failed, delivering locally", zap.Error(err))
		r.hub.Publish(msg)
	}
}

// Ready is closed once the subscription is active.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run subscribes to the relay channel and feeds the hub until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	close(r.ready)
	r.logger.Info("live relay subscribed", zap.String("channel", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.logger.Warn("live relay decode failed", zap.Error(err))
				continue
			}
			r.hub.Publish(msg)
		}
	}
}
