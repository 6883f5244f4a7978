package service

import (
	"context"

	"github.com/aqademiq/schedule-sync/internal/infrastructure/messaging"
	"github.com/aqademiq/schedule-sync/internal/infrastructure/persistence/redis"
)

// PubSubAdapter exposes the Redis cache's pub/sub surface in the shape the
// distributed event bus expects (messaging.RedisClient).
type PubSubAdapter struct {
	cache *redis.Cache
}

// NewPubSubAdapter creates a new PubSubAdapter.
func NewPubSubAdapter(cache *redis.Cache) *PubSubAdapter {
	return &PubSubAdapter{cache: cache}
}

// Publish sends a message to the channel. The event bus hands over an
// already-serialized envelope, which must not be encoded a second time.
func (a *PubSubAdapter) Publish(ctx context.Context, channel string, message interface{}) error {
	if payload, ok := message.(string); ok {
		return a.cache.PublishRaw(ctx, channel, payload)
	}
	return a.cache.Publish(ctx, channel, message)
}

// Subscribe streams messages from the channels until ctx is cancelled.
func (a *PubSubAdapter) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	sub := a.cache.Subscribe(ctx, channels...)
	out := make(chan messaging.RedisMessage)

	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close is a no-op: the cache is shared and closed by its owner.
func (a *PubSubAdapter) Close() error {
	return nil
}
