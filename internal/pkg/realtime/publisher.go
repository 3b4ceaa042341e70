// Package realtime publishes tenant-facing updates. The core only needs the
// Publish contract; subscribers render the fragment themselves.
package realtime

import (
	"context"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ringlinehq/ringline/internal/pkg/cache"
)

// ChannelPrefix namespaces tenant update channels in Redis.
const ChannelPrefix = "updates:"

// Publisher broadcasts a rendered fragment to subscribers of a tenant channel.
type Publisher interface {
	Publish(ctx context.Context, channelKey string, fragment []byte) error
}

// RedisPublisher broadcasts over Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a publisher on the shared Redis client.
func NewRedisPublisher() *RedisPublisher {
	return &RedisPublisher{client: cache.GetClient()}
}

func (p *RedisPublisher) Publish(ctx context.Context, channelKey string, fragment []byte) error {
	if err := p.client.Publish(ctx, ChannelPrefix+channelKey, fragment).Err(); err != nil {
		log.Errorf("[Realtime] Failed to publish update to %s: %v", channelKey, err)
		return err
	}
	return nil
}
