package dedup

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the shared Deduplicator used across horizontally scaled instances.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) IsProcessed(ctx context.Context, deliveryID string) (bool, error) {
	if deliveryID == "" {
		return false, nil
	}
	_, err := r.client.Get(ctx, keyPrefix+deliveryID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Redis) MarkProcessed(ctx context.Context, deliveryID string) error {
	if deliveryID == "" {
		return nil
	}
	return r.client.Set(ctx, keyPrefix+deliveryID, "1", r.ttl).Err()
}
