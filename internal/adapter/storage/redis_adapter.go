package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lqvu/vending-machine/internal/port"
)

// Vending front panels retry button presses, so purchase requests carry
// an optional request id deduplicated here. The TTL only has to outlive
// the retry window.
const idempotencyKeyTTL = 24 * time.Hour

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

var _ port.CacheRepository = (*RedisAdapter)(nil)
