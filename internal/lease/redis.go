package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"changeguard/internal/domain"
)

var _ domain.Leaser = (*RedisLeaser)(nil)

const redisKeyPrefix = "changeguard:lease:"

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLeaser keeps leases in Redis with SET NX PX. It serves workers that
// do not share a database file.
type RedisLeaser struct {
	client redis.UniversalClient
}

// NewRedisLeaser creates a leaser on client.
func NewRedisLeaser(client redis.UniversalClient) *RedisLeaser {
	return &RedisLeaser{client: client}
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Acquire sets the key if absent. Redis expires it after ttl.
func (l *RedisLeaser) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", domain.ErrValidation("lease key is required")
	}
	if ttl <= 0 {
		return "", domain.ErrValidation("lease ttl must be positive")
	}

	token := domain.NewID()
	ok, err := l.client.SetNX(ctx, redisKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return "", domain.ErrLeaseHeld
	}
	return token, nil
}

// Release deletes the key if token still owns it.
func (l *RedisLeaser) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{redisKeyPrefix + key}, token).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	return nil
}
