package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache is the shared-state interface backed by a key-expiry store. The rate
// limiter, the claimed-job skip list, and the push-dispatch lease all live
// here rather than in process memory so any number of server instances behave
// as one. Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)

	// MarkJobClaimed records that a job has been claimed so the push
	// dispatcher skips it. IsJobClaimed reads that record.
	MarkJobClaimed(ctx context.Context, jobID uuid.UUID, ttl time.Duration) error
	IsJobClaimed(ctx context.Context, jobID uuid.UUID) (bool, error)

	// AcquireDispatchLease returns true for exactly one caller per job within
	// the TTL, so a new claimable job triggers a single push fan-out even when
	// several instances observe the same store notification.
	AcquireDispatchLease(ctx context.Context, jobID uuid.UUID, ttl time.Duration) (bool, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCache) MarkJobClaimed(ctx context.Context, jobID uuid.UUID, ttl time.Duration) error {
	return c.client.Set(ctx, ClaimedJobKey(jobID), "1", ttl).Err()
}

func (c *RedisCache) IsJobClaimed(ctx context.Context, jobID uuid.UUID) (bool, error) {
	err := c.client.Get(ctx, ClaimedJobKey(jobID)).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) AcquireDispatchLease(ctx context.Context, jobID uuid.UUID, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, DispatchLeaseKey(jobID), "1", ttl).Result()
}
