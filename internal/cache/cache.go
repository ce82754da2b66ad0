package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/forge3d/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	SetTerminalJob(ctx context.Context, job *models.Job, ttl time.Duration) error
	GetTerminalJob(ctx context.Context, jobID string) (*models.Job, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// ErrNotTerminal is returned when a non-terminal job is offered to SetTerminalJob.
var ErrNotTerminal = errors.New("job is not in a terminal state")

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

// SetTerminalJob stores the final payload of a job. Terminal payloads never
// change, so readers may serve them without asking the generation API again.
func (c *RedisCache) SetTerminalJob(ctx context.Context, job *models.Job, ttl time.Duration) error {
	if !job.Status.IsTerminal() {
		return fmt.Errorf("caching job %s: %w", job.ID, ErrNotTerminal)
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job %s: %w", job.ID, err)
	}
	return c.client.Set(ctx, TerminalJobKey(job.ID), data, ttl).Err()
}

func (c *RedisCache) GetTerminalJob(ctx context.Context, jobID string) (*models.Job, bool, error) {
	data, found, err := c.Get(ctx, TerminalJobKey(jobID))
	if err != nil || !found {
		return nil, false, err
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		// a corrupt entry is treated as a miss and dropped
		_ = c.Delete(ctx, TerminalJobKey(jobID))
		return nil, false, nil
	}
	return &job, true, nil
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

// Compile-time check that RedisCache implements Cache.
var _ Cache = (*RedisCache)(nil)
