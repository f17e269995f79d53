package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kiranshivaraju/riskscan/pkg/models"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	SetProgress(ctx context.Context, snap models.ProgressSnapshot, ttl time.Duration) error
	GetProgress(ctx context.Context, jobID uuid.UUID) (models.ProgressSnapshot, bool, error)
	SetResult(ctx context.Context, result *models.AnalysisResult, ttl time.Duration) error
	GetResult(ctx context.Context, resultID uuid.UUID) (*models.AnalysisResult, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
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

// NewRedisCacheFromClient wraps an existing client. The caller keeps ownership.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Client exposes the underlying connection so the governor and notifier
// can share it.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
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

func (c *RedisCache) SetProgress(ctx context.Context, snap models.ProgressSnapshot, ttl time.Duration) error {
	return c.setJSON(ctx, JobProgressKey(snap.JobID), snap, ttl)
}

func (c *RedisCache) GetProgress(ctx context.Context, jobID uuid.UUID) (models.ProgressSnapshot, bool, error) {
	var snap models.ProgressSnapshot
	found, err := c.getJSON(ctx, JobProgressKey(jobID), &snap)
	return snap, found, err
}

func (c *RedisCache) SetResult(ctx context.Context, result *models.AnalysisResult, ttl time.Duration) error {
	return c.setJSON(ctx, ResultKey(result.ID), result, ttl)
}

func (c *RedisCache) GetResult(ctx context.Context, resultID uuid.UUID) (*models.AnalysisResult, bool, error) {
	var result models.AnalysisResult
	found, err := c.getJSON(ctx, ResultKey(resultID), &result)
	if !found || err != nil {
		return nil, found, err
	}
	return &result, true, nil
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

func (c *RedisCache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}

// getJSON decodes the value at key into dst. A value that no longer decodes
// is reported as a miss so callers fall back to the database.
func (c *RedisCache) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, found, err := c.Get(ctx, key)
	if !found || err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, nil
	}
	return true, nil
}
