// Package cache holds short-lived JSON views for admin screens. Each view is a
// Redis hash keyed by view name with one field per query variant, so a single
// DEL invalidates every page of the view.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AdminBatchesView caches the admin batch list.
const AdminBatchesView = "rxlearn:view:admin-drug-batches"

// DefaultTTL bounds how stale an admin view can get if an invalidation is lost.
const DefaultTTL = 30 * time.Second

type ViewCache interface {
	// Get decodes the cached variant into dst and reports whether it was present.
	Get(ctx context.Context, view, variant string, dst interface{}) (bool, error)
	Set(ctx context.Context, view, variant string, v interface{}) error
	Invalidate(ctx context.Context, views ...string) error
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to url (redis://[:password@]host:port/db) and pings it.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisFromClient(client, ttl), nil
}

func NewRedisFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, view, variant string, dst interface{}) (bool, error) {
	val, err := c.client.HGet(ctx, view, variant).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s/%s: %w", view, variant, err)
	}
	if err := json.Unmarshal(val, dst); err != nil {
		return false, fmt.Errorf("cache decode %s/%s: %w", view, variant, err)
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, view, variant string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s/%s: %w", view, variant, err)
	}
	_, err = c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, view, variant, data)
		p.Expire(ctx, view, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache set %s/%s: %w", view, variant, err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, views ...string) error {
	if len(views) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, views...).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Nop never stores anything. Used when REDIS_URL is unset.
type Nop struct{}

func (Nop) Get(context.Context, string, string, interface{}) (bool, error) { return false, nil }
func (Nop) Set(context.Context, string, string, interface{}) error         { return nil }
func (Nop) Invalidate(context.Context, ...string) error                    { return nil }
