// Package redisstore wraps Redis client operations used by the cache.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/slopecraft/terrain-cache/internal/core/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(o *redis.Options) { o.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     64,
		MinIdleConns: 4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Get returns the value for key and whether it was found.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveCacheOp("get", nil, time.Since(start).Seconds())
		return nil, false, nil
	}
	observability.ObserveCacheOp("get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return val, true, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Set(ctx, key, val, ttl).Err()
	observability.ObserveCacheOp("set", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	observability.ObserveCacheOp("del", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

func (c *Client) SAdd(ctx context.Context, set string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	start := time.Now()
	err := c.rdb.SAdd(ctx, set, args...).Err()
	observability.ObserveCacheOp("sadd", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SADD %q: %w", set, err)
	}
	return nil
}

func (c *Client) SRem(ctx context.Context, set string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	start := time.Now()
	err := c.rdb.SRem(ctx, set, args...).Err()
	observability.ObserveCacheOp("srem", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SREM %q: %w", set, err)
	}
	return nil
}

func (c *Client) SMembers(ctx context.Context, set string) ([]string, error) {
	start := time.Now()
	members, err := c.rdb.SMembers(ctx, set).Result()
	observability.ObserveCacheOp("smembers", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS %q: %w", set, err)
	}
	return members, nil
}

func (c *Client) HSetInt(ctx context.Context, hash, field string, v int64) error {
	start := time.Now()
	err := c.rdb.HSet(ctx, hash, field, v).Err()
	observability.ObserveCacheOp("hset", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis HSET %q %q: %w", hash, field, err)
	}
	return nil
}

func (c *Client) HDel(ctx context.Context, hash string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	start := time.Now()
	err := c.rdb.HDel(ctx, hash, fields...).Err()
	observability.ObserveCacheOp("hdel", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis HDEL %q: %w", hash, err)
	}
	return nil
}

func (c *Client) HVals(ctx context.Context, hash string) ([]string, error) {
	start := time.Now()
	vals, err := c.rdb.HVals(ctx, hash).Result()
	observability.ObserveCacheOp("hvals", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis HVALS %q: %w", hash, err)
	}
	return vals, nil
}

// ExistsEach reports, per key, whether it currently exists.
func (c *Client) ExistsEach(ctx context.Context, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	start := time.Now()
	cmds := make([]*redis.IntCmd, len(keys))
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.Exists(ctx, k)
		}
		return nil
	})
	observability.ObserveCacheOp("exists", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis EXISTS %d keys (pipeline): %w", len(keys), err)
	}
	for i, k := range keys {
		out[k] = cmds[i].Val() > 0
	}
	return out, nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
