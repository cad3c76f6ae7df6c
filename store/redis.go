package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr      string `yaml:"addr" mapstructure:"addr"`
	Password  string `yaml:"password" mapstructure:"password"`
	DB        int    `yaml:"db" mapstructure:"db"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
	PoolSize  int    `yaml:"pool_size" mapstructure:"pool_size"`
}

// ApplyDefaults applies default values.
func (c *RedisConfig) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "resilio"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
}

// Redis is a Store backed by a Redis server. All keys are prefixed with
// the configured prefix followed by a colon separator.
type Redis struct {
	rdb    *goredis.Client
	prefix string
}

// NewRedis creates a Redis-backed store and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	cfg.ApplyDefaults()

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis store: ping %s: %w", cfg.Addr, err)
	}

	return &Redis{rdb: rdb, prefix: cfg.KeyPrefix}, nil
}

// NewRedisFromClient wraps an existing go-redis client.
func NewRedisFromClient(rdb *goredis.Client, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

// Get fetches the value for key. redis.Nil maps to absent.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.rdb.Get(ctx, r.fullKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis store: get %q: %w", key, err)
	}
	return raw, true, nil
}

// Set stores value under key with no expiration; callers own TTL
// semantics (the cache tracks expiry itself so entries survive clock
// skew between process and server).
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.rdb.Set(ctx, r.fullKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis store: set %q: %w", key, err)
	}
	return nil
}

// Remove deletes the key.
func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("redis store: remove %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) fullKey(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

var _ Store = (*Redis)(nil)
