package aggregate

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the connection settings for a shared cache
type RedisConfig struct {
	Address   string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	UseTLS    bool
}

// NewRedisClient connects and pings the server
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Address, err)
	}
	return client, nil
}

// RedisCache shares view models between processes. Entries expire in Redis
// after the TTL and are re-checked against FetchedAt on read.
type RedisCache[T any] struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

// NewRedisCache creates a cache storing JSON entries under prefix
func NewRedisCache[T any](client redis.Cmdable, prefix string, ttl time.Duration, now func() time.Time, log zerolog.Logger) *RedisCache[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &RedisCache[T]{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		now:    now,
		log:    log,
	}
}

func (c *RedisCache[T]) key(k string) string {
	return c.prefix + k
}

func (c *RedisCache[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T

	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		return zero, false
	}

	var entry Entry[T]
	if err := json.Unmarshal(data, &entry); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Dropping unreadable cache entry")
		c.Invalidate(ctx, key)
		return zero, false
	}
	if !entry.valid(c.now(), c.ttl) {
		c.Invalidate(ctx, key)
		return zero, false
	}
	return entry.Data, true
}

func (c *RedisCache[T]) Put(ctx context.Context, key string, data T) {
	payload, err := json.Marshal(Entry[T]{Data: data, FetchedAt: c.now()})
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to encode cache entry")
		return
	}
	if err := c.client.Set(ctx, c.key(key), payload, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

func (c *RedisCache[T]) Invalidate(ctx context.Context, key string) {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache invalidate failed")
	}
}

func (c *RedisCache[T]) Clear(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.Warn().Err(err).Msg("Cache scan failed")
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn().Err(err).Int("keys", len(keys)).Msg("Cache clear failed")
	}
}
