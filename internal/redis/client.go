package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/koios/trmnl-server/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client wraps the Redis client used for short-lived counters
type Client struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewClient creates a new Redis client and verifies the connection
func NewClient(cfg config.RedisConfig, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB))

	return NewClientFromRedis(rdb, cfg.KeyPrefix, logger), nil
}

// NewClientFromRedis wraps an existing go-redis client
func NewClientFromRedis(rdb *redis.Client, prefix string, logger *zap.Logger) *Client {
	return &Client{
		client: rdb,
		prefix: prefix,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping tests the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// buildKey scopes key under the client prefix
func (c *Client) buildKey(key string) string {
	// Clean key to remove any potential path separators
	cleanKey := strings.ReplaceAll(key, "/", "_")
	if c.prefix == "" {
		return cleanKey
	}
	return c.prefix + "/" + cleanKey
}

// Incr increments key. The key and its expiry window are created together
// in one transaction, so a counter never outlives its window.
func (c *Client) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := c.buildKey(key)

	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, k, 0, window)
		incr = pipe.Incr(ctx, k)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment key %s in Redis: %w", k, err)
	}

	count := incr.Val()
	c.logger.Debug("Incremented counter",
		zap.String("key", k),
		zap.Int64("count", count))

	return count, nil
}

// Count returns the current value of key, zero when the key does not exist
func (c *Client) Count(ctx context.Context, key string) (int64, error) {
	k := c.buildKey(key)

	count, err := c.client.Get(ctx, k).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get key %s from Redis: %w", k, err)
	}

	return count, nil
}

// Reset removes key
func (c *Client) Reset(ctx context.Context, key string) error {
	k := c.buildKey(key)
	if err := c.client.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", k, err)
	}
	return nil
}
