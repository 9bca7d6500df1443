package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/amyangfei/redlock-go/v3/redlock"
	redis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/selivandex/biaslens/internal/adapters/config"
	"github.com/selivandex/biaslens/pkg/logger"
)

// ErrCacheMiss is returned when a key is absent or the cache is disabled
var ErrCacheMiss = redis.Nil

// Client wraps a standard Redis client for caching plus a RedLock
// manager for cross-replica run locking. A nil *Client is valid and
// behaves as a disabled cache: every read misses, every write is a
// no-op, every lock acquisition succeeds.
type Client struct {
	cache       *redis.Client
	lockManager *redlock.RedLock
}

// New creates new Redis client with caching and RedLock support
func New(cfg *config.RedisConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	cache := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	lockManager, err := redlock.NewRedLock(ctx, []string{"tcp://" + addr})
	if err != nil {
		return nil, fmt.Errorf("failed to create redlock manager: %w", err)
	}

	logger.Info("redis client initialized",
		zap.String("address", addr),
		zap.Int("db", cfg.DB),
	)

	return &Client{cache: cache, lockManager: lockManager}, nil
}

// GetString retrieves a string value from cache
func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	if c == nil {
		return "", ErrCacheMiss
	}
	return c.cache.Get(ctx, key).Result()
}

// SetString stores a string value with TTL
func (c *Client) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	return c.cache.Set(ctx, key, value, ttl).Err()
}

// Del deletes keys from cache
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c == nil {
		return nil
	}
	return c.cache.Del(ctx, keys...).Err()
}

// TryLock attempts to acquire a distributed lock. Returns true when
// the lock was acquired. Lock failure is never fatal to the caller:
// the lock only prevents duplicate work, it does not guard state.
func (c *Client) TryLock(ctx context.Context, key string, ttl time.Duration) bool {
	if c == nil {
		return true
	}
	expiry, err := c.lockManager.Lock(ctx, key, ttl)
	if err != nil || expiry <= 0 {
		logger.Debug("run lock already held",
			zap.String("key", key),
		)
		return false
	}
	return true
}

// Unlock releases a distributed lock
func (c *Client) Unlock(ctx context.Context, key string) {
	if c == nil {
		return
	}
	if err := c.lockManager.UnLock(ctx, key); err != nil {
		logger.Warn("failed to release run lock (may have expired)",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// Health checks redis health
func (c *Client) Health() error {
	if c == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.cache.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes redis connections
func (c *Client) Close() error {
	if c == nil || c.cache == nil {
		return nil
	}
	logger.Info("closing redis client")
	return c.cache.Close()
}
