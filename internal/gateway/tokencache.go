package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenCache stores operator bearer tokens until shortly before expiry.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// ErrTokenMiss is returned when no cached token is available.
var ErrTokenMiss = errors.New("token not cached")

// RedisTokenCache shares cached tokens across instances.
type RedisTokenCache struct {
	client redis.Cmdable
}

func NewRedisTokenCache(client redis.Cmdable) *RedisTokenCache {
	return &RedisTokenCache{client: client}
}

func (c *RedisTokenCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrTokenMiss
		}
		return "", err
	}
	return val, nil
}

func (c *RedisTokenCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// MemoryTokenCache is a process-local cache for tests and single-instance
// deployments without redis.
type MemoryTokenCache struct {
	mu      sync.Mutex
	entries map[string]memoryToken
	now     func() time.Time
}

type memoryToken struct {
	value     string
	expiresAt time.Time
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{
		entries: make(map[string]memoryToken),
		now:     time.Now,
	}
}

func (c *MemoryTokenCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return "", ErrTokenMiss
	}
	return entry.value, nil
}

func (c *MemoryTokenCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryToken{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}
