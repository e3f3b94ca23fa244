package geo

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	cacheTTL       = time.Hour
	cacheKeyPrefix = "geoip:"
)

// ErrNotLocated means no provider could place the address.
var ErrNotLocated = errors.New("geo: address not located")

// Provider resolves an IP address to an ISO country code.
type Provider interface {
	Lookup(ctx context.Context, ip string) (string, error)
}

// Cache stores resolved country codes keyed by address.
type Cache interface {
	Get(ctx context.Context, ip string) (string, bool)
	Set(ctx context.Context, ip, countryCode string)
}

// Locator resolves a client IP to a country code by asking its providers in
// order, caching hits. When every provider fails it falls back to the
// configured default country so settlement is never blocked on geo lookup.
type Locator struct {
	providers      []Provider
	cache          Cache
	defaultCountry string
}

func NewLocator(defaultCountry string, cache Cache, providers ...Provider) *Locator {
	return &Locator{
		providers:      providers,
		cache:          cache,
		defaultCountry: defaultCountry,
	}
}

// CountryCode returns the ISO country code for ip.
func (l *Locator) CountryCode(ctx context.Context, ip string) (string, error) {
	if ip == "" || isPrivate(ip) {
		return l.defaultCountry, nil
	}

	if l.cache != nil {
		if code, ok := l.cache.Get(ctx, ip); ok {
			return code, nil
		}
	}

	for _, p := range l.providers {
		code, err := p.Lookup(ctx, ip)
		if err != nil {
			zap.L().Debug("geo provider lookup failed", zap.String("ip", ip), zap.Error(err))
			continue
		}
		if code == "" {
			continue
		}
		if l.cache != nil {
			l.cache.Set(ctx, ip, code)
		}
		return code, nil
	}

	zap.L().Warn("geo lookup fell back to default country", zap.String("ip", ip))
	return l.defaultCountry, nil
}

// isPrivate covers loopback and the RFC1918 ranges seen from local clients.
// Unparseable addresses count as private so no provider quota is wasted on
// them.
func isPrivate(ip string) bool {
	if ip == "localhost" {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}
	return parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified()
}

// RedisCache caches geo lookups in redis with a one hour TTL.
type RedisCache struct {
	client redis.Cmdable
}

func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, ip string) (string, bool) {
	code, err := c.client.Get(ctx, cacheKeyPrefix+ip).Result()
	if err != nil {
		return "", false
	}
	return code, true
}

func (c *RedisCache) Set(ctx context.Context, ip, countryCode string) {
	if err := c.client.Set(ctx, cacheKeyPrefix+ip, countryCode, cacheTTL).Err(); err != nil {
		zap.L().Debug("geo cache write failed", zap.String("ip", ip), zap.Error(err))
	}
}

// MemoryCache is an in-process Cache, for tests and single-node setups.
// Safe for concurrent use.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]string)}
}

func (c *MemoryCache) Get(_ context.Context, ip string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	code, ok := c.entries[ip]
	return code, ok
}

func (c *MemoryCache) Set(_ context.Context, ip, countryCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ip] = countryCode
}
