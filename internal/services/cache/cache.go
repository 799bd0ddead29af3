package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Service defines cache operations
type Service interface {
	Get(ctx context.Context, namespace, query string) (any, bool)
	Set(ctx context.Context, namespace, query string, value any) error
	Clear(ctx context.Context) error
}

type entry struct {
	value     any
	createdAt time.Time
}

// Cache keeps remote query results for a short TTL
type Cache struct {
	enabled bool
	cache   *cache.Cache
	logger  *logrus.Logger
	maxSize int
}

// NewCache creates a new cache service. A zero ttl disables caching.
func NewCache(ttl time.Duration, maxSize int, logger *logrus.Logger) Service {
	if ttl <= 0 {
		return &Cache{enabled: false}
	}

	return &Cache{
		enabled: true,
		cache:   cache.New(ttl, ttl*2),
		logger:  logger,
		maxSize: maxSize,
	}
}

// Get retrieves a cached result
func (c *Cache) Get(ctx context.Context, namespace, query string) (any, bool) {
	if !c.enabled {
		return nil, false
	}

	key := c.generateKey(namespace, query)
	if val, found := c.cache.Get(key); found {
		e := val.(*entry)
		c.logger.WithFields(logrus.Fields{
			"namespace": namespace,
			"query":     query,
			"age":       time.Since(e.createdAt),
		}).Debug("Cache hit")
		return e.value, true
	}

	return nil, false
}

// Set stores a result in cache
func (c *Cache) Set(ctx context.Context, namespace, query string, value any) error {
	if !c.enabled {
		return nil
	}

	if c.maxSize > 0 && c.cache.ItemCount() >= c.maxSize {
		c.cache.DeleteExpired()
		if c.cache.ItemCount() >= c.maxSize {
			c.logger.WithField("size", c.maxSize).Debug("Cache full, result not cached")
			return nil
		}
	}

	key := c.generateKey(namespace, query)
	c.cache.SetDefault(key, &entry{value: value, createdAt: time.Now()})
	return nil
}

// Clear removes all cached entries
func (c *Cache) Clear(ctx context.Context) error {
	if !c.enabled {
		return nil
	}

	c.cache.Flush()
	c.logger.Info("Cache cleared")
	return nil
}

// generateKey hashes the normalized query so keys stay bounded
func (c *Cache) generateKey(namespace, query string) string {
	data := fmt.Sprintf("%s:%s", namespace, strings.ToLower(strings.TrimSpace(query)))
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
