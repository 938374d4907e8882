package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/snow-season-service/internal/models"
)

// DefaultRetention is how long entries are kept past expiry for stale fallback.
const DefaultRetention = 24 * time.Hour

// Cache stores raw provider observations keyed by normalized request.
// Get returns fresh entries only. GetStale returns an entry, expired or not,
// whose FetchedAt is within maxAge; it backs the stale fallback when the provider is down.
type Cache interface {
	Get(ctx context.Context, key string) (models.ObservationSet, bool, error)
	GetStale(ctx context.Context, key string, maxAge time.Duration) (models.ObservationSet, bool, error)
	Set(ctx context.Context, key string, value models.ObservationSet, ttl time.Duration) error
}

// InMemoryCache implements Cache with a mutex-guarded map. Expired entries stay
// readable through GetStale until retention has also elapsed, then are purged on access.
type InMemoryCache struct {
	mu        sync.RWMutex
	data      map[string]cacheEntry
	retention time.Duration
	now       func() time.Time
}

type cacheEntry struct {
	value     models.ObservationSet
	expiresAt time.Time
}

// NewInMemoryCache creates an in-memory cache with DefaultRetention.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithRetention(DefaultRetention)
}

// NewInMemoryCacheWithRetention creates an in-memory cache that keeps expired
// entries for retention. Zero retention disables stale reads of expired entries.
func NewInMemoryCacheWithRetention(retention time.Duration) *InMemoryCache {
	if retention < 0 {
		retention = 0
	}
	return &InMemoryCache{
		data:      make(map[string]cacheEntry),
		retention: retention,
		now:       time.Now,
	}
}

// Get returns (value, true, nil) on a fresh hit and (zero, false, nil) on a miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.ObservationSet, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.ObservationSet{}, false, err
	}
	now := c.now()
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return models.ObservationSet{}, false, nil
	}
	if now.After(entry.expiresAt) {
		c.purgeIfRetired(key, now)
		return models.ObservationSet{}, false, nil
	}
	return entry.value, true, nil
}

// GetStale returns the entry for key if it was fetched no more than maxAge ago,
// regardless of TTL expiry.
func (c *InMemoryCache) GetStale(ctx context.Context, key string, maxAge time.Duration) (models.ObservationSet, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.ObservationSet{}, false, err
	}
	now := c.now()
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return models.ObservationSet{}, false, nil
	}
	if now.Sub(entry.value.FetchedAt) > maxAge {
		c.purgeIfRetired(key, now)
		return models.ObservationSet{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores value with the given TTL. A zero FetchedAt is stamped with the current time.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.ObservationSet, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := c.now()
	if value.FetchedAt.IsZero() {
		value.FetchedAt = now
	}
	c.mu.Lock()
	c.data[key] = cacheEntry{value: value, expiresAt: now.Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

func (c *InMemoryCache) purgeIfRetired(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.data[key]; ok && now.After(entry.expiresAt.Add(c.retention)) {
		delete(c.data, key)
	}
}
