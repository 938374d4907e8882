package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/snow-season-service/internal/models"
)

const keyPrefix = "snow:"

// memcached rejects relative expirations beyond 30 days.
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedCache implements Cache using memcached. Values are stored in an
// envelope carrying the logical expiry; the memcached item lives for TTL plus
// retention so stale reads keep working after the logical expiry.
type MemcachedCache struct {
	client    *memcache.Client
	retention time.Duration
}

type envelope struct {
	ExpiresAt time.Time             `json:"expiresAt"`
	Data      models.ObservationSet `json:"data"`
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero. retention <= 0 uses DefaultRetention.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int, retention time.Duration) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemcachedCache{client: client, retention: retention}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// memcached keys are limited to 250 bytes without spaces or control characters.
func (c *MemcachedCache) key(k string) string {
	k = strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, keyPrefix+k)
	if len(k) > 250 {
		k = k[:250]
	}
	return k
}

func (c *MemcachedCache) load(ctx context.Context, key string) (envelope, bool, error) {
	if err := ctx.Err(); err != nil {
		return envelope{}, false, err
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return envelope{}, false, nil
		}
		return envelope{}, false, err
	}
	var env envelope
	if err := json.Unmarshal(item.Value, &env); err != nil {
		return envelope{}, false, fmt.Errorf("decode cached observations: %w", err)
	}
	return env, true, nil
}

// Get implements Cache.Get. Returns false, nil on a miss or logical expiry; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.ObservationSet, bool, error) {
	env, ok, err := c.load(ctx, key)
	if err != nil || !ok {
		return models.ObservationSet{}, false, err
	}
	if time.Now().After(env.ExpiresAt) {
		return models.ObservationSet{}, false, nil
	}
	return env.Data, true, nil
}

// GetStale implements Cache.GetStale.
func (c *MemcachedCache) GetStale(ctx context.Context, key string, maxAge time.Duration) (models.ObservationSet, bool, error) {
	env, ok, err := c.load(ctx, key)
	if err != nil || !ok {
		return models.ObservationSet{}, false, err
	}
	if time.Since(env.Data.FetchedAt) > maxAge {
		return models.ObservationSet{}, false, nil
	}
	return env.Data, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.ObservationSet, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now()
	if value.FetchedAt.IsZero() {
		value.FetchedAt = now
	}
	raw, err := json.Marshal(envelope{ExpiresAt: now.Add(ttl), Data: value})
	if err != nil {
		return err
	}
	expSec := int32((ttl + c.retention).Seconds())
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = maxRelativeExp
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expSec,
	})
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
