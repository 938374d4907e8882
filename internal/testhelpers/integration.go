//go:build integration
// +build integration

// Package testhelpers builds live-provider wiring for integration tests.
package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/snow-season-service/internal/cache"
	"github.com/kjstillabower/snow-season-service/internal/client"
	"github.com/kjstillabower/snow-season-service/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
	Region        string // region analysed by end-to-end tests
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test unless PROVIDER_API_KEY and PROVIDER_URL are set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("PROVIDER_API_KEY")
	if apiKey == "" {
		t.Skip("PROVIDER_API_KEY not set, skipping integration test")
	}
	apiURL := os.Getenv("PROVIDER_URL")
	if apiURL == "" {
		t.Skip("PROVIDER_URL not set, skipping integration test")
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	return IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        apiURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
		Region:        os.Getenv("INTEGRATION_REGION"),
	}
}

// SetupIntegrationClient creates a provider client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.HTTPProviderClient {
	t.Helper()
	c, err := client.NewHTTPProviderClientWithRetry(cfg.APIKey, cfg.APIURL, 30*time.Second, client.RetryConfig{
		Attempts:  2,
		BaseDelay: 200 * time.Millisecond,
		MaxDelay:  time.Second,
	})
	if err != nil {
		t.Fatalf("NewHTTPProviderClientWithRetry() error = %v", err)
	}
	return c
}

// SetupIntegrationService creates a SnowService over the live provider. Falls
// back to the in-memory cache when memcached is requested but unreachable.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig, c client.ProviderClient) (*service.SnowService, cache.Cache) {
	t.Helper()
	var store cache.Cache = cache.NewInMemoryCache()
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2, time.Hour)
		if err == nil && mc.Ping() == nil {
			store = mc
			t.Cleanup(func() { _ = mc.Close() })
			t.Logf("using memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("memcached not available, using in-memory cache")
		}
	}
	svc := service.NewSnowService(c, store, service.Config{
		CacheTTL:        5 * time.Minute,
		StaleCacheTTL:   time.Hour,
		CoalesceEnabled: true,
		CoalesceTimeout: time.Minute,
		DefaultSeasons:  2,
	})
	return svc, store
}
