package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/kjstillabower/snow-season-service/internal/models"
)

// waterYearSet builds one water year of daily records, the typical cached payload.
func waterYearSet() models.ObservationSet {
	start := time.Date(2020, 10, 1, 0, 0, 0, 0, time.UTC)
	records := make([]models.RawRecord, 365)
	for i := range records {
		frac := float64(i%100) / 100
		swe := float64(i)
		records[i] = models.RawRecord{Date: start.AddDate(0, 0, i), SnowCoverFraction: &frac, SWEmm: &swe}
	}
	return models.ObservationSet{Records: records, FetchedAt: time.Now()}
}

// BenchmarkInMemoryCache_Get_Hit benchmarks cache Get operation on cache hit.
func BenchmarkInMemoryCache_Get_Hit(b *testing.B) {
	cache := NewInMemoryCache()
	ctx := context.Background()
	_ = cache.Set(ctx, "tuolumne", waterYearSet(), 5*time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = cache.Get(ctx, "tuolumne")
	}
}

// BenchmarkInMemoryCache_Get_Miss benchmarks cache Get operation on cache miss.
func BenchmarkInMemoryCache_Get_Miss(b *testing.B) {
	cache := NewInMemoryCache()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = cache.Get(ctx, "nonexistent")
	}
}

// BenchmarkInMemoryCache_Concurrent benchmarks concurrent cache reads.
func BenchmarkInMemoryCache_Concurrent(b *testing.B) {
	cache := NewInMemoryCache()
	ctx := context.Background()
	_ = cache.Set(ctx, "tuolumne", waterYearSet(), 5*time.Minute)

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _, _ = cache.Get(ctx, "tuolumne")
		}
	})
}

// BenchmarkMemcachedCache_Set benchmarks encoding and storing a water year in memcached.
// Requires memcached on localhost:11211; skipped otherwise.
func BenchmarkMemcachedCache_Set(b *testing.B) {
	if testing.Short() {
		b.Skip("Skipping Memcached benchmark in short mode")
	}
	cache, err := NewMemcachedCache("localhost:11211", 500*time.Millisecond, 2, time.Hour)
	if err != nil {
		b.Skipf("Memcached not available: %v", err)
	}
	defer cache.Close()
	if err := cache.Ping(); err != nil {
		b.Skipf("Memcached not available: %v", err)
	}

	ctx := context.Background()
	data := waterYearSet()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cache.Set(ctx, "bench:"+strconv.Itoa(i%16), data, 5*time.Minute)
	}
}
