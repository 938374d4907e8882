package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/snow-season-service/internal/observability"
)

// RegionWarmer is implemented by the service layer to prefetch a region's default
// observation window into the cache. Defined here so cache does not import service.
type RegionWarmer interface {
	WarmRegion(ctx context.Context, regionID string) error
}

// CacheWarmer prefetches observations for tracked regions.
type CacheWarmer struct {
	warmer      RegionWarmer
	logger      *zap.Logger
	concurrency int
}

// NewCacheWarmer creates a CacheWarmer that runs at most concurrency fetches at once (default 4).
func NewCacheWarmer(warmer RegionWarmer, logger *zap.Logger, concurrency int) *CacheWarmer {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &CacheWarmer{warmer: warmer, logger: logger, concurrency: concurrency}
}

// Warm fetches every region with bounded concurrency. One region failing does
// not stop the others; all failures are joined into the returned error.
func (w *CacheWarmer) Warm(ctx context.Context, regions []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("regions", len(regions)))
	}

	errs := make([]error, len(regions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i, region := range regions {
		g.Go(func() error {
			if err := w.warmer.WarmRegion(gctx, region); err != nil {
				errs[i] = fmt.Errorf("warm %s: %w", region, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	err := errors.Join(errs...)

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	failed := 0
	for _, e := range errs {
		if e != nil {
			failed++
		}
	}
	if w.logger != nil {
		w.logger.Info("cache warming complete", zap.Int("regions", len(regions)), zap.Int("errors", failed), zap.Float64("duration_seconds", duration))
	}
	if err != nil {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", err)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, regions []string, interval time.Duration) error {
	if err := w.Warm(ctx, regions); err != nil && w.logger != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, regions); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
