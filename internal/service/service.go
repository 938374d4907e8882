package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/snow-season-service/internal/cache"
	"github.com/kjstillabower/snow-season-service/internal/client"
	"github.com/kjstillabower/snow-season-service/internal/models"
	"github.com/kjstillabower/snow-season-service/internal/observability"
	"github.com/kjstillabower/snow-season-service/internal/snow"
)

// Analysis kinds, used as metric labels and cache key prefixes.
const (
	KindRegion         = "region"
	KindPoint          = "point"
	KindElevationBands = "elevation_bands"
)

// Config tunes SnowService caching and defaults.
type Config struct {
	CacheTTL        time.Duration
	StaleCacheTTL   time.Duration // maximum age for stale fallback; 0 disables it
	CoalesceEnabled bool
	CoalesceTimeout time.Duration
	Defaults        snow.Options
	DefaultSeasons  int // seasons in the default analysis window
	BandWorkers     int // parallel elevation bands; 0 uses GOMAXPROCS
}

// SnowService fetches raw observations cache-aside from the provider and runs
// the statistics engine over them. Only raw observations are cached; every
// analysis is recomputed from them.
type SnowService struct {
	client          client.ProviderClient
	cache           cache.Cache
	cfg             Config
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer[models.ObservationSet] // nil if disabled
	now             func() time.Time
}

// Result is a single-series analysis together with where its inputs came from.
type Result struct {
	Target    string        `json:"target"`
	Options   OptionsView   `json:"options"`
	Analysis  snow.Analysis `json:"analysis"`
	FetchedAt time.Time     `json:"fetchedAt"`
	Stale     bool          `json:"stale"`
}

// BandsResult is an elevation-stratified analysis of a region.
type BandsResult struct {
	Target     string                  `json:"target"`
	Options    OptionsView             `json:"options"`
	Start      time.Time               `json:"start"`
	End        time.Time               `json:"end"`
	Stratified snow.StratifiedAnalysis `json:"stratified"`
	FetchedAt  time.Time               `json:"fetchedAt"`
	Stale      bool                    `json:"stale"`
}

// OptionsView echoes the engine options a result was computed with.
type OptionsView struct {
	SeasonStart         string  `json:"seasonStart"`
	SnowThreshold       float64 `json:"snowThreshold"`
	MinConsecutiveDays  int     `json:"minConsecutiveDays"`
	ElevationBandWidthM float64 `json:"elevationBandWidthM"`
	TrendSlopeThreshold float64 `json:"trendSlopeThreshold"`
}

func viewOf(o snow.Options) OptionsView {
	return OptionsView{
		SeasonStart:         o.SeasonStart.String(),
		SnowThreshold:       o.SnowThreshold,
		MinConsecutiveDays:  o.MinConsecutiveDays,
		ElevationBandWidthM: o.ElevationBandWidthM,
		TrendSlopeThreshold: o.TrendSlopeThreshold,
	}
}

// NewSnowService creates a SnowService. Zero Defaults fall back to snow.DefaultOptions.
func NewSnowService(c client.ProviderClient, store cache.Cache, cfg Config) *SnowService {
	if cfg.Defaults == (snow.Options{}) {
		cfg.Defaults = snow.DefaultOptions()
	}
	if cfg.DefaultSeasons < 1 {
		cfg.DefaultSeasons = 5
	}
	if cfg.BandWorkers <= 0 {
		cfg.BandWorkers = runtime.GOMAXPROCS(0)
	}
	var coalescer *requestCoalescer[models.ObservationSet]
	if cfg.CoalesceEnabled && cfg.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer[models.ObservationSet](cfg.CoalesceTimeout)
	}
	return &SnowService{
		client:          c,
		cache:           store,
		cfg:             cfg,
		stampedeTracker: newStampedeTracker(),
		coalescer:       coalescer,
		now:             time.Now,
	}
}

// Defaults returns the engine options used when a request overrides none.
func (s *SnowService) Defaults() snow.Options {
	return s.cfg.Defaults
}

// DefaultWindow returns the range analysed when a request gives none.
func (s *SnowService) DefaultWindow() (time.Time, time.Time) {
	return DefaultWindow(s.now(), s.cfg.DefaultSeasons, s.cfg.Defaults.SeasonStart)
}

// loggerFromContext extracts a zap.Logger from request context if present.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return zap.NewNop()
}

// AnalyzeRegion runs the full engine over a watershed's daily records.
func (s *SnowService) AnalyzeRegion(ctx context.Context, regionID string, start, end time.Time, opts snow.Options) (Result, error) {
	regionID = normalizeRegionID(regionID)
	req := models.ObservationRequest{RegionID: regionID, Start: start, End: end, Variables: seriesVariables}
	return s.analyzeSeries(ctx, KindRegion, regionID, req, opts)
}

// AnalyzePoint runs the full engine over the buffered neighbourhood of a point.
func (s *SnowService) AnalyzePoint(ctx context.Context, point models.Coordinates, bufferM float64, start, end time.Time, opts snow.Options) (Result, error) {
	req := models.ObservationRequest{Point: &point, BufferM: bufferM, Start: start, End: end, Variables: seriesVariables}
	target := fmt.Sprintf("%.5f,%.5f", point.Lat, point.Lon)
	return s.analyzeSeries(ctx, KindPoint, target, req, opts)
}

func (s *SnowService) analyzeSeries(ctx context.Context, kind, target string, req models.ObservationRequest, opts snow.Options) (res Result, err error) {
	began := time.Now()
	metricRegion := ""
	if kind == KindRegion {
		metricRegion = target
	}
	defer func() { observability.RecordAnalysis(kind, metricRegion, time.Since(began), err) }()

	if err := checkRequest(req.Start, req.End, opts); err != nil {
		return Result{}, err
	}
	set, err := s.observations(ctx, kind, req)
	if err != nil {
		return Result{}, err
	}
	analysis, err := snow.Analyze(set.Records, req.Start, req.End, opts)
	if err != nil {
		return Result{}, err
	}
	for _, season := range analysis.Summary.PerYear {
		observability.RecordSeasonQuality(string(season.DataQuality))
	}
	loggerFromContext(ctx).Debug("analysis complete",
		zap.String("kind", kind),
		zap.String("target", target),
		zap.Int("seasons", len(analysis.Summary.PerYear)),
		zap.String("trend", string(analysis.Summary.TrendDirection)),
		zap.Bool("stale", set.Stale),
		zap.Duration("duration", time.Since(began)))
	return Result{
		Target:    target,
		Options:   viewOf(opts),
		Analysis:  analysis,
		FetchedAt: set.FetchedAt,
		Stale:     set.Stale,
	}, nil
}

// AnalyzeElevationBands stratifies a region's pixels by elevation and analyses
// every populated band in parallel. Bands without pixels are absent.
func (s *SnowService) AnalyzeElevationBands(ctx context.Context, regionID string, start, end time.Time, opts snow.Options) (res BandsResult, err error) {
	began := time.Now()
	regionID = normalizeRegionID(regionID)
	defer func() { observability.RecordAnalysis(KindElevationBands, regionID, time.Since(began), err) }()

	if err := checkRequest(start, end, opts); err != nil {
		return BandsResult{}, err
	}
	req := models.ObservationRequest{RegionID: regionID, Start: start, End: end, Variables: pixelVariables}
	set, err := s.observations(ctx, KindElevationBands, req)
	if err != nil {
		return BandsResult{}, err
	}

	groups, unbanded := snow.GroupByBand(set.Pixels, opts.ElevationBandWidthM)
	lowers := snow.SortedKeys(groups)
	bands := make([]snow.ElevationBandStatistics, len(lowers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BandWorkers)
	for i, lower := range lowers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			band, err := snow.AnalyzeBand(lower, opts.ElevationBandWidthM, groups[lower], start, end, opts)
			if err != nil {
				return err
			}
			bands[i] = band
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BandsResult{}, err
	}

	stratified := snow.StratifiedAnalysis{
		BandWidthM:     opts.ElevationBandWidthM,
		Bands:          make(map[int]snow.ElevationBandStatistics, len(bands)),
		UnbandedPixels: unbanded,
	}
	for i, lower := range lowers {
		stratified.Bands[lower] = bands[i]
		for _, season := range bands[i].Seasons {
			observability.RecordSeasonQuality(string(season.DataQuality))
		}
	}
	loggerFromContext(ctx).Debug("elevation analysis complete",
		zap.String("region", regionID),
		zap.Int("bands", len(bands)),
		zap.Int("unbanded_pixels", unbanded),
		zap.Duration("duration", time.Since(began)))
	return BandsResult{
		Target:     regionID,
		Options:    viewOf(opts),
		Start:      snowDay(start),
		End:        snowDay(end),
		Stratified: stratified,
		FetchedAt:  set.FetchedAt,
		Stale:      set.Stale,
	}, nil
}

// ListRegions returns the watersheds the provider knows about.
func (s *SnowService) ListRegions(ctx context.Context) ([]models.Region, error) {
	regions, err := s.client.ListRegions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	return regions, nil
}

// WarmRegion prefetches a region's observations for the default window, so
// requests without an explicit range are served from cache.
func (s *SnowService) WarmRegion(ctx context.Context, regionID string) error {
	start, end := s.DefaultWindow()
	req := models.ObservationRequest{RegionID: normalizeRegionID(regionID), Start: start, End: end, Variables: seriesVariables}
	_, err := s.observations(ctx, KindRegion, req)
	return err
}

// checkRequest rejects bad ranges and options before any provider call.
func checkRequest(start, end time.Time, opts snow.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if snowDay(start).After(snowDay(end)) {
		return &snow.InvalidRangeError{Start: snowDay(start), End: snowDay(end)}
	}
	return nil
}

func snowDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// observations returns the provider data for req using cache-aside, request
// coalescing and stale fallback.
func (s *SnowService) observations(ctx context.Context, kind string, req models.ObservationRequest) (models.ObservationSet, error) {
	key := requestKey(kind, req)
	logger := loggerFromContext(ctx)
	cacheType := "observations"
	if kind == KindElevationBands {
		cacheType = "pixels"
	}

	getStart := time.Now()
	cached, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "hit").Observe(getDuration)
		observability.CacheHitsTotal.WithLabelValues(cacheType).Inc()
		logger.Debug("cache hit", zap.String("key", key))
		return cached, nil
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "miss").Observe(getDuration)
	}

	regionLabel := observability.MetricRegionLabel(req.RegionID)
	if concurrent := s.stampedeTracker.RecordMiss(key); concurrent > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(regionLabel).Inc()
		observability.CacheStampedeConcurrency.WithLabelValues(regionLabel).Observe(float64(concurrent))
	}
	defer s.stampedeTracker.Resolve(key)

	logger.Debug("cache miss, fetching from provider", zap.String("key", key))
	fetch := func(ctx context.Context) (models.ObservationSet, error) {
		return s.fetch(ctx, kind, req)
	}
	var data models.ObservationSet
	var upstreamErr error
	if s.coalescer != nil {
		waitStart := time.Now()
		var shared bool
		data, shared, upstreamErr = s.coalescer.GetOrDo(ctx, key, fetch)
		if shared {
			observability.RequestCoalescingHitsTotal.WithLabelValues(regionLabel).Inc()
			observability.RequestCoalescingWaitSeconds.Observe(time.Since(waitStart).Seconds())
		}
	} else {
		data, upstreamErr = fetch(ctx)
	}

	if upstreamErr != nil {
		if s.cfg.StaleCacheTTL > 0 && client.IsUpstreamFailure(upstreamErr) {
			stale, ok, staleErr := s.cache.GetStale(ctx, key, s.cfg.StaleCacheTTL)
			if staleErr == nil && ok {
				age := s.now().Sub(stale.FetchedAt)
				observability.StaleCacheServesTotal.WithLabelValues(regionLabel).Inc()
				observability.StaleCacheAgeSeconds.Observe(age.Seconds())
				logger.Info("serving stale cache", zap.String("key", key), zap.Duration("age", age), zap.Error(upstreamErr))
				stale.Stale = true
				return stale, nil
			}
		}
		return models.ObservationSet{}, upstreamErr
	}

	setStart := time.Now()
	if setErr := s.cache.Set(ctx, key, data, s.cfg.CacheTTL); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	}
	return data, nil
}

func (s *SnowService) fetch(ctx context.Context, kind string, req models.ObservationRequest) (models.ObservationSet, error) {
	set := models.ObservationSet{FetchedAt: s.now().UTC()}
	var err error
	if kind == KindElevationBands {
		set.Pixels, err = s.client.FetchPixels(ctx, req)
	} else {
		set.Records, err = s.client.FetchObservations(ctx, req)
	}
	if err != nil {
		return models.ObservationSet{}, err
	}
	return set, nil
}

// categorizeCacheError returns a stable label for cache error metrics.
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "network"):
		return "connection"
	case strings.Contains(errStr, "decode"):
		return "decode"
	}
	return "unknown"
}
