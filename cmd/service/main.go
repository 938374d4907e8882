package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/snow-season-service/internal/cache"
	"github.com/kjstillabower/snow-season-service/internal/circuitbreaker"
	"github.com/kjstillabower/snow-season-service/internal/client"
	"github.com/kjstillabower/snow-season-service/internal/config"
	httphandler "github.com/kjstillabower/snow-season-service/internal/http"
	"github.com/kjstillabower/snow-season-service/internal/lifecycle"
	"github.com/kjstillabower/snow-season-service/internal/observability"
	"github.com/kjstillabower/snow-season-service/internal/service"
	"github.com/kjstillabower/snow-season-service/internal/traffic"
)

const providerComponent = "provider"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	lifecycle.MarkStarting(cfg.ReadyDelay)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providerClient, err := client.NewHTTPProviderClientWithRetry(
		cfg.ProviderAPIKey,
		cfg.ProviderURL,
		cfg.ProviderTimeout,
		client.RetryConfig{
			Attempts:  cfg.RetryAttempts,
			BaseDelay: cfg.RetryBaseDelay,
			MaxDelay:  cfg.RetryMaxDelay,
		},
	)
	if err != nil {
		logger.Fatal("provider client", zap.Error(err))
	}

	if cfg.CircuitBreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        providerComponent,
			IsFailure:        client.IsUpstreamFailure,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(providerComponent, from.String(), to.String())
				observability.SetCircuitBreakerStateGauge(providerComponent, observability.CircuitBreakerStateValue(int(to)))
				logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		providerClient.SetCircuitBreaker(cb)
		observability.SetCircuitBreakerStateGauge(providerComponent, 0)
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var store cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.CacheRetention)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		store = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		store = cache.NewInMemoryCacheWithRetention(cfg.CacheRetention)
		logger.Info("cache backend: in_memory")
	}

	snowService := service.NewSnowService(providerClient, store, service.Config{
		CacheTTL:        cfg.CacheTTL,
		StaleCacheTTL:   cfg.StaleCacheTTL,
		CoalesceEnabled: cfg.CoalesceEnabled,
		CoalesceTimeout: cfg.CoalesceTimeout,
		Defaults:        cfg.Analysis,
		DefaultSeasons:  cfg.DefaultSeasons,
		BandWorkers:     cfg.BandWorkers,
	})

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:         cfg.OverloadWindow,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		RateLimitRPS:           cfg.RateLimitRPS,
		RateLimitBurst:         cfg.RateLimitBurst,
		DegradedWindow:         cfg.DegradedWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
		IdleWindow:             cfg.IdleWindow,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
		StartTime:              time.Now(),
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	traffic.StartRecoveryListener(ctx, providerClient.ValidateAPIKey, cfg.DegradedRetryInitial, cfg.DegradedRetryMax, func() {
		logger.Error("provider recovery exhausted; marking instance for replacement")
		lifecycle.SetShuttingDown(true)
	})

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(snowService, providerClient, healthConfig, logger, limiter, httphandler.Limits{
		RegionMaxLength: cfg.RegionMaxLength,
		MaxRangeDays:    cfg.MaxRangeDays,
	})

	observability.RegisterRateLimitGauges(cfg.OverloadWindow)
	if len(cfg.TrackedRegions) > 0 {
		observability.SetTrackedRegions(cfg.TrackedRegions)
	}

	if cfg.WarmCache && len(cfg.TrackedRegions) > 0 {
		warmer := cache.NewCacheWarmer(snowService, logger, 0)
		warmCtx, warmCancel := context.WithTimeout(ctx, 2*time.Minute)
		if err := warmer.Warm(warmCtx, cfg.TrackedRegions); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(ctx, cfg.TrackedRegions, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		RateLimiter:    limiter,
		TestingMode:    cfg.TestingMode,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.RecordShutdownInFlight(inFlight)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
