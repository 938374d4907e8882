package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/snow-season-service/internal/observability"
)

// RouterConfig selects the optional parts of the route table.
type RouterConfig struct {
	RequestTimeout time.Duration
	RateLimiter    *rate.Limiter
	TestingMode    bool
}

// NewRouter wires handler into a mux router. Analysis and region routes are
// rate limited and bounded by RequestTimeout; /health and /metrics are not.
func NewRouter(handler *Handler, logger *zap.Logger, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(cfg.RateLimiter))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.HandleFunc("/regions", handler.GetRegions).Methods(http.MethodGet)
	api.HandleFunc("/regions/{region}/analysis", handler.GetRegionAnalysis).Methods(http.MethodGet)
	api.HandleFunc("/regions/{region}/elevation-bands", handler.GetElevationBands).Methods(http.MethodGet)
	api.HandleFunc("/points/analysis", handler.GetPointAnalysis).Methods(http.MethodGet)

	if cfg.TestingMode {
		logger.Warn("Testing mode enabled; /test endpoint exposed")
		router.HandleFunc("/test", handler.GetTestStatus).Methods(http.MethodGet)
		router.HandleFunc("/test/{action}", handler.PostTestAction).Methods(http.MethodPost)
	}
	return router
}
