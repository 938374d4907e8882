package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/snow-season-service/internal/client"
	"github.com/kjstillabower/snow-season-service/internal/lifecycle"
	"github.com/kjstillabower/snow-season-service/internal/models"
	"github.com/kjstillabower/snow-season-service/internal/observability"
	"github.com/kjstillabower/snow-season-service/internal/service"
	"github.com/kjstillabower/snow-season-service/internal/snow"
	"github.com/kjstillabower/snow-season-service/internal/traffic"
	"github.com/kjstillabower/snow-season-service/internal/validation"
)

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	RateLimitRPS           int
	RateLimitBurst         int // 0 when rate limiter disabled
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
	StartTime              time.Time
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Limits bounds request parameters.
type Limits struct {
	RegionMaxLength int
	MaxRangeDays    int // 0 means unbounded
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	snowService      *service.SnowService
	client           client.ProviderClient
	healthConfig     *HealthConfig
	logger           *zap.Logger
	rateLimiter      *rate.Limiter
	limits           Limits
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	snowService *service.SnowService,
	client client.ProviderClient,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	rateLimiter *rate.Limiter,
	limits Limits,
) *Handler {
	if limits.RegionMaxLength <= 0 {
		limits.RegionMaxLength = 128
	}
	return &Handler{
		snowService:  snowService,
		client:       client,
		healthConfig: healthConfig,
		logger:       logger,
		rateLimiter:  rateLimiter,
		limits:       limits,
	}
}

// GetRegions handles GET /regions.
func (h *Handler) GetRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := h.snowService.ListRegions(r.Context())
	if err != nil {
		h.writeAnalysisError(w, r, err)
		return
	}
	if regions == nil {
		regions = []models.Region{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"regions": regions})
}

// GetRegionAnalysis handles GET /regions/{region}/analysis.
func (h *Handler) GetRegionAnalysis(w http.ResponseWriter, r *http.Request) {
	region, ok := h.region(w, r)
	if !ok {
		return
	}
	start, end, opts, ok := h.rangeAndOptions(w, r)
	if !ok {
		return
	}
	result, err := h.snowService.AnalyzeRegion(r.Context(), region, start, end, opts)
	if err != nil {
		h.writeAnalysisError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, result)
}

// GetElevationBands handles GET /regions/{region}/elevation-bands.
func (h *Handler) GetElevationBands(w http.ResponseWriter, r *http.Request) {
	region, ok := h.region(w, r)
	if !ok {
		return
	}
	start, end, opts, ok := h.rangeAndOptions(w, r)
	if !ok {
		return
	}
	result, err := h.snowService.AnalyzeElevationBands(r.Context(), region, start, end, opts)
	if err != nil {
		h.writeAnalysisError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, result)
}

// GetPointAnalysis handles GET /points/analysis?lat=&lon=.
func (h *Handler) GetPointAnalysis(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	point, err := validation.ValidateCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		h.writeAnalysisError(w, r, err)
		return
	}
	buffer, err := validation.ParseBuffer(q.Get("buffer_m"))
	if err != nil {
		h.writeAnalysisError(w, r, err)
		return
	}
	start, end, opts, ok := h.rangeAndOptions(w, r)
	if !ok {
		return
	}
	result, err := h.snowService.AnalyzePoint(r.Context(), point, buffer, start, end, opts)
	if err != nil {
		h.writeAnalysisError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) region(w http.ResponseWriter, r *http.Request) (string, bool) {
	region, err := validation.ValidateRegionID(mux.Vars(r)["region"], h.limits.RegionMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REGION", err.Error())
		return "", false
	}
	return region, true
}

// rangeAndOptions parses start, end and engine overrides. Writes the error response itself.
func (h *Handler) rangeAndOptions(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, snow.Options, bool) {
	q := r.URL.Query()
	opts, err := validation.ParseOptions(q, h.snowService.Defaults())
	if err != nil {
		h.writeAnalysisError(w, r, err)
		return time.Time{}, time.Time{}, snow.Options{}, false
	}
	defStart, defEnd := h.snowService.DefaultWindow()
	start, end, err := validation.ParseDateRange(q.Get("start"), q.Get("end"), defStart, defEnd, h.limits.MaxRangeDays)
	if err != nil {
		h.writeAnalysisError(w, r, err)
		return time.Time{}, time.Time{}, snow.Options{}, false
	}
	return start, end, opts, true
}

// writeAnalysisError maps domain and provider errors to HTTP responses. Only
// provider failures count toward the degraded error rate.
func (h *Handler) writeAnalysisError(w http.ResponseWriter, r *http.Request, err error) {
	var rangeErr *snow.InvalidRangeError
	var unavailable *snow.DataUnavailableError
	switch {
	case errors.As(err, &rangeErr):
		writeError(w, r, http.StatusBadRequest, "INVALID_RANGE", rangeErr.Error())
	case errors.Is(err, validation.ErrInvalidParameter), errors.Is(err, snow.ErrInvalidOptions):
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
	case errors.As(err, &unavailable):
		writeErrorFields(w, r, http.StatusNotFound, "DATA_UNAVAILABLE", "No provider data for the requested range", map[string]string{
			"start": unavailable.Start.Format(validation.DateLayout),
			"end":   unavailable.End.Format(validation.DateLayout),
		})
	case errors.Is(err, client.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "Provider rejected the request")
	default:
		if client.IsUpstreamFailure(err) || errors.Is(err, client.ErrInvalidAPIKey) {
			traffic.RecordError()
		}
		writeServiceError(w, r, err)
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["provider"] = "unhealthy"
	} else {
		checks["provider"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "snow-season-service",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > API key invalid > overloaded > idle > degraded > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if !lifecycle.IsReady() {
		return healthResult{"starting", http.StatusServiceUnavailable, "ready_delay"}
	}
	if err := h.client.ValidateAPIKey(ctx); err != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if float64(traffic.RequestCount(h.healthConfig.OverloadWindow)) > h.overloadThreshold() {
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
	}
	if h.healthConfig.IdleWindow > 0 && h.healthConfig.MinimumLifespan > 0 && time.Since(h.healthConfig.StartTime) >= h.healthConfig.MinimumLifespan {
		if traffic.RequestCount(h.healthConfig.IdleWindow) < h.healthConfig.IdleThresholdReqPerMin {
			return healthResult{"idle", http.StatusOK, "low_traffic"}
		}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(h.healthConfig.DegradedErrorPct) {
			traffic.NotifyDegraded()
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// overloadThreshold is the request count within OverloadWindow above which
// the instance reports overloaded.
func (h *Handler) overloadThreshold() float64 {
	return float64(h.healthConfig.RateLimitRPS) * h.healthConfig.OverloadWindow.Seconds() * float64(h.healthConfig.OverloadThresholdPct) / 100
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeErrorFields(w, r, status, code, message, nil)
}

func writeErrorFields(w http.ResponseWriter, r *http.Request, status int, code, message string, extra map[string]string) {
	corrID := ""
	if v, ok := r.Context().Value("correlation_id").(string); ok {
		corrID = v
	}
	body := map[string]string{
		"code":      code,
		"message":   message,
		"requestId": corrID,
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, map[string]interface{}{"error": body})
}

// writeServiceError writes a 503 for upstream failures. The cause is logged at
// DEBUG level and never echoed to the caller.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch snow observations")
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("upstream error",
			zap.Error(err),
			zap.String("category", string(client.CategorizeError(err))))
	}
}

// GetTestStatus handles GET /test. Returns the traffic windows health is computed from.
func (h *Handler) GetTestStatus(w http.ResponseWriter, r *http.Request) {
	window := 60 * time.Second
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		window = h.healthConfig.DegradedWindow
	}
	errs, _ := traffic.ErrorRate(window)

	cfg := make(map[string]interface{})
	if h.healthConfig != nil {
		cfg["rate_limit_rps"] = h.healthConfig.RateLimitRPS
		cfg["rate_limit_burst"] = h.healthConfig.RateLimitBurst
		cfg["overload_threshold"] = int(h.overloadThreshold())
		cfg["overload_window_seconds"] = h.healthConfig.OverloadWindow.Seconds()
		cfg["degraded_error_pct"] = h.healthConfig.DegradedErrorPct
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_requests_in_window":  traffic.RequestCount(window),
		"denied_requests_in_window": traffic.DenialCount(window),
		"errors_in_window":          errs,
		"window_length":             window.String(),
		"in_flight":                 InFlightCount(),
		"config":                    cfg,
	})
}

// PostTestAction handles POST /test/{action} for load, error, reset and shutdown.
func (h *Handler) PostTestAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	switch action {
	case "load":
		h.postTestLoad(w, r)
	case "error":
		h.postTestError(w, r)
	case "reset":
		traffic.Reset()
		lifecycle.SetShuttingDown(false)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":      true,
			"action":  "reset",
			"message": "All simulated state cleared",
		})
	case "shutdown":
		lifecycle.SetShuttingDown(true)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":      true,
			"action":  "shutdown",
			"message": "Shutting-down flag set",
		})
	default:
		writeError(w, r, http.StatusNotFound, "UNKNOWN_ACTION", "unknown test action: "+action)
	}
}

func testCount(r *http.Request, def int) int {
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
		return def
	}
	return body.Count
}

// postTestLoad records simulated requests through the rate limiter, if any.
func (h *Handler) postTestLoad(w http.ResponseWriter, r *http.Request) {
	count := testCount(r, 10)
	var accepted, denied int
	for i := 0; i < count; i++ {
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			traffic.RecordDenied()
			observability.RateLimitDeniedTotal.Inc()
			denied++
			continue
		}
		traffic.RecordSuccess()
		accepted++
	}
	msg := "Recorded " + strconv.Itoa(accepted) + " accepted"
	if denied > 0 {
		msg += ", " + strconv.Itoa(denied) + " denied"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"action":   "load",
		"message":  msg,
		"state":    h.computeHealthStatus(r.Context()).status,
		"accepted": accepted,
		"denied":   denied,
	})
}

// postTestError records simulated upstream failures.
func (h *Handler) postTestError(w http.ResponseWriter, r *http.Request) {
	count := testCount(r, 1)
	for i := 0; i < count; i++ {
		traffic.RecordError()
	}
	window := 60 * time.Second
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		window = h.healthConfig.DegradedWindow
	}
	errs, total := traffic.ErrorRate(window)
	pct := 0
	if total > 0 {
		pct = errs * 100 / total
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":             true,
		"action":         "error",
		"message":        "Recorded " + strconv.Itoa(count) + " errors",
		"state":          h.computeHealthStatus(r.Context()).status,
		"error_rate_pct": pct,
	})
}
