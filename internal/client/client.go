package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/snow-season-service/internal/circuitbreaker"
	"github.com/kjstillabower/snow-season-service/internal/models"
	"github.com/kjstillabower/snow-season-service/internal/observability"
	"github.com/kjstillabower/snow-season-service/internal/snow"
)

// ProviderClient fetches raw daily snow records from the remote-sensing provider.
type ProviderClient interface {
	FetchObservations(ctx context.Context, req models.ObservationRequest) ([]models.RawRecord, error)
	FetchPixels(ctx context.Context, req models.ObservationRequest) ([]models.PixelSeries, error)
	ListRegions(ctx context.Context) ([]models.Region, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrInvalidRequest  = errors.New("provider rejected request")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrTimeout         = errors.New("provider timeout")
)

const providerDateLayout = "2006-01-02"

// HTTPProviderClient talks JSON over HTTP to the provider's observation API.
type HTTPProviderClient struct {
	apiKey         string
	baseURL        string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
}

// RetryConfig bounds provider retries. Zero fields take package defaults.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func NewHTTPProviderClient(apiKey, baseURL string, timeout time.Duration) (*HTTPProviderClient, error) {
	return NewHTTPProviderClientWithRetry(apiKey, baseURL, timeout, RetryConfig{})
}

func NewHTTPProviderClientWithRetry(apiKey, baseURL string, timeout time.Duration, retry RetryConfig) (*HTTPProviderClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid provider URL %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if retry.Attempts <= 0 {
		retry.Attempts = 3
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = 200 * time.Millisecond
	}
	if retry.MaxDelay < retry.BaseDelay {
		retry.MaxDelay = 5 * time.Second
	}
	return &HTTPProviderClient{
		apiKey:         apiKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		timeout:        timeout,
		retryAttempts:  retry.Attempts,
		retryBaseDelay: retry.BaseDelay,
		retryMaxDelay:  retry.MaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker wraps every provider fetch in cb. Calls fail fast with
// circuitbreaker.ErrOpen while it is open.
func (c *HTTPProviderClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

type recordsResponse struct {
	Records []wireRecord `json:"records"`
}

type pixelsResponse struct {
	Pixels []struct {
		PixelID    string       `json:"pixel_id"`
		ElevationM *flexFloat   `json:"elevation_m"`
		Records    []wireRecord `json:"records"`
	} `json:"pixels"`
}

type regionsResponse struct {
	Regions []models.Region `json:"regions"`
}

// FetchObservations returns the daily records of a region or buffered point.
func (c *HTTPProviderClient) FetchObservations(ctx context.Context, req models.ObservationRequest) ([]models.RawRecord, error) {
	params, err := observationParams(req)
	if err != nil {
		return nil, err
	}
	var resp recordsResponse
	if err := c.fetch(ctx, "/observations", params, &resp, req); err != nil {
		return nil, err
	}
	records := mapRecords(resp.Records)
	if len(records) == 0 {
		return nil, snow.NewDataUnavailableError(req.Start, req.End, errors.New("provider returned no records"))
	}
	return records, nil
}

// FetchPixels returns per-pixel records for a region, each tagged with its elevation.
func (c *HTTPProviderClient) FetchPixels(ctx context.Context, req models.ObservationRequest) ([]models.PixelSeries, error) {
	params, err := observationParams(req)
	if err != nil {
		return nil, err
	}
	var resp pixelsResponse
	if err := c.fetch(ctx, "/pixels", params, &resp, req); err != nil {
		return nil, err
	}
	pixels := make([]models.PixelSeries, 0, len(resp.Pixels))
	total := 0
	for _, p := range resp.Pixels {
		ps := models.PixelSeries{
			PixelID:    p.PixelID,
			ElevationM: p.ElevationM.ptr(),
			Records:    mapRecords(p.Records),
		}
		total += len(ps.Records)
		pixels = append(pixels, ps)
	}
	if total == 0 {
		return nil, snow.NewDataUnavailableError(req.Start, req.End, errors.New("provider returned no pixel records"))
	}
	return pixels, nil
}

// ListRegions returns the watersheds the provider can analyse.
func (c *HTTPProviderClient) ListRegions(ctx context.Context) ([]models.Region, error) {
	var resp regionsResponse
	if err := c.fetch(ctx, "/regions", nil, &resp, models.ObservationRequest{}); err != nil {
		return nil, err
	}
	return resp.Regions, nil
}

// fetch runs the retried GET, behind the circuit breaker when one is set.
func (c *HTTPProviderClient) fetch(ctx context.Context, path string, params url.Values, out any, req models.ObservationRequest) error {
	call := func() error { return c.getWithRetry(ctx, path, params, out, req) }
	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		observability.ProviderErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
	}
	return err
}

func (c *HTTPProviderClient) getWithRetry(ctx context.Context, path string, params url.Values, out any, req models.ObservationRequest) error {
	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.ProviderRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}

		err := c.callAPI(ctx, path, params, out, req)
		if err == nil {
			return nil
		}
		lastErr = err
		if !c.isRetryable(ctx, err) {
			return err
		}
	}
	return fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *HTTPProviderClient) callAPI(ctx context.Context, path string, params url.Values, out any, obsReq models.ObservationRequest) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, path, params)
	if err != nil {
		observability.ProviderCallsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.ProviderCallsTotal.WithLabelValues("error").Inc()
		observability.ProviderDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.ProviderCallsTotal.WithLabelValues(status).Inc()
	observability.ProviderDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp, obsReq); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (c *HTTPProviderClient) isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) || errors.Is(err, ErrTimeout)
}

func (c *HTTPProviderClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}
	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *HTTPProviderClient) buildRequest(ctx context.Context, path string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid provider URL: %w", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

// observationParams encodes the request's target, range and variables as query parameters.
func observationParams(req models.ObservationRequest) (url.Values, error) {
	params := url.Values{}
	switch {
	case req.RegionID != "" && req.Point == nil:
		params.Set("region", req.RegionID)
	case req.RegionID == "" && req.Point != nil:
		params.Set("lat", strconv.FormatFloat(req.Point.Lat, 'f', -1, 64))
		params.Set("lon", strconv.FormatFloat(req.Point.Lon, 'f', -1, 64))
		if req.BufferM > 0 {
			params.Set("buffer_m", strconv.FormatFloat(req.BufferM, 'f', -1, 64))
		}
	default:
		return nil, fmt.Errorf("%w: exactly one of region or point is required", ErrInvalidRequest)
	}
	params.Set("start", req.Start.Format(providerDateLayout))
	params.Set("end", req.End.Format(providerDateLayout))
	if len(req.Variables) > 0 {
		vars := make([]string, len(req.Variables))
		for i, v := range req.Variables {
			vars[i] = string(v)
		}
		params.Set("variables", strings.Join(vars, ","))
	}
	return params, nil
}

// handleErrorResponse maps provider status codes to client errors. A 404 means the
// provider has no imagery for the range.
func handleErrorResponse(resp *http.Response, req models.ObservationRequest) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, resp.StatusCode)
	case http.StatusNotFound:
		return snow.NewDataUnavailableError(req.Start, req.End, fmt.Errorf("provider HTTP %d", resp.StatusCode))
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.TrimSpace(string(msg)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func isNetTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey issues a cheap authenticated call. Used at startup, by /health and by recovery probes.
func (c *HTTPProviderClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, "/regions", nil)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}
	return nil
}
