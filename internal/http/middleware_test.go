package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/snow-season-service/internal/observability"
	"github.com/kjstillabower/snow-season-service/internal/traffic"
)

func TestCorrelationIDMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"generated", ""},
		{"propagated", "client-provided-id"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotID string
			var gotLogger bool
			router := mux.NewRouter()
			router.Use(CorrelationIDMiddleware(zap.NewNop()))
			router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
				gotID, _ = r.Context().Value("correlation_id").(string)
				_, gotLogger = r.Context().Value("logger").(*zap.Logger)
			})

			req := httptest.NewRequest("GET", "/x", nil)
			if tc.header != "" {
				req.Header.Set("X-Correlation-ID", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			header := w.Header().Get("X-Correlation-ID")
			if header == "" || header != gotID {
				t.Errorf("header %q, context %q; want equal and non-empty", header, gotID)
			}
			if tc.header != "" && header != tc.header {
				t.Errorf("X-Correlation-ID = %q, want %q", header, tc.header)
			}
			if !gotLogger {
				t.Error("request logger missing from context")
			}
		})
	}
}

func TestGetRoute_UsesTemplate(t *testing.T) {
	var got string
	router := mux.NewRouter()
	router.HandleFunc("/regions/{region}/analysis", func(w http.ResponseWriter, r *http.Request) {
		got = getRoute(r)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/regions/tuolumne/analysis", nil))
	if got != "/regions/{region}/analysis" {
		t.Errorf("getRoute() = %q, want template", got)
	}

	if r := getRoute(httptest.NewRequest("GET", "/nowhere", nil)); r != "unmatched" {
		t.Errorf("getRoute(unrouted) = %q, want unmatched", r)
	}
}

func TestMetricsMiddleware_TracksInFlight(t *testing.T) {
	var during int64
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		during = InFlightCount()
		w.WriteHeader(http.StatusTeapot)
	})

	before := InFlightCount()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))

	if during != before+1 {
		t.Errorf("in-flight during request = %d, want %d", during, before+1)
	}
	if after := InFlightCount(); after != before {
		t.Errorf("in-flight after request = %d, want %d", after, before)
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", w.Code)
	}
}

func TestStatusCodeString(t *testing.T) {
	for code, want := range map[int]string{200: "2xx", 404: "4xx", 429: "4xx", 503: "5xx"} {
		if got := statusCodeString(code); got != want {
			t.Errorf("statusCodeString(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestTimeoutMiddleware_CancelsContextAfterTimeout(t *testing.T) {
	c := &mockProviderClient{records: waterYear2021(), block: make(chan struct{})}
	defer close(c.block)
	h, _ := newTestHandler(t, c, nil, nil)
	router := NewRouter(h, zap.NewNop(), RouterConfig{RequestTimeout: 50 * time.Millisecond})

	started := time.Now()
	w := serve(router, "GET", "/regions/bow/analysis?start=2021-01-01&end=2021-03-01", "")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 (timeout surfaces as upstream error)", w.Code)
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Errorf("request took %v, want bounded by the timeout", elapsed)
	}
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var hasDeadline bool
	handler := TimeoutMiddleware(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil).WithContext(context.Background()))
	if !hasDeadline {
		t.Error("context has no deadline")
	}
}

func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	c := &mockProviderClient{records: waterYear2021()}
	h, _ := newTestHandler(t, c, nil, nil)
	router := NewRouter(h, zap.NewNop(), RouterConfig{RateLimiter: rate.NewLimiter(1, 2)})
	deniedBefore := counterValue(t, observability.RateLimitDeniedTotal)

	path := "/regions/bow/analysis?start=2020-10-01&end=2021-09-30"
	for i := 0; i < 3; i++ {
		w := serve(router, "GET", path, "")
		if i < 2 {
			if w.Code != http.StatusOK {
				t.Errorf("request %d: status = %d, want 200", i, w.Code)
			}
			continue
		}
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("request %d: status = %d, want 429", i, w.Code)
		}
		if w.Header().Get("Retry-After") == "" {
			t.Error("Retry-After header missing")
		}
		if body := decodeError(t, w); body.Error.Code != "RATE_LIMITED" || body.Error.RequestID == "" {
			t.Errorf("error = %+v", body.Error)
		}
	}
	if n := traffic.DenialCount(time.Minute); n != 1 {
		t.Errorf("DenialCount = %d, want 1", n)
	}
	if got := counterValue(t, observability.RateLimitDeniedTotal) - deniedBefore; got != 1 {
		t.Errorf("rateLimitDeniedTotal delta = %v, want 1", got)
	}
}

func TestRateLimitMiddleware_HealthNotLimited(t *testing.T) {
	c := &mockProviderClient{}
	h, _ := newTestHandler(t, c, nil, nil)
	router := NewRouter(h, zap.NewNop(), RouterConfig{RateLimiter: rate.NewLimiter(rate.Limit(0.001), 1)})

	for i := 0; i < 3; i++ {
		if w := serve(router, "GET", "/health", ""); w.Code != http.StatusOK {
			t.Fatalf("health request %d: status = %d, want 200", i, w.Code)
		}
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	called := 0
	handler := RateLimitMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
	}))
	for i := 0; i < 5; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	}
	if called != 5 {
		t.Errorf("handler called %d times, want 5", called)
	}
}

func TestRouter_TestEndpointsOnlyInTestingMode(t *testing.T) {
	c := &mockProviderClient{}
	h, _ := newTestHandler(t, c, nil, nil)
	router := NewRouter(h, zap.NewNop(), RouterConfig{})

	if w := serve(router, "GET", "/test", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET /test status = %d, want 404 outside testing mode", w.Code)
	}
	if w := serve(router, "GET", "/metrics", ""); w.Code != http.StatusOK {
		t.Errorf("GET /metrics status = %d, want 200", w.Code)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}
