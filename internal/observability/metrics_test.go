package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// value reads the current value of a counter or gauge.
func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if out.Counter != nil {
		return out.GetCounter().GetValue()
	}
	return out.GetGauge().GetValue()
}

// TestMetrics_Usable verifies that label dimensions match usage across the client,
// http, service and cache packages.
func TestMetrics_Usable(t *testing.T) {
	// Route uses path template to avoid cardinality (e.g. /regions/{region}/analysis)
	HTTPRequestsTotal.WithLabelValues("GET", "/regions/{region}/analysis", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/regions/{region}/analysis").Observe(0.01)
	ProviderCallsTotal.WithLabelValues("success").Inc()
	ProviderDuration.WithLabelValues("success").Observe(0.1)
	ProviderErrorsTotal.WithLabelValues("data_unavailable").Inc()
	CacheHitsTotal.WithLabelValues("observations").Inc()
	CacheErrorsTotal.WithLabelValues("get", "timeout").Inc()
	CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(0.001)
	CacheStampedeDetectedTotal.WithLabelValues("other").Inc()
	RequestCoalescingHitsTotal.WithLabelValues("other").Inc()
	StaleCacheServesTotal.WithLabelValues("other").Inc()
	SetCircuitBreakerStateGauge("provider", CircuitBreakerStateValue(1))
	RecordCircuitBreakerTransition("provider", "closed", "open")
	RecordSeasonQuality("complete")
}

func TestMetricRegionLabel(t *testing.T) {
	SetTrackedRegions([]string{"Upper-Colorado", "tuolumne"})
	defer SetTrackedRegions(nil)

	tests := []struct {
		in   string
		want string
	}{
		{"upper-colorado", "upper-colorado"},
		{"  TUOLUMNE ", "tuolumne"},
		{"unknown-basin", "other"},
	}
	for _, tt := range tests {
		if got := MetricRegionLabel(tt.in); got != tt.want {
			t.Errorf("MetricRegionLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRecordAnalysis(t *testing.T) {
	before := value(t, AnalysesTotal.WithLabelValues("point", "error"))
	RecordAnalysis("point", "", time.Millisecond, errors.New("boom"))
	if got := value(t, AnalysesTotal.WithLabelValues("point", "error")); got != before+1 {
		t.Errorf("analysesTotal{point,error} = %v, want %v", got, before+1)
	}

	SetTrackedRegions([]string{"tuolumne"})
	defer SetTrackedRegions(nil)
	before = value(t, AnalysesByRegionTotal.WithLabelValues("tuolumne"))
	RecordAnalysis("region", "tuolumne", time.Millisecond, nil)
	if got := value(t, AnalysesByRegionTotal.WithLabelValues("tuolumne")); got != before+1 {
		t.Errorf("analysesByRegionTotal{tuolumne} = %v, want %v", got, before+1)
	}
}

func TestRecordShutdownInFlight(t *testing.T) {
	RecordShutdownInFlight(7)
	if got := value(t, ShutdownInFlightRequests); got != 7 {
		t.Errorf("shutdownInFlightRequests = %v, want 7", got)
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()
	RecordSeasonQuality("partial")
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"httpRequestsTotal", "seasonsByQualityTotal"} {
		if !strings.Contains(body, name) {
			t.Errorf("MetricsHandler response missing %s", name)
		}
	}
}
