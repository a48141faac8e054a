package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordProviderCountsFailures(t *testing.T) {
	m := New()
	m.RecordProvider("gemini", "transcribe", 0.2, nil)
	m.RecordProvider("gemini", "transcribe", 0.3, errors.New("boom"))

	if got := testutil.ToFloat64(m.ProviderRequests.WithLabelValues("gemini", "transcribe")); got != 2 {
		t.Fatalf("requests: want 2 got %v", got)
	}
	if got := testutil.ToFloat64(m.ProviderFailures.WithLabelValues("gemini", "transcribe")); got != 1 {
		t.Fatalf("failures: want 1 got %v", got)
	}
}

func TestNewIsIndependent(t *testing.T) {
	// two instances must not collide on registration
	a := New()
	b := New()
	a.AnswerFallbacks.Inc()
	if got := testutil.ToFloat64(b.AnswerFallbacks); got != 0 {
		t.Fatalf("registries leaked state: %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RecordHTTP("GET", "/health", "200", 0.01)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "vocalize_http_requests_total") {
		t.Fatalf("metrics output missing request counter")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordHTTP("GET", "/", "200", 0)
	m.RecordProvider("x", "y", 0, nil)
}
