package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveIngestCountsBySourceAndOutcome(t *testing.T) {
	m := New()
	m.ObserveIngest("mqtt", "inserted")
	m.ObserveIngest("mqtt", "inserted")
	m.ObserveIngest("dataset", "invalid")

	if got := testutil.ToFloat64(m.ingestTotal.WithLabelValues("mqtt", "inserted")); got != 2 {
		t.Fatalf("expected 2 inserted mqtt records, got %v", got)
	}
	if got := testutil.ToFloat64(m.ingestTotal.WithLabelValues("dataset", "invalid")); got != 1 {
		t.Fatalf("expected 1 invalid dataset record, got %v", got)
	}
}

func TestHandlerExposesRegisteredSeries(t *testing.T) {
	m := New()
	m.ObserveDetection("org", 15*time.Millisecond)

	wrapped := m.WrapHandler("teapot", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`uplinkdash_anomaly_detection_duration_seconds_count{scope="org"} 1`,
		`uplinkdash_http_requests_total{route="teapot",status="418"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in exposition output", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveIngest("mqtt", "inserted")
	m.ObserveDetection("device", time.Second)
	rec := httptest.NewRecorder()
	m.WrapHandler("x", http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected wrapped handler to run, got %d", rec.Code)
	}
}
