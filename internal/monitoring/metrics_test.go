// internal/monitoring/metrics_test.go
package monitoring

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/velcourt/pageharvest/internal/proxy"
	"github.com/velcourt/pageharvest/pkg/types"
)

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics("testharvest")

	m.ObservePage("shop.example", "success", 120*time.Millisecond)
	m.ObservePage("shop.example", "failure", 0)
	m.ObserveDefense("challenge_marker")
	m.ObserveRetry("timeout")
	m.ObserveExtraction(0.5, []types.FieldError{{FieldName: "price"}})
	m.JobStarted()
	m.JobFinished(types.StatusCompleted)
	m.UpdatePoolStats(proxy.Stats{Total: 3, Active: 2, CoolingDown: 1, SuccessRate: 0.9})

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	if recorder.Code != 200 {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := recorder.Body.String()
	for _, want := range []string{
		`testharvest_pages_fetched_total{domain="shop.example",outcome="success"} 1`,
		`testharvest_defense_detections_total{reason="challenge_marker"} 1`,
		`testharvest_fetch_retries_total{classification="timeout"} 1`,
		`testharvest_records_extracted_total 1`,
		`testharvest_field_errors_total{field="price"} 1`,
		`testharvest_jobs_total{status="completed"} 1`,
		`testharvest_jobs_active 0`,
		`testharvest_proxy_pool_active 2`,
		`testharvest_proxy_pool_success_rate 0.9`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestMetricsInstancesAreIndependent(t *testing.T) {
	// Two instances must not collide on registration.
	a := NewMetrics("ns")
	b := NewMetrics("ns")
	a.JobStarted()
	b.JobStarted()
}

func TestHealthHandlerDegradedWithoutActiveProxies(t *testing.T) {
	pool := proxy.NewPool(&proxy.Config{
		Addresses:        []string{"p1:8080"},
		FailureThreshold: 1,
		Cooldown:         time.Hour,
	})
	handler := NewHealthHandler(pool)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/healthz", nil))
	if recorder.Code != 200 {
		t.Fatalf("expected healthy pool to report 200, got %d", recorder.Code)
	}

	entries := pool.Entries()
	pool.Report(entries[0], proxy.Outcome{Success: false})

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/healthz", nil))
	if recorder.Code != 503 {
		t.Errorf("expected degraded pool to report 503, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `"degraded"`) {
		t.Errorf("expected degraded status in body, got %s", recorder.Body.String())
	}
}
