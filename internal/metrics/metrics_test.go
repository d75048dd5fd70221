package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilMetrics_NoPanic(t *testing.T) {
	var m *Metrics
	m.RecordScan("ok", time.Second, time.Now())
	m.RecordResource("bucket", "notified")
	m.RecordFinding("r", "HIGH", "notified")
	m.RecordDiagnostic("RuleSkipped")
	m.RecordNotification("sns", "ok")
	m.SetStateEntries(3)
}

func TestRecordScan_Counts(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordScan("ok", 2*time.Second, time.Unix(1700000000, 0))
	m.RecordScan("timeout", time.Second, time.Unix(1700000100, 0))

	body := scrape(t, m)
	for _, want := range []string{
		`posturewatch_scan_runs_total{result="ok"} 1`,
		`posturewatch_scan_runs_total{result="timeout"} 1`,
		"posturewatch_scan_last_completed_timestamp_seconds 1.7000001e+09",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	return rec.Body.String()
}

func TestHandler_ExposesNamespace(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetStateEntries(7)
	m.RecordFinding("bucket-public-access", "HIGH", "notified")

	body := scrape(t, m)
	for _, want := range []string{"posturewatch_state_entries 7", "posturewatch_finding_detected_total"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
