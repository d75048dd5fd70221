package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/engine"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/metrics"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
)

type fakeScanner struct {
	calls  atomic.Int32
	report *models.ScanReport
	err    error
}

func (f *fakeScanner) Run(context.Context, engine.ScanRequest) (*models.ScanReport, error) {
	n := f.calls.Add(1)
	if f.report == nil {
		return nil, f.err
	}
	r := *f.report
	r.ScanID = fmt.Sprintf("scan-%d", n)
	return &r, f.err
}

func newWatcher(t *testing.T, sc Scanner, opts Options) *Watcher {
	t.Helper()
	if opts.Schedule == "" {
		opts.Schedule = "@every 1h"
	}
	opts.Logger = zerolog.Nop()
	w, err := New(sc, opts)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

// ── New ───────────────────────────────────────────────────────────────────────

func TestNew_RejectsBadSchedule(t *testing.T) {
	if _, err := New(&fakeScanner{}, Options{Schedule: "sometimes"}); err == nil {
		t.Error("expected schedule parse error")
	}
}

// ── RunOnce ───────────────────────────────────────────────────────────────────

func TestRunOnce_StoresReport(t *testing.T) {
	sc := &fakeScanner{report: &models.ScanReport{AccountID: "111122223333"}}
	w := newWatcher(t, sc, Options{})
	if w.LastReport() != nil {
		t.Fatal("no report before first scan")
	}
	w.RunOnce(context.Background())
	if r := w.LastReport(); r == nil || r.ScanID != "scan-1" {
		t.Fatalf("unexpected report %+v", r)
	}
}

func TestRunOnce_FailureKeepsPreviousReport(t *testing.T) {
	sc := &fakeScanner{report: &models.ScanReport{}}
	w := newWatcher(t, sc, Options{})
	w.RunOnce(context.Background())

	sc.report = nil
	sc.err = errors.New("load scan state: disk gone")
	w.RunOnce(context.Background())

	if r := w.LastReport(); r == nil || r.ScanID != "scan-1" {
		t.Errorf("expected the first report to be kept, got %+v", r)
	}
	if st := w.status(); st.Status != "degraded" || !strings.Contains(st.LastError, "disk gone") || st.Runs != 2 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestRunOnce_TimeoutStillRecordsReport(t *testing.T) {
	sc := &fakeScanner{report: &models.ScanReport{TimedOut: true}, err: fmt.Errorf("%w after 1m", scanerr.ErrScanTimeout)}
	w := newWatcher(t, sc, Options{})
	w.RunOnce(context.Background())
	if r := w.LastReport(); r == nil || !r.TimedOut {
		t.Errorf("timed-out report must be recorded, got %+v", r)
	}
}

// ── HTTP ──────────────────────────────────────────────────────────────────────

func TestRouter_Healthz(t *testing.T) {
	w := newWatcher(t, &fakeScanner{}, Options{})
	rec := get(t, w.Router(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Status != "ok" || st.NextRun.IsZero() {
		t.Errorf("unexpected health %+v", st)
	}
}

func TestRouter_LastScan(t *testing.T) {
	sc := &fakeScanner{report: &models.ScanReport{AccountID: "111122223333"}}
	w := newWatcher(t, sc, Options{})
	h := w.Router()

	if rec := get(t, h, "/v1/scans/last"); rec.Code != http.StatusNotFound {
		t.Errorf("before first scan: status %d; want 404", rec.Code)
	}

	w.RunOnce(context.Background())
	rec := get(t, h, "/v1/scans/last")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var r models.ScanReport
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatal(err)
	}
	if r.ScanID != "scan-1" || r.AccountID != "111122223333" {
		t.Errorf("unexpected report %+v", r)
	}
}

func TestRouter_MetricsCountsRequests(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	w := newWatcher(t, &fakeScanner{}, Options{Metrics: m})
	h := w.Router()
	get(t, h, "/healthz")

	rec := get(t, h, "/metrics")
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `path="/healthz"`) {
		t.Errorf("expected healthz request in metrics:\n%s", body)
	}
}

func TestRouter_UnknownPath(t *testing.T) {
	w := newWatcher(t, &fakeScanner{}, Options{})
	if rec := get(t, w.Router(), "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("status %d; want 404", rec.Code)
	}
}

// ── Run ───────────────────────────────────────────────────────────────────────

func TestRun_RunOnStartThenStops(t *testing.T) {
	sc := &fakeScanner{report: &models.ScanReport{}}
	w := newWatcher(t, sc, Options{RunOnStart: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for sc.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if sc.calls.Load() != 1 {
		t.Errorf("scans: got %d; want 1", sc.calls.Load())
	}
}

func TestCronLogger_DoesNotPanicOnOddKeys(t *testing.T) {
	l := cronLogger{log: zerolog.Nop()}
	l.Info("tick", "entry", 1, "dangling")
	l.Error(errors.New("boom"), "job panicked")
}
