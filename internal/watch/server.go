package watch

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/output"
)

// Router returns the HTTP handler:
//
//	GET /healthz         scheduler status
//	GET /metrics         Prometheus exposition
//	GET /v1/scans/last   most recent scan report as JSON
func (w *Watcher) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(w.opts.Metrics.Middleware)

	r.Get("/healthz", w.handleHealth)
	r.Method(http.MethodGet, "/metrics", w.opts.Metrics.Handler())
	r.Get("/v1/scans/last", w.handleLastScan)

	r.NotFound(func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusNotFound, map[string]string{"message": "not found"})
	})
	return r
}

func (w *Watcher) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, w.status())
}

func (w *Watcher) handleLastScan(rw http.ResponseWriter, _ *http.Request) {
	report := w.LastReport()
	if report == nil {
		writeJSON(rw, http.StatusNotFound, map[string]string{"message": "no scan has completed yet"})
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	if err := output.WriteJSON(rw, report); err != nil {
		w.logger.Warn().Err(err).Msg("write scan report")
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
