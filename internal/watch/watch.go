// Package watch runs scans on a cron schedule and serves health, metrics
// and the most recent report over HTTP.
package watch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/engine"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/metrics"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
)

// Scanner runs one scan pass. *engine.Scanner implements it.
type Scanner interface {
	Run(ctx context.Context, req engine.ScanRequest) (*models.ScanReport, error)
}

// Options configures a Watcher.
type Options struct {
	// Schedule is a standard cron expression or descriptor ("@every 1h").
	Schedule string
	// Listen is the HTTP address; empty disables the server.
	Listen string
	// RunOnStart triggers one scan immediately instead of waiting for the
	// first tick.
	RunOnStart bool

	Request engine.ScanRequest
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// ShutdownTimeout bounds the HTTP server drain. Defaults to 10s.
	ShutdownTimeout time.Duration
}

// Watcher owns the cron scheduler and the HTTP server.
type Watcher struct {
	scanner  Scanner
	opts     Options
	schedule cron.Schedule
	logger   zerolog.Logger

	mu       sync.RWMutex
	last     *models.ScanReport
	lastErr  error
	lastRun  time.Time
	runs     int
	scanning bool
}

// New validates the schedule and returns a Watcher.
func New(scanner Scanner, opts Options) (*Watcher, error) {
	sched, err := cron.ParseStandard(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", opts.Schedule, err)
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &Watcher{
		scanner:  scanner,
		opts:     opts,
		schedule: sched,
		logger:   opts.Logger.With().Str("component", "watch").Logger(),
	}, nil
}

// RunOnce executes one scan and records its result for /v1/scans/last.
// A scan that ends in error (other than a timeout, which still yields a
// report) keeps the previous report.
func (w *Watcher) RunOnce(ctx context.Context) {
	w.setScanning(true)
	defer w.setScanning(false)

	report, err := w.scanner.Run(ctx, w.opts.Request)

	w.mu.Lock()
	w.runs++
	w.lastRun = time.Now()
	w.lastErr = err
	if report != nil {
		w.last = report
	}
	w.mu.Unlock()

	switch {
	case err == nil:
	case errors.Is(err, scanerr.ErrScanTimeout):
		w.logger.Warn().Err(err).Msg("scheduled scan timed out")
	default:
		w.logger.Error().Err(err).Msg("scheduled scan failed")
	}
}

func (w *Watcher) setScanning(v bool) {
	w.mu.Lock()
	w.scanning = v
	w.mu.Unlock()
}

// Run starts the scheduler and the HTTP server and blocks until ctx is
// canceled. An in-flight scan is allowed to finish before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	clog := cronLogger{log: w.logger}
	c := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	c.Schedule(w.schedule, cron.FuncJob(func() { w.RunOnce(ctx) }))

	var srv *http.Server
	errCh := make(chan error, 1)
	if w.opts.Listen != "" {
		srv = &http.Server{
			Addr:              w.opts.Listen,
			Handler:           w.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("watch server: %w", err)
			}
		}()
		w.logger.Info().Str("listen", w.opts.Listen).Msg("watch server started")
	}

	c.Start()
	w.logger.Info().Str("schedule", w.opts.Schedule).Msg("scheduler started")
	var startRun sync.WaitGroup
	if w.opts.RunOnStart {
		job := c.Entries()[0].WrappedJob
		startRun.Add(1)
		go func() {
			defer startRun.Done()
			job.Run()
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	stopped := c.Stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
			runErr = fmt.Errorf("shutdown watch server: %w", err)
		}
	}
	<-stopped.Done()
	startRun.Wait()
	w.logger.Info().Msg("watch stopped")
	return runErr
}

// Status is the body of /healthz.
type Status struct {
	Status    string    `json:"status"`
	Scanning  bool      `json:"scanning"`
	Runs      int       `json:"runs"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	NextRun   time.Time `json:"next_run"`
}

func (w *Watcher) status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := Status{
		Status:   "ok",
		Scanning: w.scanning,
		Runs:     w.runs,
		LastRun:  w.lastRun,
		NextRun:  w.schedule.Next(time.Now()),
	}
	if w.lastErr != nil {
		s.Status = "degraded"
		s.LastError = w.lastErr.Error()
	}
	return s
}

// LastReport returns the most recent report, or nil before the first scan.
func (w *Watcher) LastReport() *models.ScanReport {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
