package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/dedup"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/normalize"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/policy"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/rules"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/state"
)

const (
	reasonScanTimeout  = "scan timeout"
	reasonScanCanceled = "scan canceled"
)

// job is one listed resource waiting to be processed.
type job struct {
	enum Enumerator
	ref  models.ResourceRef
}

// Run performs one full scan: load state, list, process every resource,
// collect stale fingerprints and save state.
//
// Recoverable problems never abort the scan; they end up as report
// diagnostics. A state load or save failure is returned with a nil report.
// When the scan deadline elapses the partial report is returned together
// with an error wrapping scanerr.ErrScanTimeout.
func (s *Scanner) Run(ctx context.Context, req ScanRequest) (*models.ScanReport, error) {
	started := s.opts.Now()
	scanID := uuid.NewString()
	logger := s.logger.With().Str("scan_id", scanID).Logger()

	st, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load scan state: %w", err)
	}
	dd := dedup.New(st, dedup.Options{Expiry: s.opts.Expiry, Now: s.opts.Now})

	scanCtx := ctx
	if s.opts.ScanTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, s.opts.ScanTimeout)
		defer cancel()
	}

	logger.Info().
		Int("enumerators", len(s.enumerators)).
		Int("state_entries", st.Len()).
		Msg("scan started")

	run := newScanRun()
	var saveMu sync.Mutex

	jobs, listComplete := s.listAll(scanCtx, run, logger)
	notStarted := s.processAll(scanCtx, jobs, run, dd, req, &saveMu, logger)

	interrupted := scanCtx.Err() != nil || !listComplete
	timedOut := errors.Is(scanCtx.Err(), context.DeadlineExceeded)

	collected := 0
	if !interrupted {
		collected = dd.Collect(started, run.covered)
		collected += dd.Prune()
	} else {
		logger.Warn().Int("not_started", notStarted).Msg("scan interrupted, skipping state garbage collection")
	}

	if err := run.fatalErr(); err != nil {
		return nil, err
	}
	saveMu.Lock()
	err = s.store.Save(context.WithoutCancel(ctx), st)
	saveMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("save scan state: %w", err)
	}

	findings, outcomes, diags := run.sorted()
	if timedOut {
		diags = append(diags, models.Diagnostic{
			Kind:   models.DiagScanTimeout,
			Stage:  models.StageSkipped,
			Reason: fmt.Sprintf("scan deadline of %s elapsed; %d resource(s) not started", s.opts.ScanTimeout, notStarted),
		})
	}

	report := &models.ScanReport{
		ScanID:      scanID,
		StartedAt:   started,
		FinishedAt:  s.opts.Now(),
		Profile:     req.Profile,
		AccountID:   req.AccountID,
		Regions:     req.Regions,
		TimedOut:    timedOut,
		Findings:    findings,
		Resources:   outcomes,
		Diagnostics: diags,
	}
	models.ComputeSummary(&report.Summary, findings, outcomes)
	report.Summary.StateEntries = st.Len()
	report.Summary.StateCollected = collected

	s.recordMetrics(report)
	logger.Info().
		Int("resources", report.Summary.ResourcesScanned).
		Int("skipped", report.Summary.ResourcesSkipped).
		Int("findings", report.Summary.TotalFindings).
		Int("notified", report.Summary.Notified).
		Int("suppressed", report.Summary.Suppressed).
		Int("diagnostics", len(diags)).
		Int("state_collected", collected).
		Dur("duration", report.FinishedAt.Sub(started)).
		Msg("scan finished")

	switch {
	case timedOut:
		return report, fmt.Errorf("%w after %s: %d resource(s) not started", scanerr.ErrScanTimeout, s.opts.ScanTimeout, notStarted)
	case ctx.Err() != nil:
		return report, fmt.Errorf("scan canceled: %w", ctx.Err())
	}
	return report, nil
}

// listAll lists every (enumerator, kind) pair concurrently. A failed pair
// becomes a ResourceUnreachable diagnostic. The second result is false
// when the scan context ended before listing finished.
func (s *Scanner) listAll(ctx context.Context, run *scanRun, logger zerolog.Logger) ([]job, bool) {
	var (
		mu   sync.Mutex
		jobs []job
		g    errgroup.Group
	)
	g.SetLimit(s.opts.Workers)

	for _, e := range s.enumerators {
		account := ""
		if sc, ok := e.(Scoped); ok {
			account = sc.AccountID()
		}
		for _, kind := range s.enabledKinds(e) {
			g.Go(func() error {
				var refs []models.ResourceRef
				err := s.retry(ctx, func() error {
					var err error
					refs, err = e.List(ctx, kind)
					return err
				})
				if err != nil {
					key := e.Provider() + ":" + account + ":" + string(kind) + ":*"
					ue := &scanerr.ResourceUnreachableError{Key: key, Stage: string(models.StageEnumerated), Class: scanerr.ClassOf(err), Err: err}
					logger.Warn().Err(ue).Str("resource", key).Str("stage", ue.Stage).Msg("list failed")
					run.addDiagnostic(models.Diagnostic{
						Kind:        models.DiagResourceUnreachable,
						ResourceKey: key,
						Stage:       models.StageEnumerated,
						Reason:      err.Error(),
					})
					return nil
				}
				run.markListed(e.Provider(), account, kind)
				logger.Debug().Str("provider", e.Provider()).Str("kind", string(kind)).Int("count", len(refs)).Msg("listed resources")

				mu.Lock()
				for _, ref := range refs {
					jobs = append(jobs, job{enum: e, ref: ref})
				}
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()
	return jobs, ctx.Err() == nil
}

// processAll runs every job on a bounded pool and returns how many were
// never started because the scan context ended.
func (s *Scanner) processAll(
	ctx context.Context,
	jobs []job,
	run *scanRun,
	dd *dedup.Deduplicator,
	req ScanRequest,
	saveMu *sync.Mutex,
	logger zerolog.Logger,
) int {
	var (
		g          errgroup.Group
		notStarted int
		nsMu       sync.Mutex
	)
	g.SetLimit(s.opts.Workers)

	skip := func(j job) {
		nsMu.Lock()
		notStarted++
		nsMu.Unlock()
		run.finish(models.ResourceOutcome{Resource: j.ref, Stage: models.StageSkipped, Reason: stopReason(ctx)}, nil, nil, false, nil)
	}

	for _, j := range jobs {
		if ctx.Err() != nil {
			skip(j)
			continue
		}
		g.Go(func() error {
			// The deadline may have passed while this goroutine waited
			// for a pool slot.
			if ctx.Err() != nil {
				skip(j)
				return nil
			}
			s.processOne(ctx, j, run, dd, req, saveMu, logger)
			return nil
		})
	}
	_ = g.Wait()
	return notStarted
}

func stopReason(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return reasonScanTimeout
	}
	return reasonScanCanceled
}

// processOne drives one resource through fetch, normalize, evaluate,
// deduplicate and notify. It never returns an error: every failure is
// recorded on run.
func (s *Scanner) processOne(
	scanCtx context.Context,
	j job,
	run *scanRun,
	dd *dedup.Deduplicator,
	req ScanRequest,
	saveMu *sync.Mutex,
	logger zerolog.Logger,
) {
	// Once started a resource runs to completion even if the scan deadline
	// passes; only its own timeout applies.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(scanCtx), s.opts.ResourceTimeout)
	defer cancel()

	ref := j.ref
	key := ref.Key()
	rlog := logger.With().Str("resource", key).Logger()
	outcome := models.ResourceOutcome{Resource: ref, Stage: models.StageEnumerated}

	var payload models.Payload
	err := s.retry(ctx, func() error {
		var err error
		payload, err = j.enum.Fetch(ctx, ref)
		return err
	})
	if err != nil {
		ue := &scanerr.ResourceUnreachableError{Key: key, Stage: string(models.StageEnumerated), Class: scanerr.ClassOf(err), Err: err}
		rlog.Warn().Err(ue).Str("stage", ue.Stage).Msg("fetch failed")
		outcome.Stage, outcome.Reason = models.StageSkipped, "unreachable: "+err.Error()
		run.finish(outcome, nil, []models.Diagnostic{{
			Kind:        models.DiagResourceUnreachable,
			ResourceKey: key,
			Stage:       models.StageEnumerated,
			Reason:      err.Error(),
		}}, false, nil)
		return
	}

	res, err := normalize.Normalize(payload)
	if err != nil {
		rlog.Warn().Err(err).Str("stage", string(models.StageNormalized)).Msg("malformed resource")
		outcome.Stage, outcome.Reason = models.StageSkipped, "malformed: "+err.Error()
		run.finish(outcome, nil, []models.Diagnostic{{
			Kind:        models.DiagMalformedResource,
			ResourceKey: key,
			Stage:       models.StageNormalized,
			Reason:      err.Error(),
		}}, false, nil)
		return
	}

	ev := s.registry.Evaluate(rules.RuleContext{
		AccountID:      ref.AccountID,
		Profile:        req.Profile,
		Resource:       res,
		SensitivePorts: s.opts.SensitivePorts,
		Policy:         s.policy,
		Now:            s.opts.Now(),
	})
	var skippedRules []string
	for _, d := range ev.Skipped {
		rlog.Debug().Str("stage", string(d.Stage)).Str("rule", d.RuleID).Str("reason", d.Reason).Msg("rule skipped")
		skippedRules = append(skippedRules, d.RuleID)
	}
	diags := append([]models.Diagnostic(nil), ev.Skipped...)

	findings := policy.ApplyPolicy(ev.Findings, res.Kind().Domain(), s.policy)
	outcome.Stage = models.StageEvaluated

	emitted := 0
	for i := range findings {
		f := &findings[i]
		if !dd.Admit(*f) {
			f.Status = models.StatusSuppressed
			rlog.Debug().Str("rule", f.RuleID).Str("stage", string(models.StageSuppressed)).Msg("finding suppressed")
			continue
		}
		emitted++
		if run.admit(s.opts.CheckpointEvery) {
			s.checkpoint(ctx, dd.State(), run, saveMu, rlog)
		}

		if err := s.notifier.Notify(ctx, *f); err != nil {
			f.Status = models.StatusNotifyFailed
			rlog.Error().Err(err).Str("rule", f.RuleID).Str("stage", string(models.StageNotified)).Msg("notification failed")
			diags = append(diags, models.Diagnostic{
				Kind:        models.DiagNotificationFailed,
				ResourceKey: key,
				Stage:       models.StageNotified,
				RuleID:      f.RuleID,
				Reason:      err.Error(),
			})
			s.opts.Metrics.RecordNotification(s.notifier.Name(), "failed")
			continue
		}
		f.Status = models.StatusNotified
		s.opts.Metrics.RecordNotification(s.notifier.Name(), "ok")
		rlog.Info().Str("rule", f.RuleID).Str("severity", string(f.Severity)).Str("stage", string(models.StageNotified)).Msg("finding notified")
	}

	switch {
	case emitted > 0:
		outcome.Stage = models.StageNotified
	case len(findings) > 0:
		outcome.Stage = models.StageSuppressed
	}
	outcome.Findings = len(findings)
	run.finish(outcome, findings, diags, true, skippedRules)
}

// checkpoint saves a point-in-time copy of the state. Saves are serialized
// so an older snapshot never overwrites a newer one.
func (s *Scanner) checkpoint(ctx context.Context, st *state.ScanState, run *scanRun, saveMu *sync.Mutex, logger zerolog.Logger) {
	saveMu.Lock()
	defer saveMu.Unlock()
	if err := s.store.Save(ctx, st.Snapshot()); err != nil {
		run.setFatal(fmt.Errorf("checkpoint scan state: %w", err))
		return
	}
	logger.Debug().Int("state_entries", st.Len()).Msg("state checkpoint saved")
}

// retry runs op with exponential backoff while it fails transiently.
func (s *Scanner) retry(ctx context.Context, op func() error) error {
	if s.opts.ProviderRetries == 0 {
		return op()
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.opts.RetryInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, s.opts.ProviderRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !scanerr.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (s *Scanner) recordMetrics(r *models.ScanReport) {
	m := s.opts.Metrics
	if m == nil {
		return
	}
	for _, o := range r.Resources {
		m.RecordResource(string(o.Resource.Kind), string(o.Stage))
	}
	for _, f := range r.Findings {
		m.RecordFinding(f.RuleID, string(f.Severity), string(f.Status))
	}
	for _, d := range r.Diagnostics {
		m.RecordDiagnostic(string(d.Kind))
	}
	m.SetStateEntries(r.Summary.StateEntries)

	result := "ok"
	if r.TimedOut {
		result = "timeout"
	}
	m.RecordScan(result, r.FinishedAt.Sub(r.StartedAt), time.Now())
}
