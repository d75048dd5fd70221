// Package dedup decides whether a finding is new enough to notify about.
//
// A fingerprint recorded in ScanState suppresses the same finding until it
// expires (Expiry after FirstSeen) or is cleared, either explicitly or by
// Collect when the resource no longer shows the issue.
package dedup

import (
	"sync"
	"time"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/state"
)

// Options configures a Deduplicator.
type Options struct {
	// Expiry is how long after FirstSeen a fingerprint keeps suppressing.
	// Zero means fingerprints never expire on their own.
	Expiry time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Deduplicator wraps a ScanState with emit/record semantics. It is safe for
// concurrent use by scan workers.
type Deduplicator struct {
	state  *state.ScanState
	expiry time.Duration
	now    func() time.Time

	// mu makes Admit's check-and-record atomic.
	mu sync.Mutex
}

// New returns a Deduplicator over st.
func New(st *state.ScanState, opts Options) *Deduplicator {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Deduplicator{state: st, expiry: opts.Expiry, now: now}
}

// State returns the underlying ScanState.
func (d *Deduplicator) State() *state.ScanState { return d.state }

func (d *Deduplicator) expired(e state.Entry, now time.Time) bool {
	return d.expiry > 0 && now.Sub(e.FirstSeen) >= d.expiry
}

// ShouldEmit returns false iff f's fingerprint is present and not expired.
func (d *Deduplicator) ShouldEmit(f models.Finding) bool {
	e, ok := d.state.Get(f.Fingerprint)
	return !ok || d.expired(e, d.now())
}

// Record marks f as seen. A new or expired fingerprint starts a fresh
// suppression window; an active one only has LastSeen refreshed.
func (d *Deduplicator) Record(f models.Finding) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recordLocked(f, d.now())
}

// Admit atomically evaluates ShouldEmit and then records f. Suppressed
// findings still refresh LastSeen so Collect keeps them.
func (d *Deduplicator) Admit(f models.Finding) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	e, ok := d.state.Get(f.Fingerprint)
	emit := !ok || d.expired(e, now)
	d.recordLocked(f, now)
	return emit
}

func (d *Deduplicator) recordLocked(f models.Finding, now time.Time) {
	d.state.Update(f.Fingerprint, func(e state.Entry, ok bool) (state.Entry, bool) {
		if !ok || d.expired(e, now) {
			e = state.Entry{
				ResourceKey: f.Resource.Key(),
				Kind:        f.Resource.Kind,
				RuleID:      f.RuleID,
				FirstSeen:   now,
			}
		}
		e.LastSeen = now
		return e, true
	})
}

// Clear removes one fingerprint.
func (d *Deduplicator) Clear(fp string) bool { return d.state.Delete(fp) }

// ClearResource removes every fingerprint of one resource.
func (d *Deduplicator) ClearResource(resourceKey string) int {
	return d.state.DeleteResource(resourceKey)
}

// Collect is the garbage-collection pass run after a complete scan. It
// removes entries whose LastSeen predates scanStart, i.e. issues that were
// not observed again, for which covered returns true. Callers use covered
// to protect kinds and resources the scan could not reach.
func (d *Deduplicator) Collect(scanStart time.Time, covered func(state.Entry) bool) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.DeleteFunc(func(e state.Entry) bool {
		return e.LastSeen.Before(scanStart) && (covered == nil || covered(e))
	})
}

// Prune removes expired entries and returns how many were removed.
func (d *Deduplicator) Prune() int {
	if d.expiry <= 0 {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	return d.state.DeleteFunc(func(e state.Entry) bool { return d.expired(e, now) })
}
