package dedup

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/state"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func finding(id, rule string) models.Finding {
	ref := models.ResourceRef{Provider: "aws", AccountID: "1", Kind: models.KindBucket, ID: id}
	return models.Finding{RuleID: rule, Resource: ref, Fingerprint: models.Fingerprint(ref.Key(), rule)}
}

func TestShouldEmit_ThenRecord_Suppresses(t *testing.T) {
	d := New(state.New(), Options{})
	f := finding("b", "bucket-public-access")
	if !d.ShouldEmit(f) {
		t.Fatal("first ShouldEmit must be true")
	}
	d.Record(f)
	if d.ShouldEmit(f) {
		t.Fatal("ShouldEmit after Record must be false")
	}
}

func TestAdmit_TrueThenFalse(t *testing.T) {
	d := New(state.New(), Options{})
	f := finding("b", "bucket-public-access")
	if !d.Admit(f) {
		t.Error("first Admit must be true")
	}
	if d.Admit(f) {
		t.Error("second Admit must be false")
	}
}

func TestAdmit_DifferentExplanationSameFingerprint(t *testing.T) {
	d := New(state.New(), Options{})
	a := finding("b", "bucket-public-access")
	a.Explanation = "old text"
	b := finding("b", "bucket-public-access")
	b.Explanation = "new text"
	d.Admit(a)
	if d.Admit(b) {
		t.Error("finding with changed explanation must still be suppressed")
	}
}

func TestExpiry_ReEmitsAfterWindow(t *testing.T) {
	clock := newClock()
	d := New(state.New(), Options{Expiry: 24 * time.Hour, Now: clock.now})
	f := finding("b", "r")

	d.Admit(f)
	clock.advance(23 * time.Hour)
	if d.Admit(f) {
		t.Fatal("must stay suppressed inside the window")
	}
	clock.advance(time.Hour)
	if !d.Admit(f) {
		t.Fatal("must re-emit once the window elapsed")
	}
	// The re-emission starts a new window.
	e, _ := d.State().Get(f.Fingerprint)
	if !e.FirstSeen.Equal(clock.t) {
		t.Errorf("FirstSeen: got %v; want %v", e.FirstSeen, clock.t)
	}
	if d.Admit(f) {
		t.Error("must be suppressed again right after re-emission")
	}
}

func TestAdmit_RefreshesLastSeen(t *testing.T) {
	clock := newClock()
	d := New(state.New(), Options{Now: clock.now})
	f := finding("b", "r")
	d.Admit(f)
	clock.advance(time.Hour)
	d.Admit(f)
	e, _ := d.State().Get(f.Fingerprint)
	if !e.LastSeen.Equal(clock.t) {
		t.Errorf("LastSeen: got %v; want %v", e.LastSeen, clock.t)
	}
	if e.FirstSeen.Equal(e.LastSeen) {
		t.Error("FirstSeen must not move while suppressed")
	}
}

func TestAdmit_ConcurrentSingleWinner(t *testing.T) {
	d := New(state.New(), Options{})
	f := finding("b", "r")
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Admit(f) {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("want exactly one emitter, got %d", wins)
	}
}

func TestCollect_RemovesUnseenCoveredOnly(t *testing.T) {
	clock := newClock()
	d := New(state.New(), Options{Now: clock.now})
	gone := finding("gone", "r")
	kept := finding("kept", "r")
	hidden := finding("hidden", "r")
	d.Admit(gone)
	d.Admit(kept)
	d.Admit(hidden)

	clock.advance(time.Hour)
	scanStart := clock.t
	d.Admit(kept) // seen again in this scan

	n := d.Collect(scanStart, func(e state.Entry) bool {
		return e.ResourceKey != hidden.Resource.Key() // unreachable this scan
	})
	if n != 1 {
		t.Errorf("Collect removed %d; want 1", n)
	}
	if _, ok := d.State().Get(gone.Fingerprint); ok {
		t.Error("remediated finding must be collected")
	}
	if _, ok := d.State().Get(hidden.Fingerprint); !ok {
		t.Error("uncovered finding must be kept")
	}
	if !d.Admit(gone) {
		t.Error("collected finding must re-emit if it regresses")
	}
}

func TestPrune_RemovesExpired(t *testing.T) {
	clock := newClock()
	d := New(state.New(), Options{Expiry: time.Hour, Now: clock.now})
	d.Admit(finding("a", "r"))
	clock.advance(30 * time.Minute)
	d.Admit(finding("b", "r"))
	clock.advance(45 * time.Minute)
	if n := d.Prune(); n != 1 {
		t.Errorf("Prune removed %d; want 1", n)
	}
}

func TestPrune_NoExpiryNoop(t *testing.T) {
	d := New(state.New(), Options{})
	d.Admit(finding("a", "r"))
	if n := d.Prune(); n != 0 {
		t.Errorf("Prune with zero expiry removed %d", n)
	}
}

func TestClearResource(t *testing.T) {
	d := New(state.New(), Options{})
	f := finding("a", "r1")
	d.Admit(f)
	d.Admit(finding("a", "r2"))
	if n := d.ClearResource(f.Resource.Key()); n != 2 {
		t.Errorf("ClearResource: got %d; want 2", n)
	}
	if !d.ShouldEmit(f) {
		t.Error("cleared fingerprint must emit again")
	}
}
