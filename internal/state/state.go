// Package state holds the persisted fingerprint set that lets scans
// recognise issues they have already reported.
package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
)

// Entry is what is remembered about one fingerprint.
type Entry struct {
	Fingerprint string              `json:"fingerprint"`
	ResourceKey string              `json:"resource_key"`
	Kind        models.ResourceKind `json:"kind"`
	RuleID      string              `json:"rule_id"`
	FirstSeen   time.Time           `json:"first_seen"`
	LastSeen    time.Time           `json:"last_seen"`
}

// ScanState is the process-wide fingerprint map. All methods are safe for
// concurrent use; writers are serialised by an internal mutex.
type ScanState struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New returns an empty ScanState.
func New() *ScanState {
	return &ScanState{entries: make(map[string]Entry)}
}

// FromEntries builds a ScanState from a list of entries.
func FromEntries(entries []Entry) *ScanState {
	s := New()
	for _, e := range entries {
		s.entries[e.Fingerprint] = e
	}
	return s
}

func (s *ScanState) Get(fp string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[fp]
	return e, ok
}

func (s *ScanState) Put(e Entry) {
	s.mu.Lock()
	s.entries[e.Fingerprint] = e
	s.mu.Unlock()
}

// Update runs fn on the entry for fp under the write lock. fn receives the
// current entry (zero value and false when absent) and returns the entry
// to store, or false to delete it.
func (s *ScanState) Update(fp string, fn func(e Entry, ok bool) (Entry, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[fp]
	next, keep := fn(cur, ok)
	if !keep {
		delete(s.entries, fp)
		return
	}
	next.Fingerprint = fp
	s.entries[fp] = next
}

// Delete removes fp and reports whether it was present.
func (s *ScanState) Delete(fp string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[fp]
	delete(s.entries, fp)
	return ok
}

// DeleteResource removes every entry for resourceKey and returns the count.
func (s *ScanState) DeleteResource(resourceKey string) int {
	return s.DeleteFunc(func(e Entry) bool { return e.ResourceKey == resourceKey })
}

// DeleteFunc removes every entry for which fn returns true.
func (s *ScanState) DeleteFunc(fn func(Entry) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for fp, e := range s.entries {
		if fn(e) {
			delete(s.entries, fp)
			n++
		}
	}
	return n
}

func (s *ScanState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns a copy of all entries sorted by resource key, then rule.
func (s *ScanState) Entries() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ResourceKey != out[j].ResourceKey {
			return out[i].ResourceKey < out[j].ResourceKey
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}

// Snapshot returns an independent copy suitable for persisting while
// workers keep writing to s.
func (s *ScanState) Snapshot() *ScanState {
	return FromEntries(s.Entries())
}

// Store persists ScanState. Save must leave the previous state intact if it
// fails part-way.
type Store interface {
	Load(ctx context.Context) (*ScanState, error)
	Save(ctx context.Context, s *ScanState) error
	Close() error
}
