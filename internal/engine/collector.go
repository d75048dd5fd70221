package engine

import (
	"sort"
	"strings"
	"sync"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/state"
)

// scanRun accumulates the results of one Run. Workers append to it
// concurrently.
type scanRun struct {
	mu          sync.Mutex
	findings    []models.Finding
	outcomes    []models.ResourceOutcome
	diagnostics []models.Diagnostic

	// listed holds "provider:account:kind:" prefixes whose List succeeded.
	// Only entries under these prefixes are eligible for collection.
	listed map[string]struct{}
	// listedKinds holds "provider:kind" pairs for enumerators that are not
	// Scoped.
	listedKinds map[string]struct{}
	// inconclusive holds resource keys that were listed but not fully
	// evaluated, and "key\x00rule" pairs for skipped rules.
	inconclusive map[string]struct{}

	admitted int
	fatal    error
}

func newScanRun() *scanRun {
	return &scanRun{
		listed:       make(map[string]struct{}),
		listedKinds:  make(map[string]struct{}),
		inconclusive: make(map[string]struct{}),
	}
}

func (r *scanRun) addDiagnostic(d models.Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diagnostics = append(r.diagnostics, d)
}

func (r *scanRun) markListed(provider, account string, kind models.ResourceKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account == "" {
		r.listedKinds[provider+":"+string(kind)] = struct{}{}
		return
	}
	r.listed[provider+":"+account+":"+string(kind)+":"] = struct{}{}
}

// finish records the terminal outcome of one resource.
func (r *scanRun) finish(o models.ResourceOutcome, findings []models.Finding, diags []models.Diagnostic, conclusive bool, skippedRules []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	r.findings = append(r.findings, findings...)
	r.diagnostics = append(r.diagnostics, diags...)
	key := o.Resource.Key()
	if !conclusive {
		r.inconclusive[key] = struct{}{}
	}
	for _, id := range skippedRules {
		r.inconclusive[key+"\x00"+id] = struct{}{}
	}
}

// admit counts one newly admitted finding and reports whether a checkpoint
// is due.
func (r *scanRun) admit(every int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admitted++
	return every > 0 && r.admitted%every == 0
}

func (r *scanRun) setFatal(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal == nil {
		r.fatal = err
	}
}

func (r *scanRun) fatalErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

// covered reports whether a state entry was within reach of this scan, so
// that its absence means the issue is gone.
func (r *scanRun) covered(e state.Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inconclusive[e.ResourceKey]; ok {
		return false
	}
	if _, ok := r.inconclusive[e.ResourceKey+"\x00"+e.RuleID]; ok {
		return false
	}
	for prefix := range r.listed {
		if strings.HasPrefix(e.ResourceKey, prefix) {
			return true
		}
	}
	provider, _, _ := strings.Cut(e.ResourceKey, ":")
	_, ok := r.listedKinds[provider+":"+string(e.Kind)]
	return ok
}

// sorted returns the accumulated results in a stable order.
func (r *scanRun) sorted() ([]models.Finding, []models.ResourceOutcome, []models.Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()

	findings := append([]models.Finding(nil), r.findings...)
	models.SortFindings(findings)

	outcomes := append([]models.ResourceOutcome(nil), r.outcomes...)
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].Resource.Key() < outcomes[j].Resource.Key()
	})

	diags := append([]models.Diagnostic(nil), r.diagnostics...)
	sort.SliceStable(diags, func(i, j int) bool {
		if diags[i].ResourceKey != diags[j].ResourceKey {
			return diags[i].ResourceKey < diags[j].ResourceKey
		}
		if diags[i].Kind != diags[j].Kind {
			return diags[i].Kind < diags[j].Kind
		}
		return diags[i].RuleID < diags[j].RuleID
	})
	return findings, outcomes, diags
}
