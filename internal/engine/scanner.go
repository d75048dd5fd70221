package engine

import (
	"context"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/metrics"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/notify"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/policy"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/rules"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/state"
)

// Enumerator lists and fetches the resources of one provider account.
// List is cheap and returns identities only; Fetch retrieves the full
// configuration of one resource.
type Enumerator interface {
	Provider() string
	Kinds() []models.ResourceKind
	List(ctx context.Context, kind models.ResourceKind) ([]models.ResourceRef, error)
	Fetch(ctx context.Context, ref models.ResourceRef) (models.Payload, error)
}

// Scoped is implemented by enumerators bound to a single account or
// project. The scanner uses it to limit state garbage collection to what
// the enumerator could actually see.
type Scoped interface {
	AccountID() string
}

// ScanRequest identifies the scope of one Run.
type ScanRequest struct {
	Profile   string
	AccountID string
	Regions   []string
}

// Options tunes a Scanner. Zero values fall back to the defaults below.
type Options struct {
	// Workers bounds the number of resources processed concurrently.
	Workers int

	// ScanTimeout bounds the whole scan. Resources not started when it
	// elapses are skipped; in-flight ones run to completion.
	ScanTimeout time.Duration

	// ResourceTimeout bounds the fetch, evaluate and notify of one resource.
	ResourceTimeout time.Duration

	// SensitivePorts overrides rules.DefaultSensitivePorts.
	SensitivePorts rules.PortSet

	// Expiry is how long a fingerprint suppresses re-notification. Zero
	// means forever.
	Expiry time.Duration

	// Kinds restricts the scan. Empty means every kind an enumerator offers.
	Kinds []models.ResourceKind

	// CheckpointEvery saves state after that many newly admitted findings.
	// Zero disables intermediate checkpoints.
	CheckpointEvery int

	// ProviderRetries is how often a transient List or Fetch failure is
	// retried, starting at RetryInterval.
	ProviderRetries uint64
	RetryInterval   time.Duration

	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// Now overrides the clock in tests.
	Now func() time.Time
}

const (
	defaultWorkers         = 8
	defaultResourceTimeout = 2 * time.Minute
	defaultRetryInterval   = 500 * time.Millisecond
)

// Scanner runs posture scans. It holds no per-scan state, so one Scanner
// may serve repeated Runs (pw watch) but not concurrent ones against the
// same store.
type Scanner struct {
	enumerators []Enumerator
	registry    rules.RuleRegistry
	store       state.Store
	notifier    notify.Notifier
	policy      *policy.PolicyConfig
	opts        Options
	logger      zerolog.Logger
}

// NewScanner wires a Scanner. A nil notifier behaves like notify.Nop.
func NewScanner(
	enumerators []Enumerator,
	registry rules.RuleRegistry,
	store state.Store,
	notifier notify.Notifier,
	policyCfg *policy.PolicyConfig,
	opts Options,
) *Scanner {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.ResourceTimeout <= 0 {
		opts.ResourceTimeout = defaultResourceTimeout
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Scanner{
		enumerators: enumerators,
		registry:    registry,
		store:       store,
		notifier:    notifier,
		policy:      policyCfg,
		opts:        opts,
		logger:      opts.Logger.With().Str("component", "scanner").Logger(),
	}
}

// enabledKinds returns the kinds of e that this scanner should list.
func (s *Scanner) enabledKinds(e Enumerator) []models.ResourceKind {
	if len(s.opts.Kinds) == 0 {
		return e.Kinds()
	}
	var out []models.ResourceKind
	for _, k := range e.Kinds() {
		if slices.Contains(s.opts.Kinds, k) {
			out = append(out, k)
		}
	}
	return out
}
