package notify

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
)

// RetryPolicy bounds how hard Retrying tries before giving up.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Timeout caps one Notify call including all retries. Zero means the
	// caller's context is the only limit.
	Timeout time.Duration
}

// DefaultRetryPolicy is used when notify.retry is not configured.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	Timeout:         30 * time.Second,
}

// Retrying wraps a Notifier with exponential backoff. Only transient
// errors are retried. The final error is a *scanerr.NotificationFailedError.
type Retrying struct {
	next   Notifier
	policy RetryPolicy
	logger zerolog.Logger
}

// WithRetry wraps next. Nop is returned unwrapped.
func WithRetry(next Notifier, policy RetryPolicy, logger zerolog.Logger) Notifier {
	if _, ok := next.(Nop); ok {
		return next
	}
	return &Retrying{next: next, policy: policy, logger: logger}
}

func (r *Retrying) Name() string { return r.next.Name() }

func (r *Retrying) Notify(ctx context.Context, f models.Finding) error {
	if r.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.policy.Timeout)
		defer cancel()
	}

	eb := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		eb.InitialInterval = r.policy.InitialInterval
	}
	if r.policy.MaxInterval > 0 {
		eb.MaxInterval = r.policy.MaxInterval
	}
	eb.MaxElapsedTime = 0
	var b backoff.BackOff = backoff.WithMaxRetries(eb, r.policy.MaxRetries)
	b = backoff.WithContext(b, ctx)

	attempts := 0
	op := func() error {
		attempts++
		err := r.next.Notify(ctx, f)
		if err != nil && !scanerr.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	onRetry := func(err error, wait time.Duration) {
		r.logger.Debug().
			Err(err).
			Str("channel", r.next.Name()).
			Str("fingerprint", f.Fingerprint).
			Int("attempt", attempts).
			Dur("wait", wait).
			Msg("notification failed, retrying")
	}

	if err := backoff.RetryNotify(op, b, onRetry); err != nil {
		return &scanerr.NotificationFailedError{Fingerprint: f.Fingerprint, Attempts: attempts, Err: err}
	}
	return nil
}
