// Package notify delivers new findings to an alert channel.
//
// Delivery is best effort and at most once per suppression window: the
// scanner records a fingerprint before calling Notify, so a failed delivery
// is reported but never retried on a later scan.
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
)

// Notifier sends one finding. Implementations must be safe for concurrent
// use.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, f models.Finding) error
}

// Nop discards every finding. Used for the "none" channel.
type Nop struct{}

func (Nop) Name() string                                 { return "none" }
func (Nop) Notify(context.Context, models.Finding) error { return nil }

// LogNotifier writes each finding as a structured log event.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, f models.Finding) error {
	n.Logger.Warn().
		Str("rule_id", f.RuleID).
		Str("resource", f.Resource.Key()).
		Str("region", f.Resource.Region).
		Str("severity", string(f.Severity)).
		Str("fingerprint", f.Fingerprint).
		Msg(Subject(f))
	return nil
}
