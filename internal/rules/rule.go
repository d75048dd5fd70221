package rules

import (
	"time"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/policy"
)

// RuleContext carries everything a rule may read for one resource.
// It is the sole input to Rule.Evaluate and is passed by value; rules must
// never make network calls or read external state.
type RuleContext struct {
	// AccountID is the cloud account being evaluated.
	AccountID string

	// Profile is the credential profile name for this scan.
	Profile string

	// Resource is the normalized resource under evaluation.
	Resource models.Resource

	// SensitivePorts is the configured set of ports that must not be open
	// to the internet. The zero value falls back to DefaultSensitivePorts.
	SensitivePorts PortSet

	// Policy holds the active PolicyConfig. May be nil when no policy file is
	// loaded; rules must treat nil as "use defaults".
	Policy *policy.PolicyConfig

	// Now stamps DetectedAt. Zero means time.Now().UTC().
	Now time.Time
}

func (c RuleContext) now() time.Time {
	if c.Now.IsZero() {
		return time.Now().UTC()
	}
	return c.Now
}

func (c RuleContext) sensitivePorts() PortSet {
	if c.SensitivePorts.IsEmpty() {
		return DefaultSensitivePorts
	}
	return c.SensitivePorts
}

// Rule is a single deterministic posture rule.
// Rules must be stateless and safe to call concurrently.
// They must never call a provider SDK or any external service.
type Rule interface {
	// ID returns the unique, stable identifier for this rule
	// (e.g. "bucket-public-access").
	ID() string

	// Name returns a short human-readable rule name.
	Name() string

	// Kinds lists the resource variants the rule applies to.
	Kinds() []models.ResourceKind

	// Evaluate inspects ctx.Resource and returns zero or more findings.
	// When the resource lacks the attributes the rule needs it returns a
	// *scanerr.RuleSkippedError and no findings.
	Evaluate(ctx RuleContext) ([]models.Finding, error)
}

// Evaluation is the merged result of running every applicable rule.
type Evaluation struct {
	Findings []models.Finding
	Skipped  []models.Diagnostic
}

// RuleRegistry manages the set of active rules and drives evaluation.
type RuleRegistry interface {
	// Register adds a rule to the registry. Panics on duplicate ID.
	Register(rule Rule)

	// All returns all registered rules in registration order.
	All() []Rule

	// Evaluate runs every rule applicable to ctx.Resource and merges results.
	Evaluate(ctx RuleContext) Evaluation
}

// newFinding fills the fields every rule sets the same way.
func newFinding(ctx RuleContext, ruleID string, sev models.Severity, explanation, recommendation string) models.Finding {
	ref := ctx.Resource.Ref()
	return models.Finding{
		ID:             ruleID + "-" + ref.ID,
		RuleID:         ruleID,
		Resource:       ref,
		Severity:       sev,
		Explanation:    explanation,
		Recommendation: recommendation,
		Fingerprint:    models.Fingerprint(ref.Key(), ruleID),
		Profile:        ctx.Profile,
		DetectedAt:     ctx.now(),
	}
}
