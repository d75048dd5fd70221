package rules

import (
	"errors"
	"fmt"
	"slices"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
)

// DefaultRuleRegistry is a simple, ordered, in-memory registry.
// Register panics on duplicate rule IDs to catch wiring mistakes at startup.
// The registry is read-only after wiring, so Evaluate is safe for
// concurrent use.
type DefaultRuleRegistry struct {
	rules []Rule
	index map[string]Rule
}

// NewDefaultRuleRegistry returns an empty registry ready for rule registration.
func NewDefaultRuleRegistry() *DefaultRuleRegistry {
	return &DefaultRuleRegistry{
		index: make(map[string]Rule),
	}
}

// Register adds rule to the registry. Panics if the same ID is registered twice.
func (r *DefaultRuleRegistry) Register(rule Rule) {
	if _, exists := r.index[rule.ID()]; exists {
		panic(fmt.Sprintf("duplicate rule ID: %q", rule.ID()))
	}
	r.rules = append(r.rules, rule)
	r.index[rule.ID()] = rule
}

// All returns all registered rules in registration order.
func (r *DefaultRuleRegistry) All() []Rule {
	return r.rules
}

// IDs returns every registered rule ID in registration order.
func (r *DefaultRuleRegistry) IDs() []string {
	ids := make([]string, 0, len(r.rules))
	for _, rule := range r.rules {
		ids = append(ids, rule.ID())
	}
	return ids
}

// Lookup returns the rule registered under id.
func (r *DefaultRuleRegistry) Lookup(id string) (Rule, bool) {
	rule, ok := r.index[id]
	return rule, ok
}

// ForKind returns the rules that apply to kind, in registration order.
func (r *DefaultRuleRegistry) ForKind(kind models.ResourceKind) []Rule {
	var out []Rule
	for _, rule := range r.rules {
		if slices.Contains(rule.Kinds(), kind) {
			out = append(out, rule)
		}
	}
	return out
}

// Evaluate runs every rule applicable to ctx.Resource and concatenates the
// results. A rule that returns an error contributes one RuleSkipped
// diagnostic, and no findings unless the error is a partial skip; the
// remaining rules still run.
func (r *DefaultRuleRegistry) Evaluate(ctx RuleContext) Evaluation {
	var ev Evaluation
	if ctx.Resource == nil {
		return ev
	}
	key := ctx.Resource.Ref().Key()
	for _, rule := range r.ForKind(ctx.Resource.Kind()) {
		findings, err := evaluateOne(rule, ctx)
		if err != nil {
			ev.Skipped = append(ev.Skipped, models.Diagnostic{
				Kind:        models.DiagRuleSkipped,
				ResourceKey: key,
				Stage:       models.StageEvaluated,
				RuleID:      rule.ID(),
				Reason:      skipReason(err),
			})
		}
		ev.Findings = append(ev.Findings, findings...)
	}
	return ev
}

// evaluateOne isolates a single rule so a panic is reported as a skip.
func evaluateOne(rule Rule, ctx RuleContext) (findings []models.Finding, err error) {
	defer func() {
		if p := recover(); p != nil {
			findings = nil
			err = scanerr.Skip(rule.ID(), fmt.Sprintf("panic: %v", p))
		}
	}()
	findings, err = rule.Evaluate(ctx)
	if err != nil {
		var rs *scanerr.RuleSkippedError
		if errors.As(err, &rs) && rs.Partial {
			return findings, err
		}
		return nil, err
	}
	return findings, nil
}

func skipReason(err error) string {
	var rs *scanerr.RuleSkippedError
	if errors.As(err, &rs) {
		return rs.Reason
	}
	return err.Error()
}
