package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// FieldError is one validation problem, addressed by its YAML path.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Reason }

const severityChoices = "CRITICAL, HIGH, MEDIUM, LOW, INFO"

type validator struct {
	errs []*FieldError
}

func (v *validator) addf(field, format string, args ...any) {
	v.errs = append(v.errs, &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
}

// severity records an error when value is set but not a severity name.
func (v *validator) severity(field, value string) {
	if value == "" {
		return
	}
	if _, _, ok := parseSeverity(value); !ok {
		v.addf(field, "invalid value %q; valid values: %s", value, severityChoices)
	}
}

// Validate checks cfg against the known domains and availableRuleIDs. It
// returns every problem, ordered by field, or nil when cfg is valid.
func Validate(cfg *PolicyConfig, availableRuleIDs []string) []error {
	if cfg == nil {
		return []error{errors.New("policy config is nil")}
	}
	known := make(map[string]bool, len(availableRuleIDs))
	for _, id := range availableRuleIDs {
		known[id] = true
	}

	v := &validator{}
	if cfg.Version != SupportedVersion {
		v.addf("version", "unsupported value %d; must be %d", cfg.Version, SupportedVersion)
	}
	for name, d := range cfg.Domains {
		field := "domains." + name
		if !isDomain(name) {
			v.addf(field, "unknown domain; valid values: %s", strings.Join(Domains, ", "))
		}
		v.severity(field+".min_severity", d.MinSeverity)
	}
	for id, r := range cfg.Rules {
		field := "rules." + id
		if !known[id] {
			v.addf(field, "unknown rule ID")
		}
		v.severity(field+".severity", r.Severity)
	}
	for key, e := range cfg.Enforcement {
		field := "enforcement." + key
		if key != EnforcementAll && !isDomain(key) {
			v.addf(field, "unknown domain; valid values: %s, %s", EnforcementAll, strings.Join(Domains, ", "))
		}
		v.severity(field+".fail_on_severity", e.FailOnSeverity)
	}

	sort.SliceStable(v.errs, func(i, j int) bool { return v.errs[i].Field < v.errs[j].Field })
	var out []error
	for _, e := range v.errs {
		out = append(out, e)
	}
	return out
}
