package policy

// PolicyConfig is the parsed posture policy file (pw.yaml).
//
// Domains are keyed by policy domain ("storage", "identity", "compute"),
// rules by rule ID, and enforcement by domain or "all".
type PolicyConfig struct {
	Version     int                          `yaml:"version"`
	Domains     map[string]DomainConfig      `yaml:"domains"`
	Rules       map[string]RuleConfig        `yaml:"rules"`
	Enforcement map[string]EnforcementConfig `yaml:"enforcement"`
}

// DomainConfig toggles a whole domain and sets its reporting floor.
type DomainConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MinSeverity string `yaml:"min_severity,omitempty"`
}

// RuleConfig disables a rule or overrides its severity.
type RuleConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	Severity string `yaml:"severity,omitempty"`
}

// EnforcementConfig makes `pw scan` exit non-zero when a finding at or
// above FailOnSeverity is present.
type EnforcementConfig struct {
	FailOnSeverity string `yaml:"fail_on_severity"`
}

// EnforcementAll is the enforcement key that applies to every domain.
const EnforcementAll = "all"

// RuleEnabled reports whether ruleID is enabled under cfg. Rules are
// enabled unless explicitly disabled; a nil cfg enables everything.
func (cfg *PolicyConfig) RuleEnabled(ruleID string) bool {
	if cfg == nil {
		return true
	}
	rc, ok := cfg.Rules[ruleID]
	return !ok || rc.Enabled == nil || *rc.Enabled
}

// DomainEnabled reports whether domain is enabled under cfg. Domains not
// listed are enabled.
func (cfg *PolicyConfig) DomainEnabled(domain string) bool {
	if cfg == nil {
		return true
	}
	d, ok := cfg.Domains[domain]
	return !ok || d.Enabled
}
