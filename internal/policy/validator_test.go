package policy_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/policy"
)

var knownRules = []string{"bucket-public-access", "role-unrestricted-access", "role-public-trust"}

func boolPtr(b bool) *bool { return &b }

// fields returns the Field of every FieldError in errs.
func fields(t *testing.T, errs []error) []string {
	t.Helper()
	var out []string
	for _, err := range errs {
		var fe *policy.FieldError
		if !errors.As(err, &fe) {
			t.Fatalf("error %v is not a *FieldError", err)
		}
		out = append(out, fe.Field)
	}
	return out
}

// ── valid configs ─────────────────────────────────────────────────────────────

func TestValidate_ValidConfigs(t *testing.T) {
	cases := map[string]*policy.PolicyConfig{
		"minimal": {Version: 1},
		"full": {
			Version: 1,
			Domains: map[string]policy.DomainConfig{
				"storage":  {Enabled: true, MinSeverity: "medium"},
				"identity": {Enabled: true, MinSeverity: "HIGH"},
				"compute":  {Enabled: false},
			},
			Rules: map[string]policy.RuleConfig{
				"bucket-public-access":     {Enabled: boolPtr(false)},
				"role-unrestricted-access": {Severity: "low"},
				"role-public-trust":        {Severity: "Critical"},
			},
			Enforcement: map[string]policy.EnforcementConfig{
				policy.EnforcementAll: {FailOnSeverity: "critical"},
				"identity":            {FailOnSeverity: "HIGH"},
			},
		},
		"empty severities": {
			Version:     1,
			Domains:     map[string]policy.DomainConfig{"storage": {Enabled: true}},
			Rules:       map[string]policy.RuleConfig{"role-public-trust": {}},
			Enforcement: map[string]policy.EnforcementConfig{"compute": {}},
		},
	}
	for name, cfg := range cases {
		if errs := policy.Validate(cfg, knownRules); len(errs) != 0 {
			t.Errorf("%s: expected no errors; got %v", name, errs)
		}
	}
}

func TestValidate_SeverityCaseInsensitive(t *testing.T) {
	for _, sev := range []string{"critical", "HIGH", "Medium", "low", "iNfO", " high "} {
		cfg := &policy.PolicyConfig{
			Version: 1,
			Rules:   map[string]policy.RuleConfig{"role-public-trust": {Severity: sev}},
		}
		if errs := policy.Validate(cfg, knownRules); len(errs) != 0 {
			t.Errorf("severity %q rejected: %v", sev, errs)
		}
	}
}

// ── invalid configs ───────────────────────────────────────────────────────────

func TestValidate_SingleProblems(t *testing.T) {
	cases := []struct {
		name  string
		cfg   *policy.PolicyConfig
		field string
	}{
		{"version 2", &policy.PolicyConfig{Version: 2}, "version"},
		{"version 0", &policy.PolicyConfig{}, "version"},
		{"unknown domain", &policy.PolicyConfig{Version: 1,
			Domains: map[string]policy.DomainConfig{"network": {Enabled: true}}}, "domains.network"},
		{"bad min_severity", &policy.PolicyConfig{Version: 1,
			Domains: map[string]policy.DomainConfig{"storage": {MinSeverity: "urgent"}}}, "domains.storage.min_severity"},
		{"unknown rule", &policy.PolicyConfig{Version: 1,
			Rules: map[string]policy.RuleConfig{"no-such-rule": {}}}, "rules.no-such-rule"},
		{"bad rule severity", &policy.PolicyConfig{Version: 1,
			Rules: map[string]policy.RuleConfig{"role-public-trust": {Severity: "P1"}}}, "rules.role-public-trust.severity"},
		{"unknown enforcement key", &policy.PolicyConfig{Version: 1,
			Enforcement: map[string]policy.EnforcementConfig{"network": {FailOnSeverity: "HIGH"}}}, "enforcement.network"},
		{"bad fail_on_severity", &policy.PolicyConfig{Version: 1,
			Enforcement: map[string]policy.EnforcementConfig{"all": {FailOnSeverity: "sev1"}}}, "enforcement.all.fail_on_severity"},
	}
	for _, tc := range cases {
		got := fields(t, policy.Validate(tc.cfg, knownRules))
		if len(got) != 1 || got[0] != tc.field {
			t.Errorf("%s: fields = %v; want [%s]", tc.name, got, tc.field)
		}
	}
}

func TestValidate_AllProblemsSortedByField(t *testing.T) {
	cfg := &policy.PolicyConfig{
		Version:     3,
		Domains:     map[string]policy.DomainConfig{"network": {MinSeverity: "urgent"}},
		Rules:       map[string]policy.RuleConfig{"ghost": {Severity: "LOW"}},
		Enforcement: map[string]policy.EnforcementConfig{"storage": {FailOnSeverity: "sev1"}},
	}
	got := fields(t, policy.Validate(cfg, knownRules))
	want := []string{
		"domains.network",
		"domains.network.min_severity",
		"enforcement.storage.fail_on_severity",
		"rules.ghost",
		"version",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("fields = %v\nwant     %v", got, want)
	}
}

func TestValidate_MessageNamesChoices(t *testing.T) {
	errs := policy.Validate(&policy.PolicyConfig{
		Version: 1,
		Domains: map[string]policy.DomainConfig{"network": {}},
	}, knownRules)
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "storage, identity, compute") {
		t.Errorf("got %v", errs)
	}
}

func TestValidate_NilConfig(t *testing.T) {
	if errs := policy.Validate(nil, knownRules); len(errs) != 1 {
		t.Errorf("nil config: got %v", errs)
	}
}
