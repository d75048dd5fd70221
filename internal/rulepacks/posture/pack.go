// Package posture provides the posture rule pack.
// It groups every posture rule into a single New() function that the CLI
// wires into a DefaultRuleRegistry before building the scanner.
//
// Convention: every rule pack lives in internal/rulepacks/<domain>/pack.go
// and exposes a single New() func returning []rules.Rule.
package posture

import "github.com/pankaj-dahiya-devops/posture-watch/internal/rules"

// New returns the default posture rule pack.
func New() []rules.Rule {
	return []rules.Rule{
		rules.BucketPublicAccessRule{},        // HIGH:          bucket readable/writable by anyone
		rules.RoleUnrestrictedAccessRule{},    // HIGH/CRITICAL: Action or Resource "*"
		rules.RolePublicTrustRule{},           // CRITICAL:      role assumable by any principal
		rules.InstanceOpenSecurityGroupRule{}, // HIGH:          sensitive port open to 0.0.0.0/0 or ::/0
	}
}

// NewRegistry returns a DefaultRuleRegistry with the pack registered.
func NewRegistry() *rules.DefaultRuleRegistry {
	reg := rules.NewDefaultRuleRegistry()
	for _, r := range New() {
		reg.Register(r)
	}
	return reg
}
