package policy

import "github.com/pankaj-dahiya-devops/posture-watch/internal/models"

// ApplyPolicy filters and rewrites findings of one domain according to cfg:
// domain disable, rule disable, severity override, then the domain's
// min_severity floor (evaluated after the override).
func ApplyPolicy(findings []models.Finding, domain string, cfg *PolicyConfig) []models.Finding {
	if cfg == nil {
		return findings
	}

	if !cfg.DomainEnabled(domain) {
		return []models.Finding{}
	}

	// An unrecognised floor ranks 0 and filters nothing.
	_, floor, _ := parseSeverity(cfg.Domains[domain].MinSeverity)

	var result []models.Finding
	for _, f := range findings {
		if !cfg.RuleEnabled(f.RuleID) {
			continue
		}
		if sev, _, ok := parseSeverity(cfg.Rules[f.RuleID].Severity); ok {
			f.Severity = sev
		}
		if severityRank[f.Severity] < floor {
			continue
		}
		result = append(result, f)
	}
	return result
}
