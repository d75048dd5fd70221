package policy

import "github.com/pankaj-dahiya-devops/posture-watch/internal/models"

// ShouldFail reports whether a finding reaches the fail_on_severity of the
// enforcement block named domain. A nil cfg, a missing block or an
// unrecognised severity never fails.
func ShouldFail(domain string, findings []models.Finding, cfg *PolicyConfig) bool {
	if cfg == nil {
		return false
	}
	_, threshold, ok := parseSeverity(cfg.Enforcement[domain].FailOnSeverity)
	if !ok {
		return false
	}
	for _, f := range findings {
		if r, ok := severityRank[f.Severity]; ok && r >= threshold {
			return true
		}
	}
	return false
}

// ShouldFailScan applies ShouldFail to a whole scan: each finding is
// checked against its own domain's enforcement block and the "all" block.
func ShouldFailScan(findings []models.Finding, cfg *PolicyConfig) bool {
	if cfg == nil {
		return false
	}
	if ShouldFail(EnforcementAll, findings, cfg) {
		return true
	}
	byDomain := make(map[string][]models.Finding)
	for _, f := range findings {
		d := f.Resource.Kind.Domain()
		byDomain[d] = append(byDomain[d], f)
	}
	for d, fs := range byDomain {
		if ShouldFail(d, fs, cfg) {
			return true
		}
	}
	return false
}
