package policy

import (
	"testing"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
)

func enforce(blocks map[string]string) *PolicyConfig {
	cfg := &PolicyConfig{Enforcement: make(map[string]EnforcementConfig, len(blocks))}
	for name, sev := range blocks {
		cfg.Enforcement[name] = EnforcementConfig{FailOnSeverity: sev}
	}
	return cfg
}

// ── ShouldFail ────────────────────────────────────────────────────────────────

func TestShouldFail_Thresholds(t *testing.T) {
	openBucket := postureFinding(ruleBucketPublic, models.KindBucket, "assets", models.SeverityHigh)
	cases := []struct {
		name      string
		threshold string
		findings  []models.Finding
		want      bool
	}{
		{"at threshold", "HIGH", []models.Finding{openBucket}, true},
		{"lowercase threshold", "high", []models.Finding{openBucket}, true},
		{"above threshold", "MEDIUM", []models.Finding{openBucket}, true},
		{"below threshold", "CRITICAL", []models.Finding{openBucket}, false},
		{"no findings", "INFO", nil, false},
		{"unrecognised threshold", "SEV0", []models.Finding{openBucket}, false},
		{"unknown finding severity", "INFO", []models.Finding{postureFinding(ruleBucketPublic, models.KindBucket, "b", "URGENT")}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := enforce(map[string]string{"storage": tc.threshold})
			if got := ShouldFail("storage", tc.findings, cfg); got != tc.want {
				t.Errorf("ShouldFail(storage, fail_on=%s): got %v; want %v", tc.threshold, got, tc.want)
			}
		})
	}
}

func TestShouldFail_NilOrMissingBlock(t *testing.T) {
	critical := []models.Finding{postureFinding(rulePublicTrust, models.KindRole, "open-trust", models.SeverityCritical)}
	if ShouldFail("identity", critical, nil) {
		t.Error("nil cfg must not fail")
	}
	if ShouldFail("identity", critical, &PolicyConfig{}) {
		t.Error("absent enforcement section must not fail")
	}
	if ShouldFail("identity", critical, enforce(map[string]string{"storage": "LOW"})) {
		t.Error("storage block must not decide identity")
	}
}

// ── ShouldFailScan ────────────────────────────────────────────────────────────

func TestShouldFailScan_IdentityBlockIgnoresBucketSeverity(t *testing.T) {
	cfg := enforce(map[string]string{"identity": "CRITICAL"})
	scan := []models.Finding{
		postureFinding(ruleUnrestricted, models.KindRole, "deployer", models.SeverityHigh),
		postureFinding(ruleBucketPublic, models.KindBucket, "assets", models.SeverityCritical),
	}
	if ShouldFailScan(scan, cfg) {
		t.Error("CRITICAL bucket finding must not trip identity enforcement")
	}
	scan = append(scan, postureFinding(rulePublicTrust, models.KindRole, "open-trust", models.SeverityCritical))
	if !ShouldFailScan(scan, cfg) {
		t.Error("CRITICAL role-public-trust finding must trip identity enforcement")
	}
}

func TestShouldFailScan_DomainAndAllBlocksTogether(t *testing.T) {
	// compute fails on HIGH, everything else only on CRITICAL.
	cfg := enforce(map[string]string{"compute": "HIGH", EnforcementAll: "CRITICAL"})
	cases := []struct {
		name     string
		findings []models.Finding
		want     bool
	}{
		{
			name:     "open security group trips compute block",
			findings: []models.Finding{postureFinding(ruleOpenGroup, models.KindInstance, "i-0abc", models.SeverityHigh)},
			want:     true,
		},
		{
			name: "HIGH outside compute stays under all block",
			findings: []models.Finding{
				postureFinding(ruleBucketPublic, models.KindBucket, "assets", models.SeverityHigh),
				postureFinding(ruleUnrestricted, models.KindRole, "deployer", models.SeverityHigh),
			},
			want: false,
		},
		{
			name:     "CRITICAL trust finding trips all block",
			findings: []models.Finding{postureFinding(rulePublicTrust, models.KindRole, "open-trust", models.SeverityCritical)},
			want:     true,
		},
		{
			name:     "MEDIUM instance clears both",
			findings: []models.Finding{postureFinding(ruleOpenGroup, models.KindInstance, "i-0abc", models.SeverityMedium)},
			want:     false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ShouldFailScan(tc.findings, cfg); got != tc.want {
				t.Errorf("got %v; want %v", got, tc.want)
			}
		})
	}
}

func TestShouldFailScan_AfterApplyPolicy(t *testing.T) {
	// A severity override decides enforcement once ApplyPolicy has run.
	cfg := decodePolicy(t, `
version: 1
rules:
  role-unrestricted-access: {severity: CRITICAL}
enforcement:
  identity: {fail_on_severity: CRITICAL}
`)
	raw := []models.Finding{postureFinding(ruleUnrestricted, models.KindRole, "deployer", models.SeverityHigh)}
	if ShouldFailScan(raw, cfg) {
		t.Fatal("raw HIGH finding must not fail before the override is applied")
	}
	if !ShouldFailScan(ApplyPolicy(raw, "identity", cfg), cfg) {
		t.Error("overridden CRITICAL finding must fail the scan")
	}
}

func TestShouldFailScan_NilConfig(t *testing.T) {
	if ShouldFailScan([]models.Finding{postureFinding(rulePublicTrust, models.KindRole, "open-trust", models.SeverityCritical)}, nil) {
		t.Error("nil cfg must return false")
	}
}
