package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"
)

// Severity represents the impact level of a finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// SeverityRank maps Severity values to sort keys (lower = higher priority).
var SeverityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// FindingStatus records what the scan did with a finding.
type FindingStatus string

const (
	StatusNotified     FindingStatus = "notified"
	StatusSuppressed   FindingStatus = "suppressed"
	StatusNotifyFailed FindingStatus = "notify_failed"
)

// Finding is a single detected posture violation tied to one resource and
// one rule. It is the atomic output unit of the rule engine.
type Finding struct {
	ID             string         `json:"id"`
	RuleID         string         `json:"rule_id"`
	Resource       ResourceRef    `json:"resource"`
	Severity       Severity       `json:"severity"`
	Explanation    string         `json:"explanation"`
	Recommendation string         `json:"recommendation"`
	Fingerprint    string         `json:"fingerprint"`
	Profile        string         `json:"profile,omitempty"`
	DetectedAt     time.Time      `json:"detected_at"`
	Status         FindingStatus  `json:"status,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Fingerprint returns the deduplication key for (resourceKey, ruleID).
// It deliberately ignores explanation text and severity so that the same
// root cause keeps its identity across scans.
func Fingerprint(resourceKey, ruleID string) string {
	sum := sha256.Sum256([]byte(resourceKey + "\x00" + ruleID))
	return hex.EncodeToString(sum[:16])
}

// SortFindings sorts in place: severity descending, then rule ID, then
// resource key, so reports are stable across runs.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		ri := SeverityRank[findings[i].Severity]
		rj := SeverityRank[findings[j].Severity]
		if ri != rj {
			return ri < rj
		}
		if findings[i].RuleID != findings[j].RuleID {
			return findings[i].RuleID < findings[j].RuleID
		}
		return findings[i].Resource.Key() < findings[j].Resource.Key()
	})
}
