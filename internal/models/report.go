package models

import "time"

// Stage is a step of a single resource's processing.
type Stage string

const (
	StageEnumerated   Stage = "enumerated"
	StageNormalized   Stage = "normalized"
	StageEvaluated    Stage = "evaluated"
	StageDeduplicated Stage = "deduplicated"
	StageNotified     Stage = "notified"
	StageSuppressed   Stage = "suppressed"
	StageSkipped      Stage = "skipped"
)

// DiagnosticKind classifies a recoverable problem recorded during a scan.
type DiagnosticKind string

const (
	DiagMalformedResource   DiagnosticKind = "MalformedResource"
	DiagRuleSkipped         DiagnosticKind = "RuleSkipped"
	DiagResourceUnreachable DiagnosticKind = "ResourceUnreachable"
	DiagNotificationFailed  DiagnosticKind = "NotificationFailed"
	DiagScanTimeout         DiagnosticKind = "ScanTimeout"
)

// Diagnostic is a recoverable error kept in the report instead of aborting
// the scan.
type Diagnostic struct {
	Kind        DiagnosticKind `json:"kind"`
	ResourceKey string         `json:"resource_key,omitempty"`
	Stage       Stage          `json:"stage,omitempty"`
	RuleID      string         `json:"rule_id,omitempty"`
	Reason      string         `json:"reason"`
}

// ResourceOutcome is the terminal state of one resource in a scan.
type ResourceOutcome struct {
	Resource ResourceRef `json:"resource"`
	// Stage is the terminal stage: notified, suppressed, evaluated (no
	// findings) or skipped.
	Stage    Stage  `json:"stage"`
	Reason   string `json:"reason,omitempty"`
	Findings int    `json:"findings"`
}

// ScanSummary aggregates counts across one scan.
type ScanSummary struct {
	ResourcesScanned int `json:"resources_scanned"`
	ResourcesSkipped int `json:"resources_skipped"`
	TotalFindings    int `json:"total_findings"`
	Notified         int `json:"notified"`
	Suppressed       int `json:"suppressed"`
	NotifyFailed     int `json:"notify_failed"`
	CriticalFindings int `json:"critical_findings"`
	HighFindings     int `json:"high_findings"`
	MediumFindings   int `json:"medium_findings"`
	LowFindings      int `json:"low_findings"`
	StateEntries     int `json:"state_entries"`
	StateCollected   int `json:"state_collected"`
}

// ScanReport is the top-level output of one scan pass.
type ScanReport struct {
	ScanID      string            `json:"scan_id"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	Profile     string            `json:"profile,omitempty"`
	AccountID   string            `json:"account_id,omitempty"`
	Regions     []string          `json:"regions,omitempty"`
	TimedOut    bool              `json:"timed_out"`
	Summary     ScanSummary       `json:"summary"`
	Findings    []Finding         `json:"findings"`
	Resources   []ResourceOutcome `json:"resources"`
	Diagnostics []Diagnostic      `json:"diagnostics,omitempty"`
}

// ComputeSummary fills the finding and resource counts of s from findings
// and outcomes. State counters are left untouched.
func ComputeSummary(s *ScanSummary, findings []Finding, outcomes []ResourceOutcome) {
	s.TotalFindings = len(findings)
	s.Notified, s.Suppressed, s.NotifyFailed = 0, 0, 0
	s.CriticalFindings, s.HighFindings, s.MediumFindings, s.LowFindings = 0, 0, 0, 0
	for _, f := range findings {
		switch f.Status {
		case StatusNotified:
			s.Notified++
		case StatusSuppressed:
			s.Suppressed++
		case StatusNotifyFailed:
			s.NotifyFailed++
		}
		switch f.Severity {
		case SeverityCritical:
			s.CriticalFindings++
		case SeverityHigh:
			s.HighFindings++
		case SeverityMedium:
			s.MediumFindings++
		case SeverityLow:
			s.LowFindings++
		}
	}
	s.ResourcesScanned, s.ResourcesSkipped = 0, 0
	for _, o := range outcomes {
		if o.Stage == StageSkipped {
			s.ResourcesSkipped++
			continue
		}
		s.ResourcesScanned++
	}
}
