package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
)

// RenderSummary writes the one-block scan summary printed after the table.
func RenderSummary(w io.Writer, r *models.ScanReport) {
	s := r.Summary
	fmt.Fprintf(w, "\nScan %s", r.ScanID)
	if r.AccountID != "" {
		fmt.Fprintf(w, "  account %s", r.AccountID)
	}
	if r.TimedOut {
		fmt.Fprint(w, "  (timed out)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  resources  scanned=%d skipped=%d\n", s.ResourcesScanned, s.ResourcesSkipped)
	fmt.Fprintf(w, "  findings   total=%d critical=%d high=%d medium=%d low=%d\n",
		s.TotalFindings, s.CriticalFindings, s.HighFindings, s.MediumFindings, s.LowFindings)
	fmt.Fprintf(w, "  notify     sent=%d suppressed=%d failed=%d\n", s.Notified, s.Suppressed, s.NotifyFailed)
	fmt.Fprintf(w, "  state      entries=%d collected=%d\n", s.StateEntries, s.StateCollected)
}

// RenderDiagnostics lists recoverable problems grouped by kind. Nothing is
// written when there are none.
func RenderDiagnostics(w io.Writer, diags []models.Diagnostic) {
	if len(diags) == 0 {
		return
	}
	fmt.Fprintf(w, "\nDiagnostics (%d):\n", len(diags))
	for _, d := range diags {
		var parts []string
		if d.ResourceKey != "" {
			parts = append(parts, d.ResourceKey)
		}
		if d.Stage != "" {
			parts = append(parts, "stage="+string(d.Stage))
		}
		if d.RuleID != "" {
			parts = append(parts, "rule="+d.RuleID)
		}
		fmt.Fprintf(w, "  %-20s %s: %s\n", d.Kind, strings.Join(parts, " "), d.Reason)
	}
}

// RenderReport writes the findings table, the summary and diagnostics.
func RenderReport(w io.Writer, r *models.ScanReport, opts TableOptions) {
	RenderTable(w, r.Findings, opts)
	RenderSummary(w, r)
	RenderDiagnostics(w, r.Diagnostics)
}

// WriteJSON writes r as indented JSON. Findings and resources are always
// arrays, never null.
func WriteJSON(w io.Writer, r *models.ScanReport) error {
	out := *r
	if out.Findings == nil {
		out.Findings = []models.Finding{}
	}
	if out.Resources == nil {
		out.Resources = []models.ResourceOutcome{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&out); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
