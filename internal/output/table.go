package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
)

// ANSI color codes for severity output (used when Colored=true).
const (
	ansiReset   = "\033[0m"
	ansiBoldRed = "\033[1;31m"
	ansiRed     = "\033[0;31m"
	ansiYellow  = "\033[0;33m"
	ansiBlue    = "\033[0;34m"
)

// TableOptions controls which columns RenderTable renders and how severity is coloured.
type TableOptions struct {
	// Colored wraps severity labels with ANSI codes. Default false (CI-safe).
	Colored bool

	// IncludeProfile adds a PROFILE column (useful when scanning several profiles).
	IncludeProfile bool

	// IncludeStatus adds a STATUS column (notified, suppressed, notify_failed).
	IncludeStatus bool
}

// ColorSeverity wraps a severity string with ANSI codes when colored is true.
// When colored is false the string is returned unchanged (CI-safe default).
func ColorSeverity(sev models.Severity, colored bool) string {
	s := string(sev)
	if !colored {
		return s
	}
	if code := severityCode(sev); code != "" {
		return code + s + ansiReset
	}
	return s
}

func severityCode(sev models.Severity) string {
	switch sev {
	case models.SeverityCritical:
		return ansiBoldRed
	case models.SeverityHigh:
		return ansiRed
	case models.SeverityMedium:
		return ansiYellow
	case models.SeverityLow:
		return ansiBlue
	}
	return ""
}

// ShortenMessage truncates msg to at most limit runes, appending "..." when truncated.
// limit is treated as at least 4 to guarantee space for the ellipsis.
func ShortenMessage(msg string, limit int) string {
	if limit < 4 {
		limit = 4
	}
	runes := []rune(msg)
	if len(runes) <= limit {
		return msg
	}
	return string(runes[:limit-3]) + "..."
}

// severityCell returns the severity padded to width characters.
// ANSI codes wrap only the text so trailing padding stays aligned.
func severityCell(sev models.Severity, width int, colored bool) string {
	text := string(sev)
	code := severityCode(sev)
	if !colored || code == "" {
		return fmt.Sprintf("%-*s", width, text)
	}
	return code + text + ansiReset + strings.Repeat(" ", max(width-len(text), 0))
}

// truncateField shortens s to at most limit runes for ID/label columns.
func truncateField(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

// RenderTable writes a formatted findings table to w.
//
// Column order:
//
//	RESOURCE  [PROFILE]  KIND  REGION  SEVERITY  RULE  [STATUS]  MESSAGE
func RenderTable(w io.Writer, findings []models.Finding, opts TableOptions) {
	if len(findings) == 0 {
		fmt.Fprintln(w, "No findings.")
		return
	}

	const (
		wResource = 32
		wProfile  = 12
		wKind     = 9
		wRegion   = 14
		wSeverity = 10
		wRule     = 28
		wStatus   = 13
		wMessage  = 60
	)

	var hb strings.Builder
	fmt.Fprintf(&hb, "%-*s", wResource, "RESOURCE")
	if opts.IncludeProfile {
		fmt.Fprintf(&hb, "  %-*s", wProfile, "PROFILE")
	}
	fmt.Fprintf(&hb, "  %-*s  %-*s  %-*s  %-*s", wKind, "KIND", wRegion, "REGION", wSeverity, "SEVERITY", wRule, "RULE")
	if opts.IncludeStatus {
		fmt.Fprintf(&hb, "  %-*s", wStatus, "STATUS")
	}
	hb.WriteString("  MESSAGE")
	header := hb.String()

	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("-", len(header)))

	for _, f := range findings {
		var rb strings.Builder
		fmt.Fprintf(&rb, "%-*s", wResource, truncateField(f.Resource.ID, wResource))
		if opts.IncludeProfile {
			fmt.Fprintf(&rb, "  %-*s", wProfile, truncateField(f.Profile, wProfile))
		}
		fmt.Fprintf(&rb, "  %-*s", wKind, string(f.Resource.Kind))
		fmt.Fprintf(&rb, "  %-*s", wRegion, truncateField(f.Resource.Region, wRegion))
		rb.WriteString("  " + severityCell(f.Severity, wSeverity, opts.Colored))
		fmt.Fprintf(&rb, "  %-*s", wRule, truncateField(f.RuleID, wRule))
		if opts.IncludeStatus {
			fmt.Fprintf(&rb, "  %-*s", wStatus, string(f.Status))
		}
		rb.WriteString("  " + ShortenMessage(f.Explanation, wMessage))
		fmt.Fprintln(w, rb.String())
	}
}
