package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/state"
)

// RenderStateEntries writes the fingerprints `pw state list` shows. Entries
// are expected in the order ScanState.Entries returns them.
func RenderStateEntries(w io.Writer, entries []state.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No fingerprints recorded.")
		return
	}
	const (
		wFingerprint = 32
		wRule        = 28
		wTime        = 20
	)
	header := fmt.Sprintf("%-*s  %-*s  %-*s  %-*s  RESOURCE",
		wFingerprint, "FINGERPRINT", wRule, "RULE", wTime, "FIRST SEEN", wTime, "LAST SEEN")
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("-", len(header)))
	for _, e := range entries {
		fmt.Fprintf(w, "%-*s  %-*s  %-*s  %-*s  %s\n",
			wFingerprint, e.Fingerprint,
			wRule, truncateField(e.RuleID, wRule),
			wTime, e.FirstSeen.UTC().Format(time.RFC3339),
			wTime, e.LastSeen.UTC().Format(time.RFC3339),
			e.ResourceKey)
	}
	fmt.Fprintf(w, "\n%d fingerprint(s)\n", len(entries))
}
