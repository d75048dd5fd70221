package policy

import (
	"slices"
	"strings"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
)

// Domains lists the policy domains. Each resource kind belongs to one
// (see models.ResourceKind.Domain).
var Domains = []string{"storage", "identity", "compute"}

var severityRank = map[models.Severity]int{
	models.SeverityCritical: 5,
	models.SeverityHigh:     4,
	models.SeverityMedium:   3,
	models.SeverityLow:      2,
	models.SeverityInfo:     1,
}

// parseSeverity accepts a severity name in any case.
func parseSeverity(s string) (models.Severity, int, bool) {
	sev := models.Severity(strings.ToUpper(strings.TrimSpace(s)))
	rank, ok := severityRank[sev]
	return sev, rank, ok
}

func isDomain(name string) bool { return slices.Contains(Domains, name) }
