package notify

import (
	"fmt"
	"strings"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
)

var kindLabel = map[models.ResourceKind]string{
	models.KindBucket:   "bucket",
	models.KindRole:     "role",
	models.KindInstance: "instance",
}

var providerLabel = map[string]string{
	"aws": "AWS",
	"gcp": "GCP",
}

func label(f models.Finding) string {
	p := providerLabel[f.Resource.Provider]
	if p == "" {
		p = strings.ToUpper(f.Resource.Provider)
	}
	return p + " " + kindLabel[f.Resource.Kind] + " " + f.Resource.ID
}

var ruleHeadline = map[string]string{
	"bucket-public-access":         "is publicly accessible",
	"role-unrestricted-access":     "grants unrestricted access",
	"role-public-trust":            "can be assumed by anyone",
	"instance-open-security-group": "exposes sensitive ports to the internet",
}

// Subject is a one-line summary such as
// "[HIGH] AWS bucket logs is publicly accessible".
func Subject(f models.Finding) string {
	headline := ruleHeadline[f.RuleID]
	if headline == "" {
		headline = "violates " + f.RuleID
	}
	return fmt.Sprintf("[%s] %s %s", f.Severity, label(f), headline)
}

// Body renders the full plain-text alert.
func Body(f models.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", Subject(f))
	fmt.Fprintf(&b, "Resource:     %s\n", f.Resource.Key())
	if f.Resource.Region != "" {
		fmt.Fprintf(&b, "Region:       %s\n", f.Resource.Region)
	}
	fmt.Fprintf(&b, "Rule:         %s\n", f.RuleID)
	fmt.Fprintf(&b, "Severity:     %s\n", f.Severity)
	if f.Profile != "" {
		fmt.Fprintf(&b, "Profile:      %s\n", f.Profile)
	}
	fmt.Fprintf(&b, "Detected at:  %s\n", f.DetectedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "Fingerprint:  %s\n\n", f.Fingerprint)
	fmt.Fprintf(&b, "%s\n", f.Explanation)
	if f.Recommendation != "" {
		fmt.Fprintf(&b, "\nRecommendation: %s\n", f.Recommendation)
	}
	return b.String()
}
