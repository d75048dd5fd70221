package rules

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
)

// RoleUnrestrictedAccessRule flags roles whose inline policies contain an
// Allow statement with Action "*" or Resource "*". Every statement of every
// inline policy is checked.
type RoleUnrestrictedAccessRule struct{}

func (r RoleUnrestrictedAccessRule) ID() string   { return "role-unrestricted-access" }
func (r RoleUnrestrictedAccessRule) Name() string { return "Role With Unrestricted Access" }

func (r RoleUnrestrictedAccessRule) Kinds() []models.ResourceKind {
	return []models.ResourceKind{models.KindRole}
}

// Evaluate returns at most one finding per role. Severity is CRITICAL when
// some statement allows every action on every resource, HIGH otherwise.
func (r RoleUnrestrictedAccessRule) Evaluate(ctx RuleContext) ([]models.Finding, error) {
	role, ok := ctx.Resource.(*models.Role)
	if !ok {
		return nil, scanerr.Skip(r.ID(), fmt.Sprintf("resource is %T, not a role", ctx.Resource))
	}
	if !role.PoliciesKnown {
		return nil, scanerr.Skip(r.ID(), "inline policies could not be read")
	}

	var matches []string
	fullAdmin := false
	for _, p := range role.Policies {
		for i, s := range p.Document.Statements {
			if !s.Allows() {
				continue
			}
			anyAction := slices.Contains(s.Actions, "*")
			anyResource := slices.Contains(s.Resources, "*")
			if !anyAction && !anyResource {
				continue
			}
			if anyAction && anyResource {
				fullAdmin = true
			}
			matches = append(matches, p.Name+"/"+statementLabel(s, i))
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}

	sev := models.SeverityHigh
	if fullAdmin {
		sev = models.SeverityCritical
	}
	f := newFinding(ctx, r.ID(), sev,
		fmt.Sprintf("Role %s has unrestricted access via %s.", role.Name, strings.Join(matches, ", ")),
		"Scope Action and Resource to the specific operations and ARNs the role needs.",
	)
	f.Metadata = map[string]any{
		"statements": matches,
		"role_arn":   role.ARN,
	}
	return []models.Finding{f}, nil
}
