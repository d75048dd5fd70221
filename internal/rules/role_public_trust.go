package rules

import (
	"fmt"
	"strings"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
)

// RolePublicTrustRule flags roles whose trust policy lets any principal
// assume them without a condition.
type RolePublicTrustRule struct{}

func (r RolePublicTrustRule) ID() string   { return "role-public-trust" }
func (r RolePublicTrustRule) Name() string { return "Role Assumable By Anyone" }

func (r RolePublicTrustRule) Kinds() []models.ResourceKind {
	return []models.ResourceKind{models.KindRole}
}

func (r RolePublicTrustRule) Evaluate(ctx RuleContext) ([]models.Finding, error) {
	role, ok := ctx.Resource.(*models.Role)
	if !ok {
		return nil, scanerr.Skip(r.ID(), fmt.Sprintf("resource is %T, not a role", ctx.Resource))
	}
	if role.TrustPolicy == nil {
		return nil, scanerr.Skip(r.ID(), "trust policy not available")
	}

	var matches []string
	for i, s := range role.TrustPolicy.Statements {
		if s.Allows() && s.HasWildcardPrincipal() && !s.HasCondition && allowsAssume(s.Actions) {
			matches = append(matches, statementLabel(s, i))
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}

	f := newFinding(ctx, r.ID(), models.SeverityCritical,
		fmt.Sprintf("Role %s can be assumed by any principal (trust statements %s).", role.Name, strings.Join(matches, ", ")),
		"Restrict the trust policy principal to specific accounts or services, or add an ExternalId / source condition.",
	)
	f.Metadata = map[string]any{"statements": matches, "role_arn": role.ARN}
	return []models.Finding{f}, nil
}

func allowsAssume(actions []string) bool {
	for _, a := range actions {
		la := strings.ToLower(a)
		if la == "*" || la == "sts:*" || strings.HasPrefix(la, "sts:assumerole") {
			return true
		}
	}
	return false
}
